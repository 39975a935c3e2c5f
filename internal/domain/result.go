package domain

import "encoding/json"

// Candidate is one possible resolution of an ambiguous project name,
// identified by its position in the organizational hierarchy.
type Candidate struct {
	ProjectName    string  `json:"projectName"`
	ParentNodeName string  `json:"parentNodeName"`
	FullPath       string  `json:"fullPath"`
	TotalHours     float64 `json:"totalHours,omitempty"`
}

// ActionResult is the outcome of one Action: a message, or a request for
// user disambiguation/confirmation. The variant set is closed.
type ActionResult interface {
	isResult()
}

// Text is a plain outcome message for the response generator.
type Text string

// NeedsDisambiguation signals that a project name matched several hierarchy
// locations and the user must pick one.
type NeedsDisambiguation struct {
	Project    string      `json:"project"`
	Candidates []Candidate `json:"candidates"`
}

// NeedsConfirmation signals that an existing in-table match was found and
// the user must confirm before it is reused.
type NeedsConfirmation struct {
	Project    string      `json:"project"`
	Candidates []Candidate `json:"candidates"`
}

func (Text) isResult()                {}
func (NeedsDisambiguation) isResult() {}
func (NeedsConfirmation) isResult()   {}

// resultEnvelope is the structured wire form of non-text results.
type resultEnvelope struct {
	Type       string      `json:"type"`
	Project    string      `json:"project"`
	Candidates []Candidate `json:"candidates"`
}

// MarshalResult renders an ActionResult in its wire shape: a bare JSON
// string for Text, or a typed object for interactive results.
func MarshalResult(r ActionResult) ([]byte, error) {
	switch v := r.(type) {
	case Text:
		return json.Marshal(string(v))
	case NeedsDisambiguation:
		return json.Marshal(resultEnvelope{
			Type:       "needs_disambiguation",
			Project:    v.Project,
			Candidates: v.Candidates,
		})
	case NeedsConfirmation:
		return json.Marshal(resultEnvelope{
			Type:       "needs_confirmation",
			Project:    v.Project,
			Candidates: v.Candidates,
		})
	default:
		return json.Marshal(nil)
	}
}

// MarshalResults renders a result list as a JSON array in wire shape.
func MarshalResults(rs []ActionResult) ([]byte, error) {
	parts := make([]json.RawMessage, 0, len(rs))
	for _, r := range rs {
		b, err := MarshalResult(r)
		if err != nil {
			return nil, err
		}
		parts = append(parts, b)
	}
	return json.Marshal(parts)
}
