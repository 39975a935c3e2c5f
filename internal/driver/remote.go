package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/logging"
)

// RemoteOpener talks to the browser-automation sidecar over HTTP.
// Each opened handle maps to one sidecar browser context.
type RemoteOpener struct {
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

// NewRemoteOpener creates an opener for the sidecar at baseURL.
func NewRemoteOpener(baseURL string, timeout time.Duration, log *logging.Logger) *RemoteOpener {
	return &RemoteOpener{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.Sub("driver"),
	}
}

// Open asks the sidecar for a fresh browser context.
func (o *RemoteOpener) Open(ctx context.Context, userID string) (Handle, error) {
	var resp struct {
		ContextID string `json:"contextId"`
	}
	err := o.do(ctx, "open", map[string]any{"userId": userID}, &resp)
	if err != nil {
		return nil, err
	}
	o.log.Info().Str("user", userID).Str("contextId", resp.ContextID).Msg("browser context opened")
	return &remoteHandle{opener: o, contextID: resp.ContextID}, nil
}

// sidecarError is the sidecar's error payload.
type sidecarError struct {
	Kind    string `json:"kind"` // "transient" | "critical" | "infra" | "auth"
	Message string `json:"message"`
}

func (o *RemoteOpener) do(ctx context.Context, op string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewError(KindInfra, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/"+op, bytes.NewReader(body))
	if err != nil {
		return NewError(KindInfra, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return NewError(KindInfra, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewError(KindInfra, op, err)
	}

	if resp.StatusCode != http.StatusOK {
		var se sidecarError
		if json.Unmarshal(data, &se) == nil && se.Kind != "" {
			return NewError(parseKind(se.Kind), op, fmt.Errorf("%s", se.Message))
		}
		return NewError(KindInfra, op, fmt.Errorf("sidecar returned %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return NewError(KindInfra, op, fmt.Errorf("decoding %s response: %w", op, err))
		}
	}
	return nil
}

func parseKind(s string) ErrorKind {
	switch s {
	case "transient":
		return KindTransient
	case "critical":
		return KindCritical
	case "auth":
		return KindAuth
	case "infra":
		return KindInfra
	default:
		return KindUnknown
	}
}

// remoteHandle proxies Handle operations to one sidecar browser context.
type remoteHandle struct {
	opener    *RemoteOpener
	contextID string
}

func (h *remoteHandle) call(ctx context.Context, op string, extra map[string]any, out any) error {
	payload := map[string]any{"contextId": h.contextID}
	for k, v := range extra {
		payload[k] = v
	}
	return h.opener.do(ctx, op, payload, out)
}

func (h *remoteHandle) Login(ctx context.Context, creds domain.Credentials) error {
	return h.call(ctx, "login", map[string]any{
		"username": creds.Username,
		"password": creds.Password,
	}, nil)
}

func (h *remoteHandle) NavigateToDate(ctx context.Context, date time.Time) error {
	return h.call(ctx, "navigate", map[string]any{"date": date.Format("2006-01-02")}, nil)
}

func (h *remoteHandle) GoBack(ctx context.Context) error {
	return h.call(ctx, "back", nil, nil)
}

func (h *remoteHandle) ResolveOrCreateProjectRow(ctx context.Context, name, parent string) (Resolution, error) {
	var resp struct {
		Status     string             `json:"status"`
		RowID      string             `json:"rowId"`
		Candidates []domain.Candidate `json:"candidates"`
	}
	err := h.call(ctx, "resolve-row", map[string]any{"name": name, "parent": parent}, &resp)
	if err != nil {
		return Resolution{}, err
	}
	st := ResolutionStatus(resp.Status)
	// An interactive status without candidates is unanswerable and must not
	// reach the pipeline.
	if (st == StatusAmbiguous || st == StatusNeedsConfirmation) && len(resp.Candidates) == 0 {
		return Resolution{}, NewError(KindInfra, "resolve-row", fmt.Errorf("sidecar returned status %q without candidates", resp.Status))
	}
	return Resolution{
		Status:     st,
		Row:        RowRef{ID: resp.RowID},
		Candidates: resp.Candidates,
	}, nil
}

func (h *remoteHandle) WriteHours(ctx context.Context, row RowRef, day string, hours float64, mode domain.HoursMode) error {
	return h.call(ctx, "write-hours", map[string]any{
		"rowId": row.ID,
		"day":   day,
		"hours": hours,
		"mode":  string(mode),
	}, nil)
}

func (h *remoteHandle) WriteWeek(ctx context.Context, row RowRef) error {
	return h.call(ctx, "write-week", map[string]any{"rowId": row.ID}, nil)
}

func (h *remoteHandle) ClearHours(ctx context.Context, row RowRef, day string) error {
	return h.call(ctx, "clear-hours", map[string]any{"rowId": row.ID, "day": day}, nil)
}

func (h *remoteHandle) DeleteRow(ctx context.Context, row RowRef, name string) error {
	return h.call(ctx, "delete-row", map[string]any{"rowId": row.ID, "name": name}, nil)
}

func (h *remoteHandle) CopyPreviousWeek(ctx context.Context) error {
	return h.call(ctx, "copy-previous-week", nil, nil)
}

func (h *remoteHandle) Save(ctx context.Context) error {
	return h.call(ctx, "save", nil, nil)
}

func (h *remoteHandle) Emit(ctx context.Context) error {
	return h.call(ctx, "emit", nil, nil)
}

func (h *remoteHandle) StartShift(ctx context.Context) error {
	return h.call(ctx, "start-shift", nil, nil)
}

func (h *remoteHandle) EndShift(ctx context.Context) error {
	return h.call(ctx, "end-shift", nil, nil)
}

func (h *remoteHandle) Reset(ctx context.Context) error {
	return h.call(ctx, "reset", nil, nil)
}

func (h *remoteHandle) Close(ctx context.Context) error {
	return h.call(ctx, "close", nil, nil)
}
