package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/soyeahso/fichabot/internal/domain"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// minFuzzyScore is the acceptance threshold for fuzzy candidate matching.
const minFuzzyScore = 0.4

// spanishNumbers maps number words accepted in disambiguation replies.
var spanishNumbers = map[string]int{
	"uno": 1, "una": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10,
	"once": 11, "doce": 12, "trece": 13, "catorce": 14, "quince": 15,
	"dieciseis": 16, "diecisiete": 17, "dieciocho": 18, "diecinueve": 19,
	"veinte": 20,
}

var leadingIntRe = regexp.MustCompile(`^\s*(\d+)`)

// cancellationWords end a pending disambiguation without choosing.
var cancellationWords = map[string]bool{
	"cancelar": true, "cancela": true, "no": true, "dejalo": true,
}

// IsCancellation reports whether the reply abandons the pending question.
func IsCancellation(reply string) bool {
	return cancellationWords[Normalize(reply)]
}

// IsAffirmation reports whether the reply confirms a yes/no question.
func IsAffirmation(reply string) bool {
	switch Normalize(reply) {
	case "si", "vale", "ok", "confirmo", "claro":
		return true
	}
	return false
}

// Resolve picks a candidate from the user's reply.
//
// A leading integer (digits or a Spanish number word up to twenty) selects
// candidates[n-1]; an out-of-range number is a definitive no-match and never
// falls through to fuzzy matching. Without a number, the reply is fuzzily
// matched against each candidate's parent node and full path; the best
// global score wins if it reaches the threshold.
func Resolve(reply string, candidates []domain.Candidate) (domain.Candidate, bool) {
	if len(candidates) == 0 {
		return domain.Candidate{}, false
	}

	if n, ok := leadingNumber(reply); ok {
		if n < 1 || n > len(candidates) {
			return domain.Candidate{}, false
		}
		return candidates[n-1], true
	}

	normReply := Normalize(reply)
	if normReply == "" {
		return domain.Candidate{}, false
	}

	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := similarity(normReply, Normalize(c.ParentNodeName))
		if s := similarity(normReply, Normalize(c.FullPath)); s > score {
			score = s
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	if best < 0 || bestScore < minFuzzyScore {
		return domain.Candidate{}, false
	}
	return candidates[best], true
}

// leadingNumber extracts a leading integer from the reply, accepting digits
// or Spanish number words.
func leadingNumber(reply string) (int, bool) {
	if m := leadingIntRe.FindStringSubmatch(reply); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return n, true
	}

	fields := strings.Fields(Normalize(reply))
	if len(fields) == 0 {
		return 0, false
	}
	if n, ok := spanishNumbers[fields[0]]; ok {
		return n, true
	}
	return 0, false
}

// diacriticStripper removes combining marks after NFD decomposition.
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases and strips diacritics for comparison.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		return s
	}
	return out
}

// similarity is an edit-distance ratio in [0,1] over normalized strings.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	return 1 - float64(dist)/float64(longest)
}
