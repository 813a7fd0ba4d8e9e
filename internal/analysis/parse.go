package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"mailflow/internal/model"
)

const (
	maxGistRunes    = 200
	maxPreviewRunes = 100
)

type rawResult struct {
	Gist         *string
	HasEvent     bool
	EventDetails model.EventDetails
	Priority     string
	ActionItems  []string
	Category     string
	Sentiment    string
}

// ParseResponse turns raw model output into a result. It never fails: output
// that cannot be decoded, or that has no gist, yields a fallback result.
func ParseResponse(raw string, item *model.InputItem) *model.AnalysisResult {
	parsed, ok := decode(raw)
	if !ok || parsed.Gist == nil {
		return fallbackResult(raw, item)
	}

	result := &model.AnalysisResult{
		Gist:         strings.TrimSpace(*parsed.Gist),
		HasEvent:     parsed.HasEvent,
		EventDetails: parsed.EventDetails,
		Priority:     model.Priority(parsed.Priority),
		ActionItems:  parsed.ActionItems,
		Category:     parsed.Category,
		Sentiment:    strings.ToLower(strings.TrimSpace(parsed.Sentiment)),
	}
	if result.Gist == "" {
		result.Gist = fallbackGist(raw, item)
	}
	result.Normalize()
	return result
}

// decode reads each field on its own so that a field of the wrong type only
// loses that field, not the whole answer.
func decode(raw string) (rawResult, bool) {
	body, ok := extractObject(raw)
	if !ok {
		return rawResult{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return rawResult{}, false
		}
		fields = nil
		if err := json.Unmarshal([]byte(repaired), &fields); err != nil {
			return rawResult{}, false
		}
	}

	var out rawResult
	if g, ok := stringField(fields["gist"]); ok {
		out.Gist = &g
	}
	out.HasEvent = boolField(fields["hasEvent"])
	if v, ok := fields["eventDetails"]; ok {
		if err := json.Unmarshal(v, &out.EventDetails); err != nil {
			out.EventDetails = model.NoEvents()
		}
	}
	out.Priority, _ = stringField(fields["priority"])
	out.ActionItems = listField(fields["actionItems"])
	out.Category, _ = stringField(fields["category"])
	out.Sentiment, _ = stringField(fields["sentiment"])
	return out, true
}

func stringField(v json.RawMessage) (string, bool) {
	var s string
	if len(v) == 0 || string(v) == "null" || json.Unmarshal(v, &s) != nil {
		return "", false
	}
	return s, true
}

// boolField accepts true, "true", "yes" and non-zero numbers.
func boolField(v json.RawMessage) bool {
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return b
	}
	if s, ok := stringField(v); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			return true
		}
		return false
	}
	var n float64
	if json.Unmarshal(v, &n) == nil {
		return n != 0
	}
	return false
}

// listField accepts a list of strings, a single string, or a mixed list from
// which only the strings are kept.
func listField(v json.RawMessage) []string {
	var list []string
	if json.Unmarshal(v, &list) == nil {
		return list
	}
	if s, ok := stringField(v); ok {
		return []string{s}
	}
	var mixed []any
	if json.Unmarshal(v, &mixed) == nil {
		for _, m := range mixed {
			if s, ok := m.(string); ok {
				list = append(list, s)
			}
		}
	}
	return list
}

// extractObject returns raw from the first '{' to the last '}'.
func extractObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

func fallbackResult(raw string, item *model.InputItem) *model.AnalysisResult {
	return &model.AnalysisResult{
		Gist:         fallbackGist(raw, item),
		HasEvent:     false,
		EventDetails: model.NoEvents(),
		Priority:     model.PriorityMedium,
		ActionItems:  []string{},
		Category:     model.CategoryOther,
		Fallback:     true,
	}
}

// fallbackGist prefers the raw text, capped at 200 characters, and otherwise
// summarises the item itself. The result is never empty.
func fallbackGist(raw string, item *model.InputItem) string {
	if raw = strings.TrimSpace(raw); raw != "" {
		return capRunes(raw, maxGistRunes)
	}

	sender, subject, body := "unknown sender", "(no subject)", ""
	if item != nil {
		if s := strings.TrimSpace(item.Sender); s != "" {
			sender = s
		}
		if s := strings.TrimSpace(item.Subject); s != "" {
			subject = s
		}
		body = strings.Join(strings.Fields(item.Body), " ")
	}

	gist := fmt.Sprintf("Email from %s: %s", sender, subject)
	if body != "" {
		gist += " - " + capRunes(body, maxPreviewRunes)
	}
	return gist
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
