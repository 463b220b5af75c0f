package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Error marks a retrieval or model generation failure.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// ParseModelJSON extracts a JSON value from raw model output. Ladder:
// direct parse, fenced block, greedy object/array slice, then repair of
// the sliced (or raw) text for trailing commas and similar damage.
func ParseModelJSON(text string) (any, error) {
	candidates := []string{strings.TrimSpace(text)}

	if match := fencedJSONRe.FindStringSubmatch(text); match != nil {
		candidates = append(candidates, strings.TrimSpace(match[1]))
	}
	if slice := greedyJSONSlice(text); slice != "" {
		candidates = append(candidates, slice)
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		var payload any
		if err := json.Unmarshal([]byte(candidate), &payload); err == nil {
			return payload, nil
		}
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		repaired, err := jsonrepair.JSONRepair(candidate)
		if err != nil {
			continue
		}
		var payload any
		if err := json.Unmarshal([]byte(repaired), &payload); err == nil {
			return payload, nil
		}
	}
	return nil, newError("model returned invalid JSON payload")
}

// greedyJSONSlice returns the widest {...} or [...] slice of text,
// keyed on whichever opener appears first.
func greedyJSONSlice(text string) string {
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	pair := [2]string{"{", "}"}
	if objStart < 0 || (arrStart >= 0 && arrStart < objStart) {
		pair = [2]string{"[", "]"}
	}
	start := strings.Index(text, pair[0])
	end := strings.LastIndex(text, pair[1])
	if start >= 0 && end > start {
		return strings.TrimSpace(text[start : end+1])
	}
	return ""
}
