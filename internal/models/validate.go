package models

import (
	"fmt"
	"sort"

	"studybuddy/internal/apperr"
	"studybuddy/internal/timez"
)

// requireExactKeys enforces the wire contract: every required field present,
// nothing else. Unknown keys are rejected rather than ignored.
func requireExactKeys(payload map[string]any, required []string, label string) error {
	requiredSet := make(map[string]struct{}, len(required))
	for _, key := range required {
		requiredSet[key] = struct{}{}
	}

	var missing []string
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperr.NewValidation("%s: missing required field(s): %v", label, missing)
	}

	var unknown []string
	for key := range payload {
		if _, ok := requiredSet[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperr.NewValidation("%s: unknown field(s): %v", label, unknown)
	}
	return nil
}

func nonEmptyString(value any, field string) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", apperr.NewValidation("%s: expected string", field)
	}
	if text == "" {
		return "", apperr.NewValidation("%s: must not be empty", field)
	}
	return text, nil
}

func contractTimestamp(value any, field string) (string, error) {
	text, err := nonEmptyString(value, field)
	if err != nil {
		return "", err
	}
	if !timez.IsValid(text) {
		return "", apperr.NewValidation("%s: expected RFC3339 UTC timestamp (YYYY-MM-DDTHH:MM:SSZ)", field)
	}
	return text, nil
}

func nonNegativeNumber(value any, field string) (float64, error) {
	var number float64
	switch v := value.(type) {
	case float64:
		number = v
	case int:
		number = float64(v)
	case int64:
		number = float64(v)
	default:
		return 0, apperr.NewValidation("%s: expected number", field)
	}
	if number < 0 {
		return 0, apperr.NewValidation("%s: must be >= 0", field)
	}
	return number, nil
}

func validationf(format string, args ...any) error {
	return apperr.NewValidation("%s", fmt.Sprintf(format, args...))
}
