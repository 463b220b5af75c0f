// Package timez holds the RFC3339 UTC timestamp conventions shared by the
// wire contract, the stores, and the scheduler: second precision, trailing Z.
package timez

import (
	"fmt"
	"regexp"
	"time"
)

const layout = "2006-01-02T15:04:05Z"

var rfc3339utcRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d{1,6})?Z$`)

// Parse accepts a strict RFC3339 UTC timestamp with a trailing Z. Fractional
// seconds up to microseconds are tolerated on input and dropped on output.
func Parse(value string) (time.Time, error) {
	if !rfc3339utcRe.MatchString(value) {
		return time.Time{}, fmt.Errorf("timestamp must be RFC3339 UTC with trailing Z: %q", value)
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp must be RFC3339 UTC with trailing Z: %q", value)
	}
	return parsed.UTC(), nil
}

// Format renders a timestamp at second precision with a trailing Z.
// The zero location is treated as UTC.
func Format(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(layout)
}

// Now returns the current time formatted per Format.
func Now() string {
	return Format(time.Now())
}

// IsValid reports whether value parses under the strict contract form.
func IsValid(value string) bool {
	_, err := Parse(value)
	return err == nil
}

// Reformat parses and re-renders a timestamp, normalizing fractional seconds
// away. Errors propagate from Parse.
func Reformat(value string) (string, error) {
	t, err := Parse(value)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}
