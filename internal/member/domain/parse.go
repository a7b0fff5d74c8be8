package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidGroupID reports a group identifier that is neither a number nor
// a numeric string.
var ErrInvalidGroupID = errors.New("invalid group id")

// ParseGroupID normalizes a group identifier into its canonical int64 form.
// Callers hand over whatever the transport produced (JSON numbers, path
// params); this is the single place the number-or-numeric-string duality is
// resolved.
func ParseGroupID(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidGroupID, raw)
		}
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidGroupID, v)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidGroupID, raw)
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2/1/2006",
	"02/01/2006",
	"2/1/06",
}

// ParseFlexibleDate parses the date formats found in legacy member rows:
// ISO dates, RFC3339 timestamps and D/M/YYYY or D/M/YY strings. The boolean
// is false for anything else, including placeholders like "-"; each caller
// decides what absence means for its field.
func ParseFlexibleDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
