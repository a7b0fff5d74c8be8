package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPeriod reports a malformed period token.
var ErrInvalidPeriod = errors.New("invalid period")

// Period is a calendar month token in fixed-width "YYYY-MM" form.
// The zero-padded format makes lexicographic and chronological order agree.
type Period string

// Parse validates a period token. Every year and month byte must be a
// digit, so signed forms like "+123-05" that Atoi would accept are
// rejected.
func Parse(raw string) (Period, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 7 || raw[4] != '-' {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
	for i, c := range []byte(raw) {
		if i == 4 {
			continue
		}
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
		}
	}
	year, err := strconv.Atoi(raw[:4])
	if err != nil || year < 1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
	month, err := strconv.Atoi(raw[5:])
	if err != nil || month < 1 || month > 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
	return Period(fmt.Sprintf("%04d-%02d", year, month)), nil
}

// FromTime returns the period containing t.
func FromTime(t time.Time) Period {
	return Period(t.UTC().Format("2006-01"))
}

// Compare returns -1, 0 or 1 ordering a against b.
func Compare(a, b Period) int {
	return strings.Compare(string(a), string(b))
}

func (p Period) Year() int {
	y, _ := strconv.Atoi(string(p)[:4])
	return y
}

func (p Period) Month() time.Month {
	m, _ := strconv.Atoi(string(p)[5:])
	return time.Month(m)
}

func (p Period) String() string { return string(p) }

// Time returns midnight UTC on the first day of the period.
func (p Period) Time() time.Time {
	return time.Date(p.Year(), p.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Next rolls forward one month, handling the year boundary.
func (p Period) Next() Period {
	return FromTime(p.Time().AddDate(0, 1, 0))
}

// Prev rolls back one month, handling the year boundary.
func (p Period) Prev() Period {
	return FromTime(p.Time().AddDate(0, -1, 0))
}

// Range returns every period from from to to, inclusive, in order.
// Returns nil when to precedes from.
func Range(from, to Period) []Period {
	if Compare(from, to) > 0 {
		return nil
	}
	var out []Period
	for p := from; Compare(p, to) <= 0; p = p.Next() {
		out = append(out, p)
	}
	return out
}

// Max returns the later of a and b.
func Max(a, b Period) Period {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Min returns the earlier of a and b.
func Min(a, b Period) Period {
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}
