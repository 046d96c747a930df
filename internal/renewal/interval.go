package renewal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval is a calendar step. Months and years follow time.AddDate
// normalization.
type Interval struct {
	Years  int
	Months int
	Days   int
}

func (i Interval) Add(t time.Time) time.Time {
	return t.AddDate(i.Years, i.Months, i.Days)
}

func (i Interval) IsZero() bool {
	return i.Years == 0 && i.Months == 0 && i.Days == 0
}

// ParseInterval reads "<n><unit>" with unit one of d, w, mo, y.
func ParseInterval(raw string) (Interval, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	split := strings.IndexFunc(raw, func(r rune) bool { return r < '0' || r > '9' })
	if split <= 0 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
	n, err := strconv.Atoi(raw[:split])
	if err != nil || n <= 0 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}

	switch raw[split:] {
	case "d":
		return Interval{Days: n}, nil
	case "w":
		return Interval{Days: 7 * n}, nil
	case "mo":
		return Interval{Months: n}, nil
	case "y":
		return Interval{Years: n}, nil
	default:
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
}

// Table maps a component unit such as "per month" to its renewal interval.
type Table map[string]Interval

// NewTable parses a unit to interval mapping as found in charging.yml.
func NewTable(raw map[string]string) (Table, error) {
	table := make(Table, len(raw))
	for unit, spec := range raw {
		interval, err := ParseInterval(spec)
		if err != nil {
			return nil, fmt.Errorf("renewal unit %q: %w", unit, err)
		}
		table[normalizeUnit(unit)] = interval
	}
	return table, nil
}

// Next returns the renovation date following from.
func (t Table) Next(unit string, from time.Time) (time.Time, error) {
	interval, ok := t[normalizeUnit(unit)]
	if !ok {
		return time.Time{}, ErrUnknownUnit
	}
	return interval.Add(from), nil
}

func normalizeUnit(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}
