package query

import (
	"fmt"
	"strings"
	"time"

	"txledger/internal/types"
)

const dateLayout = "2006-01-02"

// ParseFilter builds a Filter from raw text values, as received from a query
// string or command flags. Empty values leave the dimension unconstrained.
// Times are RFC 3339 or a bare date; a bare date used as the upper bound
// covers the whole day.
func ParseFilter(category, status, from, to, text string) (Filter, error) {
	var f Filter
	var err error
	if category != "" {
		if f.Category, err = types.ParseCategory(category); err != nil {
			return f, err
		}
	}
	if status != "" {
		if f.Status, err = types.ParseTxStatus(status); err != nil {
			return f, err
		}
	}
	if f.From, err = parseTime(from, false); err != nil {
		return f, err
	}
	if f.To, err = parseTime(to, true); err != nil {
		return f, err
	}
	f.EntityText = strings.TrimSpace(text)
	return f, nil
}

func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or %s", raw, dateLayout)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
