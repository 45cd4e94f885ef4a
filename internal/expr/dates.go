package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// Product metadata does not agree on one timestamp format, so date helpers
// try several layouts. Layouts without an offset are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"20060102T150405",
	"20060102T150405Z",
	"2006-01-02",
	"20060102",
}

// ParseTime parses s with the first layout that accepts it.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date could not be parsed by any expected format: %q", s)
}

// FormatTime formats t with a strftime layout such as "%Y-%m-%dT%H:%M:%SZ".
func FormatTime(layout string, t time.Time) string {
	return strftime.Format(layout, t.UTC())
}

func asTime(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s, err := asString(v)
	if err != nil {
		return time.Time{}, err
	}
	return ParseTime(s)
}
