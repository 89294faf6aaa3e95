// Package isotime decodes the backend's ISO-8601 timestamps.
//
// The backend serialises datetimes with isoformat(), which omits the
// UTC offset for naive values ("2024-05-01T10:00:00" as well as
// "2024-05-01T10:00:00+00:00" both occur on the wire). Standard
// time.Time JSON decoding accepts only RFC 3339, so both the channel
// and the API client decode through this type. Offset-less values are
// interpreted as UTC.
package isotime

import (
	"fmt"
	"strings"
	"time"
)

// layouts tried in order when the value is not RFC 3339.
var layouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Time is a time.Time that accepts ISO-8601 values with or without a
// UTC offset. It marshals as RFC 3339 in UTC.
type Time struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range layouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("parsing timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}
