package legal

import (
	"fmt"
	"strings"
	"time"
)

// Date is a calendar date serialized as ISO-8601 (YYYY-MM-DD).
// Optional dates are represented as *Date and marshal to JSON null when absent.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// ParseUpstreamDate parses the strict DD/MM/YYYY format used by the
// legislation portal. Any other shape returns nil: malformed dates are
// tolerated, not errors.
func ParseUpstreamDate(s string) *Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("02/01/2006", s)
	if err != nil {
		return nil
	}
	d := NewDate(t.Year(), t.Month(), t.Day())
	return &d
}

// String returns the ISO-8601 form.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalJSON encodes the date as a quoted ISO-8601 string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a quoted ISO-8601 string.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("legal: parse date %q: %w", s, err)
	}
	*d = NewDate(t.Year(), t.Month(), t.Day())
	return nil
}
