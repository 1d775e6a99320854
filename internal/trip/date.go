package trip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Date is a calendar date without time of day. The zero value means unset
// and encodes as JSON null.
type Date struct {
	t time.Time
}

// NewDate returns the date y-m-d.
func NewDate(y int, m time.Month, d int) Date {
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate accepts "2006-01-02" and, for records written by older clients,
// full RFC 3339 timestamps. Timestamps keep only their UTC date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("trip: invalid date %q", s)
	}
	return DateOf(t.UTC()), nil
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time { return d.t }

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	if d.IsZero() {
		return d
	}
	return Date{t: d.t.AddDate(0, 0, n)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("trip: date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock is a time of day with minute precision. The zero value means unset.
type Clock struct {
	minutes int
	set     bool
}

// NewClock returns hh:mm. Out-of-range values are wrapped into a day.
func NewClock(hour, minute int) Clock {
	m := ((hour*60+minute)%(24*60) + 24*60) % (24 * 60)
	return Clock{minutes: m, set: true}
}

// ParseClock accepts "15:04", "15:04:05" and RFC 3339 timestamps (their UTC
// hour and minute are kept).
func ParseClock(s string) (Clock, error) {
	if s == "" {
		return Clock{}, nil
	}
	for _, layout := range []string{clockLayout, time.TimeOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewClock(t.Hour(), t.Minute()), nil
		}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Clock{}, fmt.Errorf("trip: invalid time %q", s)
	}
	t = t.UTC()
	return NewClock(t.Hour(), t.Minute()), nil
}

// IsZero reports whether the clock is unset.
func (c Clock) IsZero() bool { return !c.set }

// Hour returns the hour (0-23).
func (c Clock) Hour() int { return c.minutes / 60 }

// Minute returns the minute (0-59).
func (c Clock) Minute() int { return c.minutes % 60 }

func (c Clock) String() string {
	if !c.set {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte("null"), nil
	}
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*c = Clock{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("trip: time must be a string: %w", err)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
