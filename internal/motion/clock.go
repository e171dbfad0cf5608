package motion

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Clock produces the timestamp field embedded in every command.
// The motor expects local wall-clock time in the timezone it was set up in.
type Clock struct {
	location *time.Location
	now      func() time.Time
}

// NewClock creates a Clock for an IANA timezone name such as "Europe/Amsterdam"
func NewClock(timezone string) (*Clock, error) {
	if timezone == "" {
		return nil, ErrTimezoneNotSet
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidArgument, timezone, err)
	}
	return &Clock{location: location, now: time.Now}, nil
}

// WithNow returns a copy of the clock that reads time from now
func (c *Clock) WithNow(now func() time.Time) *Clock {
	if c == nil {
		return nil
	}
	return &Clock{location: c.location, now: now}
}

// Location returns the configured timezone
func (c *Clock) Location() *time.Location {
	if c == nil {
		return nil
	}
	return c.location
}

// TimestampHex returns year%100, month, day, hour, minute and second as one byte each
// followed by the millisecond as two bytes, all hex encoded.
func (c *Clock) TimestampHex() (string, error) {
	if c == nil || c.location == nil {
		return "", ErrTimezoneNotSet
	}
	now := c.now().In(c.location)
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x%04x",
		(now.Year()%100)&0xff,
		int(now.Month())&0xff,
		now.Day()&0xff,
		now.Hour()&0xff,
		now.Minute()&0xff,
		now.Second()&0xff,
		(now.Nanosecond()/int(time.Millisecond))&0xffff,
	), nil
}
