package market

import (
	"fmt"
	"time"
)

// IST is the exchange's fixed +05:30 zone.
var IST = time.FixedZone("IST", 19800)

// Now returns the current time in IST.
func Now() time.Time {
	return time.Now().In(IST)
}

// Hours is a weekday trading session expressed as minutes from midnight in
// Location. Both bounds are inclusive at minute granularity.
type Hours struct {
	Location *time.Location
	Open     int
	Close    int
}

// DefaultHours returns the NSE cash session, 09:15–15:30 IST.
func DefaultHours() Hours {
	return Hours{Location: IST, Open: 9*60 + 15, Close: 15*60 + 30}
}

// NewHours builds a session from "HH:MM" bounds and a UTC offset in minutes.
func NewHours(open, close string, utcOffsetMinutes int) (Hours, error) {
	o, err := ParseClock(open)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid open time: %w", err)
	}
	c, err := ParseClock(close)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid close time: %w", err)
	}
	if c < o {
		return Hours{}, fmt.Errorf("close %s is before open %s", close, open)
	}

	loc := IST
	if utcOffsetMinutes != 330 {
		loc = time.FixedZone(fmt.Sprintf("UTC%+03d%02d", utcOffsetMinutes/60, abs(utcOffsetMinutes%60)), utcOffsetMinutes*60)
	}
	return Hours{Location: loc, Open: o, Close: c}, nil
}

// IsOpen reports whether t falls on a weekday inside the session window.
func (h Hours) IsOpen(t time.Time) bool {
	loc := h.Location
	if loc == nil {
		loc = IST
	}
	local := t.In(loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	return minute >= h.Open && minute <= h.Close
}

// ParseClock converts "HH:MM" into minutes from midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
