package market

import (
	"fmt"
	"time"

	"kangaroo-trader/internal/service"
)

// Clock answers whether the trading session is active. It holds no mutable
// state and is safe for concurrent use.
type Clock struct {
	loc   *time.Location
	open  time.Duration // offset from local midnight
	close time.Duration // inclusive
	now   func() time.Time
}

// NewClock builds a session clock from the engine settings.
func NewClock(cfg service.EngineConfig) (*Clock, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	open, err := service.ParseClock(cfg.Open)
	if err != nil {
		return nil, err
	}
	closeAt, err := service.ParseClock(cfg.Close)
	if err != nil {
		return nil, err
	}
	return &Clock{loc: loc, open: open, close: closeAt, now: time.Now}, nil
}

// ActiveAt reports whether t falls on a weekday inside [open, close] local time.
func (c *Clock) ActiveAt(t time.Time) bool {
	local := t.In(c.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	h, m, s := local.Clock()
	tod := time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(local.Nanosecond())

	return tod >= c.open && tod <= c.close
}

// Active reports whether the session is open right now.
func (c *Clock) Active() bool {
	return c.ActiveAt(c.now())
}

// Location is the reference timezone of the session.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// NextOpen returns the next session open strictly after t, or t itself when
// the session is already active.
func (c *Clock) NextOpen(t time.Time) time.Time {
	if c.ActiveAt(t) {
		return t
	}
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < 8; i++ {
		candidate := day.AddDate(0, 0, i).Add(c.open)
		if candidate.After(t) && c.ActiveAt(candidate) {
			return candidate
		}
	}
	return t
}
