// Package playback maps the recorded log timeline onto wall-clock time.
//
// The timeline is compressed linearly around the first entry: with factor k
// an entry recorded Δ after the first one is due Δ/k after the replay
// started. The first entry is always due immediately.
package playback

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultFactor          = 2.0
	DefaultBehindThreshold = 10 * time.Second
)

var ErrNoAnchor = errors.New("playback anchor not established")

// Anchor pins the first recorded entry to the moment the replay started.
type Anchor struct {
	LogEpoch  time.Time
	WallEpoch time.Time
}

// Clock is owned by the scheduler goroutine and is not safe for concurrent
// use.
type Clock struct {
	factor          float64
	behindThreshold time.Duration
	now             func() time.Time

	anchor    Anchor
	anchorSet bool
}

type Option func(*Clock)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// WithBehindThreshold sets how far behind the schedule has to fall before
// Behind reports it.
func WithBehindThreshold(d time.Duration) Option {
	return func(c *Clock) { c.behindThreshold = d }
}

func New(factor float64, opts ...Option) (*Clock, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("compression factor must be positive, got %v", factor)
	}

	c := &Clock{
		factor:          factor,
		behindThreshold: DefaultBehindThreshold,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EstablishAnchor records the anchor from the first entry's timestamp.
// Later calls are no-ops and return false.
func (c *Clock) EstablishAnchor(ts time.Time) bool {
	if c.anchorSet {
		return false
	}

	c.anchor = Anchor{LogEpoch: ts, WallEpoch: c.now()}
	c.anchorSet = true
	return true
}

func (c *Clock) Anchor() (Anchor, bool) {
	return c.anchor, c.anchorSet
}

func (c *Clock) Factor() float64 {
	return c.factor
}

// TargetOffset is how long after the anchor an entry recorded at ts is due.
// Entries recorded before the anchor get a negative offset.
func (c *Clock) TargetOffset(ts time.Time) (time.Duration, error) {
	if !c.anchorSet {
		return 0, ErrNoAnchor
	}

	elapsed := ts.Sub(c.anchor.LogEpoch)
	return time.Duration(float64(elapsed) / c.factor), nil
}

// Drift is the signed distance between the schedule and the wall clock for
// an entry due at offset. Positive: wait that long. Negative: behind.
func (c *Clock) Drift(offset time.Duration) time.Duration {
	if !c.anchorSet {
		return 0
	}
	return offset - c.now().Sub(c.anchor.WallEpoch)
}

// Behind reports drift below the falling-behind threshold.
func (c *Clock) Behind(drift time.Duration) bool {
	return drift < -c.behindThreshold
}

// LogTime maps the current wall clock back onto the recorded timeline.
func (c *Clock) LogTime() time.Time {
	if !c.anchorSet {
		return time.Time{}
	}

	elapsed := c.now().Sub(c.anchor.WallEpoch)
	return c.anchor.LogEpoch.Add(time.Duration(float64(elapsed) * c.factor))
}
