package fetch

import (
	"fmt"
	"io"
	"time"
)

type SlotState int

const (
	Free SlotState = iota
	Busy
)

func (s SlotState) String() string {
	if s == Busy {
		return "busy"
	}
	return "free"
}

// Slot is one unit of concurrency. A busy slot carries the URL it is
// fetching and the sink the body is drained into.
type Slot struct {
	id       int
	state    SlotState
	url      string
	sink     *countingSink
	started  time.Time
	transfer Transfer
}

func (s *Slot) ID() int          { return s.id }
func (s *Slot) State() SlotState { return s.state }

// URL is the request in flight, empty when the slot is free or only
// acquired.
func (s *Slot) URL() string { return s.url }

func (s *Slot) String() string {
	if s.url != "" {
		return fmt.Sprintf("slot %d (%s %s)", s.id, s.state, s.url)
	}
	return fmt.Sprintf("slot %d (%s)", s.id, s.state)
}

// Outcome is the result of one request, produced when its slot is reaped.
type Outcome struct {
	Slot          int
	URL           string
	Success       bool
	EffectiveURL  string
	ErrorCode     int
	ErrorMessage  string
	BytesReceived int64
	Started       time.Time
	Finished      time.Time
}

func (o Outcome) Latency() time.Duration {
	return o.Finished.Sub(o.Started)
}

func (o Outcome) String() string {
	if o.Success {
		return fmt.Sprintf("Success: %s %s", o.URL, o.EffectiveURL)
	}
	return fmt.Sprintf("Failed: %s %d %s", o.URL, o.ErrorCode, o.ErrorMessage)
}

// countingSink discards the body, keeping only its size.
type countingSink struct {
	w io.Writer
	n int64
}

func (c *countingSink) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
