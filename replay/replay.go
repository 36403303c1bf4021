// Replay scheduler reads access log entries and re-issues them against a
// target server, keeping the recorded arrival pattern.
// Basic usage:
//
//	logreplay replay ex090312.log http://staging.server 20
//
// # Timeline
//
// The first entry is sent immediately and anchors the replay. Every later
// entry is due (recorded offset)/k after the start, k being the compression
// factor (2 by default, so a one hour log replays in thirty minutes).
//
// # Concurrency
//
// Requests run through a fixed pool of slots. The scheduler fills every free
// slot with the next entries in log order, collects finished requests, then
// sleeps until the last dispatched entry is due. Pacing is per iteration, not
// per request: with N slots up to N entries may go out back to back.
//
// A failed request is logged and its slot reused. Nothing is retried.
//
//	For more help run:
//
//	logreplay replay -h
package replay

import (
	"time"

	"github.com/buger/logreplay/accesslog"
	"github.com/buger/logreplay/fetch"
)

// EntrySource yields entries in log order and io.EOF at the end.
type EntrySource interface {
	Next() (accesslog.Entry, error)
}

// SlotPool is the bounded set of fetch slots the scheduler drives.
type SlotPool interface {
	Acquire() (*fetch.Slot, bool)
	Submit(slot *fetch.Slot, url string) error
	Drive() bool
	Await(d time.Duration) bool
	Reap() []fetch.Outcome
	Busy() int
	Free() int
	Shutdown() error
}

// Clock translates recorded timestamps into dispatch offsets.
type Clock interface {
	EstablishAnchor(ts time.Time) bool
	TargetOffset(ts time.Time) (time.Duration, error)
	Drift(offset time.Duration) time.Duration
	Behind(drift time.Duration) bool
	LogTime() time.Time
}

// OutcomeAnalyzer receives every reaped outcome, e.g. to ship it to Kafka.
type OutcomeAnalyzer interface {
	Analyze(fetch.Outcome)
}
