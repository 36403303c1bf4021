// Package fetch holds the fixed pool of fetch slots a replay runs through.
//
// The pool is driven from a single goroutine: Acquire, Submit, Drive, Reap
// and Shutdown must not be called concurrently. Each submitted request runs
// on its own goroutine and reports back over a channel sized to the pool,
// so transfers never block on the driver.
package fetch

import (
	"fmt"
	"io"
	"time"
)

const (
	MinSize = 1
	MaxSize = 10000

	DefaultSize           = 10
	DefaultConnectTimeout = 30 * time.Second
	DefaultTotalTimeout   = 300 * time.Second
	DefaultMaxRedirects   = 5
	DefaultShutdownGrace  = 5 * time.Second
)

type Config struct {
	Size           int
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	MaxRedirects   int
	Insecure       bool
	UserAgent      string
	ShutdownGrace  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Size:           DefaultSize,
		ConnectTimeout: DefaultConnectTimeout,
		TotalTimeout:   DefaultTotalTimeout,
		MaxRedirects:   DefaultMaxRedirects,
		ShutdownGrace:  DefaultShutdownGrace,
	}
}

func (c Config) Validate() error {
	if c.Size < MinSize || c.Size > MaxSize {
		return fmt.Errorf("invalid number of concurrent connections %d, expected %d..%d", c.Size, MinSize, MaxSize)
	}
	if c.ConnectTimeout <= 0 || c.TotalTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max redirects must not be negative")
	}
	return nil
}

type completion struct {
	slot      *Slot
	effective string
	err       error
	finished  time.Time
}

type Pool struct {
	cfg   Config
	slots []*Slot
	free  []*Slot
	busy  int

	finished chan completion
	ready    []completion

	now    func() time.Time
	closed bool
}

type PoolOption func(*Pool)

func WithTransferFactory(f TransferFactory) PoolOption {
	return func(p *Pool) {
		for _, s := range p.slots {
			s.transfer = f(s.id, p.cfg)
		}
	}
}

func WithNow(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool pre-allocates cfg.Size slots, each with its own transfer.
func NewPool(cfg Config, opts ...PoolOption) (*Pool, error) {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:      cfg,
		slots:    make([]*Slot, cfg.Size),
		free:     make([]*Slot, 0, cfg.Size),
		finished: make(chan completion, cfg.Size),
		now:      time.Now,
	}

	for i := range p.slots {
		p.slots[i] = &Slot{id: i}
	}
	for _, opt := range opts {
		opt(p)
	}

	// Free list is popped from the end: slot 0 goes first.
	for i := len(p.slots) - 1; i >= 0; i-- {
		s := p.slots[i]
		if s.transfer == nil {
			s.transfer = NewHTTPTransfer(s.id, cfg)
		}
		p.free = append(p.free, s)
	}

	return p, nil
}

func (p *Pool) Size() int { return len(p.slots) }
func (p *Pool) Busy() int { return p.busy }
func (p *Pool) Free() int { return len(p.free) }

// Acquire hands out a free slot and marks it busy. It never blocks.
func (p *Pool) Acquire() (*Slot, bool) {
	if p.closed || len(p.free) == 0 {
		return nil, false
	}

	s := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	s.state = Busy
	p.busy++

	return s, true
}

// Submit starts fetching url on an acquired slot.
func (p *Pool) Submit(s *Slot, url string) error {
	if p.closed {
		return ErrPoolClosed
	}
	if s.state != Busy {
		return ErrSlotNotBusy
	}
	if s.url != "" {
		return ErrSlotInFlight
	}

	s.url = url
	s.sink = &countingSink{w: io.Discard}
	s.started = p.now()

	go func(transfer Transfer, sink io.Writer) {
		effective, err := transfer.Fetch(url, sink)
		p.finished <- completion{slot: s, effective: effective, err: err, finished: p.now()}
	}(s.transfer, s.sink)

	return nil
}

// Drive collects transfers that finished since the last call. It returns
// true while it made progress; callers loop until it returns false.
func (p *Pool) Drive() bool {
	if p.closed {
		return false
	}

	select {
	case c := <-p.finished:
		p.ready = append(p.ready, c)
		return true
	default:
		return false
	}
}

// Await blocks up to d for at least one transfer to finish. It returns
// false on timeout or when nothing is in flight.
func (p *Pool) Await(d time.Duration) bool {
	if p.closed || p.busy-len(p.ready) <= 0 {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case c := <-p.finished:
		p.ready = append(p.ready, c)
		return true
	case <-timer.C:
		return false
	}
}

// Reap returns the outcomes collected by Drive and frees their slots.
func (p *Pool) Reap() []Outcome {
	if len(p.ready) == 0 {
		return nil
	}

	outcomes := make([]Outcome, 0, len(p.ready))
	for _, c := range p.ready {
		outcomes = append(outcomes, p.release(c))
	}
	p.ready = p.ready[:0]

	return outcomes
}

func (p *Pool) release(c completion) Outcome {
	s := c.slot

	o := Outcome{
		Slot:          s.id,
		URL:           s.url,
		Success:       c.err == nil,
		EffectiveURL:  c.effective,
		BytesReceived: s.sink.n,
		Started:       s.started,
		Finished:      c.finished,
	}
	if c.err != nil {
		de := classify(c.err)
		o.ErrorCode = de.Code
		o.ErrorMessage = de.Message
	}

	s.state = Free
	s.url = ""
	s.sink = nil
	p.busy--
	if !p.closed {
		p.free = append(p.free, s)
	}

	return o
}

// Shutdown closes every transfer, aborting requests still in flight, and
// waits up to ShutdownGrace for them to report back. Outcomes of aborted
// requests are discarded. Calling it again is a no-op.
func (p *Pool) Shutdown() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.free = nil

	for _, s := range p.slots {
		s.transfer.Close()
	}

	inFlight := -len(p.ready)
	for _, s := range p.slots {
		if s.url != "" {
			inFlight++
		}
	}
	p.ready = nil

	timer := time.NewTimer(p.cfg.ShutdownGrace)
	defer timer.Stop()

	for ; inFlight > 0; inFlight-- {
		select {
		case <-p.finished:
		case <-timer.C:
			return fmt.Errorf("%d transfers still running after %s", inFlight, p.cfg.ShutdownGrace)
		}
	}

	for _, s := range p.slots {
		s.state = Free
		s.url = ""
		s.sink = nil
	}
	p.busy = 0

	return nil
}
