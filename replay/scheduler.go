package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/buger/logreplay/accesslog"
	"github.com/buger/logreplay/fetch"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultPollInterval        = 10 * time.Millisecond
	DefaultDriftReportInterval = time.Second
)

type Config struct {
	// Target is prepended to every URI stem.
	Target       string
	IncludeQuery bool

	// PollInterval bounds the wait for a completion when no slot is free.
	PollInterval        time.Duration
	DriftReportInterval time.Duration

	// Stats logs per-second request counters.
	Stats bool
}

type Scheduler struct {
	cfg Config

	source EntrySource
	pool   SlotPool
	clock  Clock

	log       *zap.SugaredLogger
	metrics   *Metrics
	analyzers []OutcomeAnalyzer
	sleep     func(ctx context.Context, d time.Duration)
	now       func() time.Time

	stats        *RequestStat
	driftReport  *rate.Sometimes
	behindReport *rate.Sometimes
}

type Option func(*Scheduler)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithAnalyzers(a ...OutcomeAnalyzer) Option {
	return func(s *Scheduler) { s.analyzers = append(s.analyzers, a...) }
}

// WithSleep replaces the pace-phase wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(cfg Config, source EntrySource, pool SlotPool, clock Clock, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DriftReportInterval <= 0 {
		cfg.DriftReportInterval = DefaultDriftReportInterval
	}
	cfg.Target = strings.TrimSuffix(cfg.Target, "/")

	s := &Scheduler{
		cfg:    cfg,
		source: source,
		pool:   pool,
		clock:  clock,
		log:    zap.NewNop().Sugar(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.stats = NewRequestStats(cfg.Stats, s.log, s.now)
	s.driftReport = &rate.Sometimes{Interval: cfg.DriftReportInterval}
	s.behindReport = &rate.Sometimes{Interval: cfg.DriftReportInterval}

	return s
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// URL builds the replayed request URL for e.
func (s *Scheduler) URL(e accesslog.Entry) string {
	url := s.cfg.Target + e.URIStem
	if s.cfg.IncludeQuery && e.URIQuery != "" && e.URIQuery != "-" {
		url += "?" + e.URIQuery
	}
	return url
}

// Run replays the source until it is drained and every slot is free, then
// shuts the pool down. Cancelling ctx stops dispatching at the next
// iteration and aborts requests in flight.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	started := s.now()

	var (
		exhausted bool
		anchored  bool
		reference time.Duration
		lastEntry accesslog.Entry
		runErr    error
	)

	for !exhausted || s.pool.Busy() > 0 {
		if ctx.Err() != nil {
			break
		}

		dispatched := 0
		for !exhausted && s.pool.Free() > 0 {
			entry, err := s.source.Next()
			if err != nil {
				exhausted = true
				if !errors.Is(err, io.EOF) {
					s.log.Errorf("Reading log failed, draining in-flight requests: %v", err)
					runErr = err
				}
				break
			}

			if s.clock.EstablishAnchor(entry.Timestamp) {
				anchored = true
				s.log.Infof("Replay anchored at log time %s", entry.Timestamp.Format(accesslog.TimestampLayout))
			}

			offset, err := s.clock.TargetOffset(entry.Timestamp)
			if err != nil {
				runErr = err
				exhausted = true
				break
			}

			if err := s.dispatch(entry); err != nil {
				runErr = err
				exhausted = true
				break
			}

			if drift := s.clock.Drift(offset); s.clock.Behind(drift) {
				s.behind(drift)
			}

			reference = offset
			lastEntry = entry
			dispatched++
		}

		for s.pool.Drive() {
		}

		reaped := 0
		for {
			outcomes := s.pool.Reap()
			if len(outcomes) == 0 {
				break
			}
			for _, o := range outcomes {
				s.record(o)
			}
			reaped += len(outcomes)
		}

		if s.metrics != nil {
			s.metrics.BusySlots.Set(float64(s.pool.Busy()))
		}

		if anchored && !exhausted {
			drift := s.clock.Drift(reference)
			if s.metrics != nil {
				s.metrics.Drift.Set(drift.Seconds())
			}
			if dispatched > 0 {
				s.driftReport.Do(func() {
					s.log.Infof("Log Time: %s Current time: %s Drift: %s",
						lastEntry.Timestamp.Format(accesslog.TimestampLayout),
						s.clock.LogTime().Format(accesslog.TimestampLayout),
						drift.Round(time.Millisecond))
				})
			}

			if drift > 0 {
				s.log.Debugf("Sleeping for %s", drift.Round(time.Millisecond))
				s.sleep(ctx, drift)
				continue
			}
		}

		if reaped == 0 && (exhausted || s.pool.Free() == 0) {
			s.pool.Await(s.cfg.PollInterval)
		}
	}

	if err := ctx.Err(); err != nil {
		s.log.Warnf("Replay interrupted, aborting %d requests in flight", s.pool.Busy())
		runErr = err
	}

	if err := s.pool.Shutdown(); err != nil {
		s.log.Warnf("Shutting down fetch slots: %v", err)
	}

	summary := s.stats.Summary()
	summary.Elapsed = s.now().Sub(started)

	return summary, runErr
}

func (s *Scheduler) dispatch(entry accesslog.Entry) error {
	slot, ok := s.pool.Acquire()
	if !ok {
		return fmt.Errorf("no free slot for %s", entry.URIStem)
	}

	url := s.URL(entry)
	if err := s.pool.Submit(slot, url); err != nil {
		return fmt.Errorf("submit %s: %w", url, err)
	}

	s.stats.IncReq()
	s.log.Debugf("GET %s (%s)", url, slot)

	return nil
}

func (s *Scheduler) behind(drift time.Duration) {
	s.stats.Behind(drift)
	if s.metrics != nil {
		s.metrics.BehindSchedule.Inc()
	}
	s.behindReport.Do(func() {
		s.log.Warnf("%d seconds behind schedule", int64(-drift.Seconds()))
	})
}

func (s *Scheduler) record(o fetch.Outcome) {
	if o.Success {
		s.log.Info(o.String())
	} else {
		s.log.Warn(o.String())
	}

	s.stats.IncResp(o)
	if s.metrics != nil {
		s.metrics.observe(o)
	}
	for _, a := range s.analyzers {
		a.Analyze(o)
	}
}
