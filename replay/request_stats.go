package replay

import (
	"time"

	"github.com/buger/logreplay/fetch"
	"go.uber.org/zap"
)

// RequestStat keeps per-second counters that are logged on roll-over, and
// running totals for the final Summary. Codes only counts failures, keyed by
// error code.
type RequestStat struct {
	timestamp int64

	Codes map[int]int

	Count  int
	Errors int

	total      Summary
	sumLatency time.Duration

	enabled bool
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewRequestStats(enabled bool, log *zap.SugaredLogger, now func() time.Time) (stat *RequestStat) {
	stat = &RequestStat{
		enabled: enabled,
		log:     log,
		now:     now,
		total:   Summary{Codes: make(map[int]int)},
	}
	stat.reset()

	return
}

// Touch rolls the window over when the second changed.
func (s *RequestStat) Touch() {
	if s.timestamp != s.now().Unix() {
		s.reset()
	}
}

// IncReq is called on dispatch.
func (s *RequestStat) IncReq() {
	s.Touch()

	s.Count++
	s.total.Dispatched++
}

// IncResp is called for every reaped outcome.
func (s *RequestStat) IncResp(o fetch.Outcome) {
	s.Touch()

	if o.Success {
		s.total.Succeeded++
	} else {
		s.Errors++
		s.total.Failed++
		s.Codes[o.ErrorCode]++
		s.total.Codes[o.ErrorCode]++
	}

	s.total.BytesReceived += o.BytesReceived

	latency := o.Latency()
	s.sumLatency += latency
	if latency > s.total.MaxLatency {
		s.total.MaxLatency = latency
	}
}

// Behind records how far behind schedule the replay fell.
func (s *RequestStat) Behind(drift time.Duration) {
	if -drift > s.total.MaxBehind {
		s.total.MaxBehind = -drift
	}
}

func (s *RequestStat) reset() {
	if s.enabled && s.timestamp != 0 && (s.Count > 0 || len(s.Codes) > 0) {
		s.log.Infof("Requests: %d Errors: %d Status codes: %v", s.Count, s.Errors, s.Codes)
	}

	s.timestamp = s.now().Unix()

	s.Codes = make(map[int]int)
	s.Count = 0
	s.Errors = 0
}

// Summary returns the totals since the stat was created.
func (s *RequestStat) Summary() Summary {
	sum := s.total
	sum.Codes = make(map[int]int, len(s.total.Codes))
	for code, n := range s.total.Codes {
		sum.Codes[code] = n
	}

	if finished := sum.Succeeded + sum.Failed; finished > 0 {
		sum.AvgLatency = s.sumLatency / time.Duration(finished)
	}

	return sum
}

// Summary aggregates a whole run. Codes counts failed outcomes by error
// code.
type Summary struct {
	Dispatched    int
	Succeeded     int
	Failed        int
	Codes         map[int]int
	BytesReceived int64
	AvgLatency    time.Duration
	MaxLatency    time.Duration
	MaxBehind     time.Duration
	Elapsed       time.Duration
}
