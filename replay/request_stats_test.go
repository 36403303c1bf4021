package replay

import (
	"testing"
	"time"

	"github.com/buger/logreplay/fetch"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestStatRollsOverEverySecond(t *testing.T) {
	wall := &fakeWall{t: time.Unix(1000, 0)}
	core, logs := observer.New(zapcore.InfoLevel)

	stat := NewRequestStats(true, zap.New(core).Sugar(), wall.now)

	stat.IncReq()
	stat.IncReq()
	stat.IncResp(fetch.Outcome{Success: true})
	stat.IncResp(fetch.Outcome{ErrorCode: 404})
	assert.Equal(t, 0, logs.Len())

	wall.advance(time.Second)
	stat.Touch()

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "Requests: 2 Errors: 1 Status codes: map[404:1]", entries[0].Message)
	}
	assert.Equal(t, 0, stat.Count)

	// Quiet seconds are not logged.
	wall.advance(time.Second)
	stat.Touch()
	assert.Equal(t, 1, logs.Len())
}

func TestRequestStatDisabledStaysQuiet(t *testing.T) {
	wall := &fakeWall{t: time.Unix(1000, 0)}
	core, logs := observer.New(zapcore.DebugLevel)

	stat := NewRequestStats(false, zap.New(core).Sugar(), wall.now)
	stat.IncReq()
	wall.advance(2 * time.Second)
	stat.Touch()

	assert.Equal(t, 0, logs.Len())
	assert.Equal(t, 1, stat.Summary().Dispatched)
}

func TestRequestStatSummary(t *testing.T) {
	wall := &fakeWall{t: time.Unix(1000, 0)}
	stat := NewRequestStats(false, zap.NewNop().Sugar(), wall.now)

	start := wall.now()
	for i := 0; i < 3; i++ {
		stat.IncReq()
	}
	stat.IncResp(fetch.Outcome{Success: true, BytesReceived: 100, Started: start, Finished: start.Add(100 * time.Millisecond)})
	stat.IncResp(fetch.Outcome{Success: true, BytesReceived: 50, Started: start, Finished: start.Add(300 * time.Millisecond)})
	stat.IncResp(fetch.Outcome{ErrorCode: fetch.CodeTimeout, Started: start, Finished: start.Add(200 * time.Millisecond)})
	stat.Behind(-12 * time.Second)
	stat.Behind(-11 * time.Second)

	sum := stat.Summary()
	assert.Equal(t, 3, sum.Dispatched)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, map[int]int{fetch.CodeTimeout: 1}, sum.Codes)
	assert.Equal(t, int64(150), sum.BytesReceived)
	assert.Equal(t, 200*time.Millisecond, sum.AvgLatency)
	assert.Equal(t, 300*time.Millisecond, sum.MaxLatency)
	assert.Equal(t, 12*time.Second, sum.MaxBehind)

	// The returned map is a copy.
	sum.Codes[999] = 1
	assert.NotContains(t, stat.Summary().Codes, 999)
}
