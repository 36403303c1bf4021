package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWall struct{ t time.Time }

func (w *fakeWall) now() time.Time          { return w.t }
func (w *fakeWall) advance(d time.Duration) { w.t = w.t.Add(d) }

var recorded = time.Date(2009, 3, 12, 10, 0, 0, 0, time.UTC)

func newClock(t *testing.T, factor float64) (*Clock, *fakeWall) {
	t.Helper()

	wall := &fakeWall{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, err := New(factor, WithNow(wall.now))
	require.NoError(t, err)
	return c, wall
}

func TestNewRejectsNonPositiveFactor(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)

	_, err = New(-2)
	assert.Error(t, err)
}

func TestAnchorIsEstablishedOnce(t *testing.T) {
	c, wall := newClock(t, 2)

	_, ok := c.Anchor()
	assert.False(t, ok)

	assert.True(t, c.EstablishAnchor(recorded))
	first, ok := c.Anchor()
	require.True(t, ok)

	wall.advance(time.Minute)
	assert.False(t, c.EstablishAnchor(recorded.Add(time.Hour)))

	again, _ := c.Anchor()
	assert.Equal(t, first, again)
	assert.Equal(t, recorded, again.LogEpoch)
}

func TestTargetOffsetRequiresAnchor(t *testing.T) {
	c, _ := newClock(t, 2)

	_, err := c.TargetOffset(recorded)
	assert.ErrorIs(t, err, ErrNoAnchor)
	assert.Zero(t, c.Drift(time.Second))
	assert.True(t, c.LogTime().IsZero())
}

func TestTargetOffsetCompressesLinearly(t *testing.T) {
	cases := []struct {
		factor float64
		delta  time.Duration
		want   time.Duration
	}{
		{2, 0, 0},
		{2, 10 * time.Second, 5 * time.Second},
		{2, time.Hour, 30 * time.Minute},
		{1, 10 * time.Second, 10 * time.Second},
		{4, 10 * time.Second, 2500 * time.Millisecond},
		{0.5, 10 * time.Second, 20 * time.Second},
		{2, -4 * time.Second, -2 * time.Second},
	}

	for _, tc := range cases {
		c, _ := newClock(t, tc.factor)
		c.EstablishAnchor(recorded)

		got, err := c.TargetOffset(recorded.Add(tc.delta))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "factor %v delta %v", tc.factor, tc.delta)
	}
}

func TestDriftTracksWallClock(t *testing.T) {
	c, wall := newClock(t, 2)
	c.EstablishAnchor(recorded)

	offset, err := c.TargetOffset(recorded.Add(10 * time.Second))
	require.NoError(t, err)

	// First request took a second: four seconds left to wait.
	wall.advance(time.Second)
	assert.Equal(t, 4*time.Second, c.Drift(offset))

	wall.advance(20 * time.Second)
	drift := c.Drift(offset)
	assert.Equal(t, -16*time.Second, drift)
	assert.True(t, c.Behind(drift))
}

func TestBehindThreshold(t *testing.T) {
	c, err := New(2, WithBehindThreshold(time.Second))
	require.NoError(t, err)

	assert.False(t, c.Behind(-time.Second))
	assert.True(t, c.Behind(-1001*time.Millisecond))
	assert.False(t, c.Behind(5*time.Second))

	d, _ := New(DefaultFactor)
	assert.False(t, d.Behind(-10*time.Second))
	assert.True(t, d.Behind(-11*time.Second))
}

func TestLogTimeRunsAtCompressedSpeed(t *testing.T) {
	c, wall := newClock(t, 2)
	c.EstablishAnchor(recorded)

	wall.advance(5 * time.Second)
	assert.Equal(t, recorded.Add(10*time.Second), c.LogTime())
	assert.Equal(t, 2.0, c.Factor())
}
