package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfo(t *testing.T) {
	l, err := New(LoggingConfig{})
	require.NoError(t, err)

	assert.False(t, l.Desugar().Core().Enabled(-1), "debug should be disabled by default")
	assert.True(t, l.Desugar().Core().Enabled(0))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "replay.log")

	l, err := New(LoggingConfig{Level: "debug", Path: path})
	require.NoError(t, err)

	l.Infow("replay started", "target", "http://staging")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "replay started")
	assert.Contains(t, string(data), "http://staging")
}

func TestContextRoundTrip(t *testing.T) {
	assert.NotNil(t, Get(nil))
	assert.NotNil(t, Get(context.Background()))

	l, err := New(LoggingConfig{})
	require.NoError(t, err)

	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, Get(ctx))
}
