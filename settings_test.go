package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSettings(t *testing.T, argv ...string) (*AppSettings, error) {
	t.Helper()

	flagged := Defaults()
	fs := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	registerFlags(fs, &flagged)
	require.NoError(t, fs.Parse(argv))

	return LoadSettings(fs, &flagged, fs.Args())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "logreplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestSettingsPositionalArgs(t *testing.T) {
	s, err := parseSettings(t, "ex090312.log", "http://staging.server", "20")
	require.NoError(t, err)

	assert.Equal(t, "ex090312.log", s.File)
	assert.Equal(t, "http://staging.server", s.Target)
	assert.Equal(t, 20, s.Concurrency)
	assert.Equal(t, 2.0, s.Compression)
	assert.Equal(t, 30*time.Second, s.ConnectTimeout)
	assert.Equal(t, 300*time.Second, s.Timeout)
	assert.Equal(t, 5, s.MaxRedirects)
	assert.Equal(t, time.UTC, s.location)
	assert.Nil(t, s.filter)
}

func TestSettingsDefaultConcurrency(t *testing.T) {
	s, err := parseSettings(t, "-f", "access.log", "-t", "https://staging.server")
	require.NoError(t, err)
	assert.Equal(t, 10, s.Concurrency)
}

func TestSettingsPrecedence(t *testing.T) {
	path := writeConfig(t, `
file: from-file.log
target: http://file.server
concurrency: 3
compression: 4
timeout: 1m
include_query: true
kafka:
  host: broker:9092
  topic: outcomes
logging:
  level: warn
`)

	t.Setenv("LOGREPLAY_CONCURRENCY", "7")
	t.Setenv("LOGREPLAY_TARGET", "http://env.server")
	t.Setenv("LOGREPLAY_LOG_LEVEL", "error")

	s, err := parseSettings(t, "--config", path, "--target", "http://flag.server", "--compression", "8")
	require.NoError(t, err)

	assert.Equal(t, "from-file.log", s.File, "file only")
	assert.Equal(t, 7, s.Concurrency, "env beats file")
	assert.Equal(t, "http://flag.server", s.Target, "flag beats env")
	assert.Equal(t, 8.0, s.Compression, "flag beats file")
	assert.Equal(t, time.Minute, s.Timeout)
	assert.True(t, s.IncludeQuery)
	assert.Equal(t, "broker:9092", s.Kafka.Host)
	assert.Equal(t, "outcomes", s.Kafka.Topic)
	assert.Equal(t, "error", s.Logging.Level)

	s, err = parseSettings(t, "--config", path, "positional.log", "http://arg.server", "9")
	require.NoError(t, err)
	assert.Equal(t, "positional.log", s.File)
	assert.Equal(t, "http://arg.server", s.Target)
	assert.Equal(t, 9, s.Concurrency, "positional beats env")
}

func TestSettingsVerboseSwitchesToDebug(t *testing.T) {
	s, err := parseSettings(t, "-v", "a.log", "http://staging")
	require.NoError(t, err)
	assert.Equal(t, "debug", s.loggingConfig().Level)
}

func TestSettingsResolvesTimezoneAndFilter(t *testing.T) {
	s, err := parseSettings(t, "--timezone", "America/New_York", "--filter", `method == "GET"`, "a.log", "http://staging")
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", s.location.String())
	require.NotNil(t, s.filter)
	assert.Equal(t, `method == "GET"`, s.filter.String())
}

func TestSettingsFetchConfig(t *testing.T) {
	s, err := parseSettings(t, "--insecure", "--max-redirects", "0", "--connect-timeout", "2s", "a.log", "http://staging", "4")
	require.NoError(t, err)

	cfg := s.fetchConfig()
	assert.Equal(t, 4, cfg.Size)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 0, cfg.MaxRedirects)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, "logreplay/"+VERSION, cfg.UserAgent)
	assert.NoError(t, cfg.Validate())
}

func TestSettingsConfigErrors(t *testing.T) {
	cases := map[string][]string{
		"missing file":        {},
		"missing target":      {"a.log"},
		"target not http":     {"a.log", "ftp://staging"},
		"zero connections":    {"a.log", "http://staging", "0"},
		"too many":            {"a.log", "http://staging", "10001"},
		"connections not int": {"a.log", "http://staging", "lots"},
		"extra argument":      {"a.log", "http://staging", "1", "extra"},
		"zero compression":    {"--compression", "0", "a.log", "http://staging"},
		"bad timezone":        {"--timezone", "Mars/Olympus", "a.log", "http://staging"},
		"bad filter":          {"--filter", "method ==", "a.log", "http://staging"},
		"negative redirects":  {"--max-redirects=-1", "a.log", "http://staging"},
		"kafka without topic": {"--output-kafka-host", "broker:9092", "a.log", "http://staging"},
		"missing config file": {"--config", "/nonexistent/logreplay.yaml", "a.log", "http://staging"},
	}

	for name, argv := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseSettings(t, argv...)
			var cerr *ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestSettingsBadYAML(t *testing.T) {
	path := writeConfig(t, "concurrency: [1, 2")

	_, err := parseSettings(t, "--config", path, "a.log", "http://staging")
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}
