package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/buger/logreplay/accesslog"
	"github.com/buger/logreplay/fetch"
	"github.com/buger/logreplay/logger"
	"github.com/buger/logreplay/playback"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override, e.g. LOGREPLAY_TARGET.
const EnvPrefix = "LOGREPLAY_"

// AppSettings is the resolved replay configuration. Sources are applied in
// order: Defaults, YAML file, environment, flags, positional arguments.
type AppSettings struct {
	Config string `yaml:"-" env:"CONFIG"`

	File        string `yaml:"file" env:"FILE"`
	Target      string `yaml:"target" env:"TARGET"`
	Concurrency int    `yaml:"concurrency" env:"CONCURRENCY"`

	Compression     float64       `yaml:"compression" env:"COMPRESSION"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRedirects    int           `yaml:"max_redirects" env:"MAX_REDIRECTS"`
	Timezone        string        `yaml:"timezone" env:"TIMEZONE"`
	BehindThreshold time.Duration `yaml:"behind_threshold" env:"BEHIND_THRESHOLD"`

	Filter       string `yaml:"filter" env:"FILTER"`
	IncludeQuery bool   `yaml:"include_query" env:"INCLUDE_QUERY"`
	Insecure     bool   `yaml:"insecure" env:"INSECURE"`

	Stats       bool   `yaml:"stats" env:"STATS"`
	Verbose     bool   `yaml:"verbose" env:"VERBOSE"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	Kafka   KafkaConfig          `yaml:"kafka" envPrefix:"KAFKA_"`
	Logging logger.LoggingConfig `yaml:"logging" envPrefix:"LOG_"`

	location *time.Location
	filter   *accesslog.Filter
}

// ConfigError means the replay cannot start with the given settings.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func Defaults() AppSettings {
	return AppSettings{
		Concurrency:     fetch.DefaultSize,
		Compression:     playback.DefaultFactor,
		ConnectTimeout:  fetch.DefaultConnectTimeout,
		Timeout:         fetch.DefaultTotalTimeout,
		MaxRedirects:    fetch.DefaultMaxRedirects,
		Timezone:        "UTC",
		BehindThreshold: playback.DefaultBehindThreshold,
	}
}

func registerFlags(fs *pflag.FlagSet, s *AppSettings) {
	fs.StringVar(&s.Config, "config", s.Config, "YAML settings file")

	fs.StringVarP(&s.File, "file", "f", s.File, "Access log to replay, '-' for stdin, .gz is decompressed")
	fs.StringVarP(&s.Target, "target", "t", s.Target, "Server to replay against, e.g. http://staging.example.com")
	fs.IntVarP(&s.Concurrency, "concurrency", "c", s.Concurrency, fmt.Sprintf("Concurrent connections (%d..%d)", fetch.MinSize, fetch.MaxSize))

	fs.Float64Var(&s.Compression, "compression", s.Compression, "Replay speed-up: recorded gaps are divided by this factor")
	fs.DurationVar(&s.ConnectTimeout, "connect-timeout", s.ConnectTimeout, "Connection establishment timeout")
	fs.DurationVar(&s.Timeout, "timeout", s.Timeout, "Whole request timeout, redirects included")
	fs.IntVar(&s.MaxRedirects, "max-redirects", s.MaxRedirects, "Redirects followed per request")
	fs.StringVar(&s.Timezone, "timezone", s.Timezone, "Zone the log timestamps were recorded in (IANA name or Local)")
	fs.DurationVar(&s.BehindThreshold, "behind-threshold", s.BehindThreshold, "Warn when the replay falls this far behind schedule")

	fs.StringVar(&s.Filter, "filter", s.Filter, `Only replay entries matching the expression, e.g. 'method == "GET" && status < 400'`)
	fs.BoolVar(&s.IncludeQuery, "include-query", s.IncludeQuery, "Append the recorded query string to replayed URLs")
	fs.BoolVar(&s.Insecure, "insecure", s.Insecure, "Skip TLS certificate verification")

	fs.BoolVar(&s.Stats, "stats", s.Stats, "Log request counters every second")
	fs.BoolVarP(&s.Verbose, "verbose", "v", s.Verbose, "Log every dispatch and scheduling decision")
	fs.StringVar(&s.MetricsAddr, "metrics-addr", s.MetricsAddr, "Serve Prometheus metrics on this address, e.g. :9100")

	fs.StringVar(&s.Kafka.Host, "output-kafka-host", s.Kafka.Host, "Comma separated Kafka brokers to publish outcomes to")
	fs.StringVar(&s.Kafka.Topic, "output-kafka-topic", s.Kafka.Topic, "Kafka topic for outcomes")
}

// applyFlag copies one explicitly set flag from flagged into s.
func (s *AppSettings) applyFlag(name string, flagged *AppSettings) {
	switch name {
	case "config":
		s.Config = flagged.Config
	case "file":
		s.File = flagged.File
	case "target":
		s.Target = flagged.Target
	case "concurrency":
		s.Concurrency = flagged.Concurrency
	case "compression":
		s.Compression = flagged.Compression
	case "connect-timeout":
		s.ConnectTimeout = flagged.ConnectTimeout
	case "timeout":
		s.Timeout = flagged.Timeout
	case "max-redirects":
		s.MaxRedirects = flagged.MaxRedirects
	case "timezone":
		s.Timezone = flagged.Timezone
	case "behind-threshold":
		s.BehindThreshold = flagged.BehindThreshold
	case "filter":
		s.Filter = flagged.Filter
	case "include-query":
		s.IncludeQuery = flagged.IncludeQuery
	case "insecure":
		s.Insecure = flagged.Insecure
	case "stats":
		s.Stats = flagged.Stats
	case "verbose":
		s.Verbose = flagged.Verbose
	case "metrics-addr":
		s.MetricsAddr = flagged.MetricsAddr
	case "output-kafka-host":
		s.Kafka.Host = flagged.Kafka.Host
	case "output-kafka-topic":
		s.Kafka.Topic = flagged.Kafka.Topic
	}
}

// LoadSettings resolves the final settings. flagged holds the values cobra
// parsed into; only flags the user actually set override file and env.
func LoadSettings(fs *pflag.FlagSet, flagged *AppSettings, args []string) (*AppSettings, error) {
	s := Defaults()

	path := flagged.Config
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := s.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, configErrorf("environment: %v", err)
	}

	fs.Visit(func(f *pflag.Flag) {
		s.applyFlag(f.Name, flagged)
	})

	if err := s.applyArgs(args); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *AppSettings) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return configErrorf("read settings file: %v", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return configErrorf("parse settings file %s: %v", path, err)
	}
	return nil
}

// applyArgs handles the short form: <log-file> <target-server> [connections].
func (s *AppSettings) applyArgs(args []string) error {
	if len(args) > 3 {
		return configErrorf("too many arguments: %v", args)
	}
	if len(args) > 0 {
		s.File = args[0]
	}
	if len(args) > 1 {
		s.Target = args[1]
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return configErrorf("invalid number of concurrent connections %q", args[2])
		}
		s.Concurrency = n
	}
	return nil
}

// Validate checks the settings and resolves the timezone and filter.
func (s *AppSettings) Validate() error {
	if s.File == "" {
		return configErrorf("log file is required")
	}
	if s.Target == "" {
		return configErrorf("target server is required")
	}

	u, err := url.Parse(s.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return configErrorf("target server %q must be an http or https URL", s.Target)
	}

	if s.Concurrency < fetch.MinSize || s.Concurrency > fetch.MaxSize {
		return configErrorf("invalid number of concurrent connections %d, expected %d..%d", s.Concurrency, fetch.MinSize, fetch.MaxSize)
	}
	if s.Compression <= 0 {
		return configErrorf("compression factor must be positive, got %v", s.Compression)
	}
	if s.ConnectTimeout <= 0 || s.Timeout <= 0 {
		return configErrorf("timeouts must be positive")
	}
	if s.MaxRedirects < 0 {
		return configErrorf("max redirects must not be negative")
	}
	if s.BehindThreshold <= 0 {
		return configErrorf("behind threshold must be positive")
	}

	if s.location, err = time.LoadLocation(s.Timezone); err != nil {
		return configErrorf("timezone %q: %v", s.Timezone, err)
	}

	s.filter = nil
	if s.Filter != "" {
		if s.filter, err = accesslog.CompileFilter(s.Filter); err != nil {
			return configErrorf("%v", err)
		}
	}

	if s.Kafka.Host != "" && s.Kafka.Topic == "" {
		return configErrorf("kafka topic is required when a kafka host is set")
	}

	return nil
}

func (s *AppSettings) fetchConfig() fetch.Config {
	cfg := fetch.DefaultConfig()
	cfg.Size = s.Concurrency
	cfg.ConnectTimeout = s.ConnectTimeout
	cfg.TotalTimeout = s.Timeout
	cfg.MaxRedirects = s.MaxRedirects
	cfg.Insecure = s.Insecure
	cfg.UserAgent = "logreplay/" + VERSION
	return cfg
}

func (s *AppSettings) loggingConfig() logger.LoggingConfig {
	cfg := s.Logging
	if s.Verbose {
		cfg.Level = "debug"
	}
	return cfg
}
