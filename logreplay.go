// Logreplay replays a recorded web server access log against another server,
// keeping the recorded arrival pattern compressed in time. Its main goal is
// to put staging and dev environments under the load production saw.
//
//	logreplay replay ex090312.log http://staging.server 20
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/buger/logreplay/accesslog"
	"github.com/buger/logreplay/fetch"
	"github.com/buger/logreplay/logger"
	"github.com/buger/logreplay/playback"
	"github.com/buger/logreplay/replay"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const (
	VERSION = "1.0"
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("PANIC: pkg: %v %s \n", r, debug.Stack())
			code = 2
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, os.Args[1:])
}

func execute(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	var cerr *ConfigError
	if errors.As(err, &cerr) {
		fmt.Fprintln(os.Stderr)
		fmt.Fprint(os.Stderr, cmd.UsageString())
	}
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "logreplay",
		Short:         "Replay web server access logs against a target server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newReplayCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("logreplay", VERSION)
		},
	}
}

func newReplayCmd() *cobra.Command {
	flagged := Defaults()

	cmd := &cobra.Command{
		Use:   "replay [log-file] [target-server] [connections]",
		Short: "Replay an access log",
		Long: `Replay an access log against a target server.

Every entry is requested at its recorded offset divided by the compression
factor, through a fixed number of concurrent connections. Entries that come
due together are sent back to back.`,
		Example: "  logreplay replay ex090312.log http://staging.server 20\n" +
			"  logreplay replay -f access.log.gz -t https://staging.server -c 50 --compression 4",
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := LoadSettings(cmd.Flags(), &flagged, args)
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), settings)
		},
	}

	registerFlags(cmd.Flags(), &flagged)
	return cmd
}

func runReplay(ctx context.Context, s *AppSettings) error {
	log, err := logger.New(s.loggingConfig())
	if err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	defer log.Sync()

	ctx = logger.WithContext(ctx, log)
	runID := uuid.NewString()

	lines, err := accesslog.Open(s.File)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := replay.NewMetrics(reg)

	source := accesslog.NewSource(lines, accesslog.NewParser(s.location),
		accesslog.WithFilter(s.filter),
		accesslog.WithLogger(log),
		accesslog.WithSkipHook(func(*accesslog.ParseError) { metrics.SkippedLines.Inc() }),
	)
	defer source.Close()

	clock, err := playback.New(s.Compression, playback.WithBehindThreshold(s.BehindThreshold))
	if err != nil {
		return &ConfigError{Msg: err.Error()}
	}

	pool, err := fetch.NewPool(s.fetchConfig())
	if err != nil {
		return &ConfigError{Msg: err.Error()}
	}

	plugins, err := InitPlugins(ctx, s, runID, reg, log)
	if err != nil {
		pool.Shutdown()
		return err
	}
	defer func() {
		if err := plugins.Close(); err != nil {
			log.Warnf("Closing plugins: %v", err)
		}
	}()

	log.Infof("logreplay %s, fasthttp transport, run %s", VERSION, runID)
	log.Infof("Replaying %s against %s at %gx, timestamps in %s", s.File, s.Target, s.Compression, s.location)
	if s.filter != nil {
		log.Infof("Only replaying entries matching %s", s.filter)
	}
	log.Infof("Getting URLs using %d connections", s.Concurrency)

	scheduler := replay.NewScheduler(replay.Config{
		Target:       s.Target,
		IncludeQuery: s.IncludeQuery,
		Stats:        s.Stats,
	}, source, pool, clock,
		replay.WithLogger(log),
		replay.WithMetrics(metrics),
		replay.WithAnalyzers(plugins.Analyzers...),
	)

	sum, err := scheduler.Run(ctx)

	log.Infof("Replayed %d requests in %s: %d succeeded, %d failed, %s received",
		sum.Dispatched, sum.Elapsed.Round(time.Millisecond), sum.Succeeded, sum.Failed, humanize.Bytes(uint64(sum.BytesReceived)))
	log.Infof("Latency avg %s max %s, worst lag behind schedule %s",
		sum.AvgLatency.Round(time.Millisecond), sum.MaxLatency.Round(time.Millisecond), sum.MaxBehind.Round(time.Millisecond))
	if len(sum.Codes) > 0 {
		log.Infof("Failures by code: %v", sum.Codes)
	}
	if n := source.Skipped(); n > 0 {
		log.Infof("Skipped %s malformed lines", humanize.Comma(int64(n)))
	}
	if n := source.Filtered(); n > 0 {
		log.Infof("Filtered out %s entries", humanize.Comma(int64(n)))
	}

	if errors.Is(err, context.Canceled) {
		log.Info("Interrupted, replay stopped early")
		return nil
	}
	return err
}
