package main

import (
	"context"
	"errors"
	"io"

	"github.com/buger/logreplay/replay"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ReplayPlugins are the optional sinks around a replay run.
type ReplayPlugins struct {
	Analyzers []replay.OutcomeAnalyzer
	closers   []io.Closer
}

// registerPlugin detects what plugin implements and wires it accordingly.
func (p *ReplayPlugins) registerPlugin(plugin interface{}, log *zap.SugaredLogger) {
	if a, ok := plugin.(replay.OutcomeAnalyzer); ok {
		p.Analyzers = append(p.Analyzers, a)
	}
	if c, ok := plugin.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}
	log.Infof("Plugin enabled: %v", plugin)
}

// InitPlugins starts the plugins enabled in s.
func InitPlugins(ctx context.Context, s *AppSettings, runID string, reg *prometheus.Registry, log *zap.SugaredLogger) (*ReplayPlugins, error) {
	p := new(ReplayPlugins)

	if s.Kafka.Host != "" || s.Kafka.producer != nil {
		o, err := NewKafkaOutput(runID, &s.Kafka, log)
		if err != nil {
			return nil, err
		}
		p.registerPlugin(o, log)
	}

	if s.MetricsAddr != "" {
		m := NewMetricsServer(s.MetricsAddr, reg, log)
		if err := m.Start(ctx); err != nil {
			p.Close()
			return nil, err
		}
		p.registerPlugin(m, log)
	}

	return p, nil
}

// Close stops plugins in reverse start order.
func (p *ReplayPlugins) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
