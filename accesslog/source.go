// Package accesslog reads W3C extended access logs as a lazy stream of
// entries. Lines are pulled one at a time; nothing is read ahead.
//
// Expected layout, whitespace separated:
//
//	date time c-ip cs-username s-ip s-port cs-method cs-uri-stem cs-uri-query sc-status sc-bytes cs-bytes cs(User-Agent) cs(Referer)
//
// Lines that do not match are skipped with a diagnostic and never end the
// stream.
package accesslog

import (
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Source is a single forward pass over a LineReader.
type Source struct {
	lines  LineReader
	parser *Parser
	filter *Filter
	onSkip func(*ParseError)
	log    *zap.SugaredLogger

	lineNum  int
	skipped  int
	filtered int
	done     bool
}

type SourceOption func(*Source)

// WithFilter drops entries that do not match f.
func WithFilter(f *Filter) SourceOption {
	return func(s *Source) { s.filter = f }
}

// WithSkipHook is called for every malformed line.
func WithSkipHook(fn func(*ParseError)) SourceOption {
	return func(s *Source) { s.onSkip = fn }
}

func WithLogger(l *zap.SugaredLogger) SourceOption {
	return func(s *Source) { s.log = l }
}

func NewSource(lines LineReader, parser *Parser, opts ...SourceOption) *Source {
	if parser == nil {
		parser = NewParser(nil)
	}

	s := &Source{
		lines:  lines,
		parser: parser,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next well-formed entry, or io.EOF once the input is
// drained. Errors from the underlying reader are returned unchanged.
func (s *Source) Next() (Entry, error) {
	for !s.done {
		line, err := s.lines.ReadLine()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return Entry{}, err
		}
		s.lineNum++

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			s.log.Debugf("Skipping directive line %d", s.lineNum)
			continue
		}

		entry, err := s.parser.Parse(line)
		if err != nil {
			s.skip(err)
			continue
		}

		if s.filter != nil {
			matched, err := s.filter.Match(entry)
			if err != nil {
				s.log.Warnf("Filter %q failed on line %d: %v", s.filter, s.lineNum, err)
			}
			if !matched {
				s.filtered++
				continue
			}
		}

		return entry, nil
	}

	return Entry{}, io.EOF
}

func (s *Source) skip(err error) {
	s.skipped++

	var perr *ParseError
	if !errors.As(err, &perr) {
		perr = &ParseError{Reason: err.Error()}
	}
	perr.Line = s.lineNum

	s.log.Infof("Skipping noise line %d: %s", s.lineNum, perr.Text)
	if s.onSkip != nil {
		s.onSkip(perr)
	}
}

// Skipped is the number of malformed lines seen so far.
func (s *Source) Skipped() int { return s.skipped }

// Filtered is the number of well-formed entries rejected by the filter.
func (s *Source) Filtered() int { return s.filtered }

func (s *Source) Close() error {
	return s.lines.Close()
}
