package accesslog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the date and time columns joined by a single space.
const TimestampLayout = "2006-01-02 15:04:05"

// Entry is one parsed access log line. Only Timestamp and URIStem drive the
// replay, the rest is kept for filtering and diagnostics.
type Entry struct {
	Timestamp     time.Time
	ClientIP      string
	Username      string
	ServerIP      string
	ServerPort    int
	Method        string
	URIStem       string
	URIQuery      string
	Status        int
	BytesSent     int64
	BytesReceived int64
	UserAgent     string
	Referer       string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s %d", e.Timestamp.Format(TimestampLayout), e.Method, e.URIStem, e.Status)
}

// ParseError reports a line that does not match the log layout.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Text)
}

// date time c-ip cs-username s-ip s-port cs-method cs-uri-stem cs-uri-query
// sc-status sc-bytes cs-bytes cs(User-Agent) cs(Referer)
var lineRe = regexp.MustCompile(`(?i)^` +
	`(\d{4}-\d{2}-\d{2})\s+` +
	`(\d{2}:\d{2}:\d{2})\s+` +
	`([0-9a-f:.]+)\s+` +
	`(\S+)\s+` +
	`([0-9a-f:.]+)\s+` +
	`(\d{1,5})\s+` +
	`(\S+)\s+` +
	`(\S+)\s+` +
	`(\S+)\s+` +
	`(\d{1,3})\s+` +
	`(\d+)\s+` +
	`(\d+)\s+` +
	`(\S+)\s+` +
	`(\S.*?)\s*$`)

// Parser turns raw lines into entries, reading timestamps in loc.
type Parser struct {
	loc *time.Location
}

// NewParser returns a parser for loc; nil means UTC.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

// Location returns the zone recorded timestamps are read in.
func (p *Parser) Location() *time.Location {
	return p.loc
}

// Parse matches line against the fixed field layout.
func (p *Parser) Parse(line string) (Entry, error) {
	line = strings.TrimRight(line, "\r\n")

	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, &ParseError{Text: line, Reason: "line does not match log layout"}
	}

	ts, err := time.ParseInLocation(TimestampLayout, m[1]+" "+m[2], p.loc)
	if err != nil {
		return Entry{}, &ParseError{Text: line, Reason: "bad timestamp: " + err.Error()}
	}

	port, err := strconv.Atoi(m[6])
	if err != nil || port > 65535 {
		return Entry{}, &ParseError{Text: line, Reason: "bad server port " + m[6]}
	}

	// The regexp guarantees digits; only overflow can fail here.
	status, _ := strconv.Atoi(m[10])
	sent, err := strconv.ParseInt(m[11], 10, 64)
	if err != nil {
		return Entry{}, &ParseError{Text: line, Reason: "bad sc-bytes " + m[11]}
	}
	received, err := strconv.ParseInt(m[12], 10, 64)
	if err != nil {
		return Entry{}, &ParseError{Text: line, Reason: "bad cs-bytes " + m[12]}
	}

	return Entry{
		Timestamp:     ts,
		ClientIP:      m[3],
		Username:      m[4],
		ServerIP:      m[5],
		ServerPort:    port,
		Method:        m[7],
		URIStem:       m[8],
		URIQuery:      m[9],
		Status:        status,
		BytesSent:     sent,
		BytesReceived: received,
		UserAgent:     m[13],
		Referer:       m[14],
	}, nil
}
