package accesslog

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// filterEnv exposes entry fields to filter expressions under their log
// column names, e.g. `method == "GET" && status < 400`.
type filterEnv struct {
	Time          time.Time `expr:"time"`
	ClientIP      string    `expr:"client_ip"`
	Username      string    `expr:"username"`
	ServerIP      string    `expr:"server_ip"`
	ServerPort    int       `expr:"server_port"`
	Method        string    `expr:"method"`
	URIStem       string    `expr:"uri_stem"`
	URIQuery      string    `expr:"uri_query"`
	Status        int       `expr:"status"`
	BytesSent     int64     `expr:"bytes_sent"`
	BytesReceived int64     `expr:"bytes_received"`
	UserAgent     string    `expr:"user_agent"`
	Referer       string    `expr:"referer"`
}

// Filter selects which entries are replayed.
type Filter struct {
	src     string
	program *vm.Program
}

// CompileFilter compiles a boolean expression over entry fields.
func CompileFilter(src string) (*Filter, error) {
	program, err := expr.Compile(src, expr.Env(filterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", src, err)
	}
	return &Filter{src: src, program: program}, nil
}

// Match reports whether e passes the filter.
func (f *Filter) Match(e Entry) (bool, error) {
	out, err := expr.Run(f.program, filterEnv{
		Time:          e.Timestamp,
		ClientIP:      e.ClientIP,
		Username:      e.Username,
		ServerIP:      e.ServerIP,
		ServerPort:    e.ServerPort,
		Method:        e.Method,
		URIStem:       e.URIStem,
		URIQuery:      e.URIQuery,
		Status:        e.Status,
		BytesSent:     e.BytesSent,
		BytesReceived: e.BytesReceived,
		UserAgent:     e.UserAgent,
		Referer:       e.Referer,
	})
	if err != nil {
		return false, err
	}

	matched, _ := out.(bool)
	return matched, nil
}

func (f *Filter) String() string {
	return f.src
}
