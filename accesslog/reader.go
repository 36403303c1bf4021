package accesslog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/nxadm/tail"
)

const maxLineSize = 1024 * 1024

// LineReader yields raw lines one at a time. io.EOF ends the stream.
type LineReader interface {
	ReadLine() (string, error)
	Close() error
}

// Open picks a reader for path: "-" is stdin, "*.gz" is decompressed on the
// fly, anything else is read to the end with tail.
func Open(path string) (LineReader, error) {
	switch {
	case path == "-":
		return NewLineReader(io.NopCloser(os.Stdin)), nil
	case strings.HasSuffix(path, ".gz"):
		return openGzip(path)
	default:
		return openTail(path)
	}
}

type scannerReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewLineReader splits r into lines. r is closed by Close when it is an
// io.Closer.
func NewLineReader(r io.Reader) LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	sr := &scannerReader{scanner: scanner}
	if c, ok := r.(io.Closer); ok {
		sr.closer = c
	}
	return sr
}

func (r *scannerReader) ReadLine() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scannerReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

func openGzip(path string) (LineReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	zr, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}

	return NewLineReader(&gzipFile{Reader: zr, file: file}), nil
}

type tailReader struct {
	t *tail.Tail
}

func openTail(path string) (LineReader, error) {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    false,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, err
	}
	return &tailReader{t: t}, nil
}

func (r *tailReader) ReadLine() (string, error) {
	line, ok := <-r.t.Lines
	if !ok {
		// Lines is closed once the file is drained or reading failed.
		if err := r.t.Wait(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	if line.Err != nil {
		return "", line.Err
	}
	return strings.TrimRight(line.Text, "\r"), nil
}

func (r *tailReader) Close() error {
	err := r.t.Stop()
	r.t.Cleanup()
	return err
}
