package event

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// PipeWriter writes one JSON line per event to an underlying writer,
// typically the file or named pipe at the configured EVENT_PIPE path
// (spec §6). It serializes concurrent emissions with a mutex since the
// core's own operations are not reentrant but its event sink may be
// shared across goroutines doing blocking I/O (spec §5).
type PipeWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
	f  io.Closer
}

// OpenPipe opens an existing path for writing (a regular file is neither
// created nor truncated; a named pipe is simply opened) and returns a
// Listener plus a closer. If path is empty, OpenPipe returns a no-op Listener, matching
// spec §6's "if configured" qualifier on EVENT_PIPE.
func OpenPipe(path string) (Listener, io.Closer, error) {
	if path == "" {
		return Nop, nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("event: opening EVENT_PIPE %s: %w", path, err)
	}
	pw := &PipeWriter{w: bufio.NewWriter(f), f: f}
	return pw.Emit, pw, nil
}

func (pw *PipeWriter) Emit(s fmt.Stringer) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	fmt.Fprintln(pw.w, s.String())
	pw.w.Flush()
}

func (pw *PipeWriter) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.w.Flush()
	return pw.f.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
