package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrInputCancelled is returned when the context ends before a line arrives.
var ErrInputCancelled = errors.New("input canceled")

// NonBlockingReader reads lines from a terminal without pinning the caller:
// a single background goroutine scans the input and ReadLine waits on it or
// on the context, whichever comes first. A line that arrives after a
// cancelled ReadLine is kept for the next call.
type NonBlockingReader struct {
	src   io.Reader
	lines chan string
	err   error
	start sync.Once
}

// NewNonBlockingReader wraps r. Nothing is read until the first ReadLine.
func NewNonBlockingReader(r io.Reader) *NonBlockingReader {
	if r == nil {
		panic("reader cannot be nil")
	}
	return &NonBlockingReader{src: r, lines: make(chan string)}
}

func (r *NonBlockingReader) pump() {
	sc := bufio.NewScanner(r.src)
	for sc.Scan() {
		r.lines <- sc.Text()
	}
	r.err = sc.Err()
	if r.err == nil {
		r.err = io.EOF
	}
	close(r.lines)
}

// ReadLine returns the next line with surrounding whitespace trimmed. A final
// line without a trailing newline is returned as-is; after it, io.EOF.
func (r *NonBlockingReader) ReadLine(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrInputCancelled
	}
	r.start.Do(func() { go r.pump() })

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case line, ok := <-r.lines:
		if !ok {
			return "", r.err
		}
		return strings.TrimSpace(line), nil
	}
}

// Confirm asks a yes/no question and reports whether the answer was yes.
// Only y, yes, д and да (any case) count as yes. End of input means no.
func Confirm(ctx context.Context, r *NonBlockingReader, w io.Writer, question string) (bool, error) {
	if _, err := fmt.Fprint(w, FormatPrompt(question+" [y/N]")); err != nil {
		return false, fmt.Errorf("failed to write prompt: %w", err)
	}

	answer, err := r.ReadLine(ctx)
	switch {
	case errors.Is(err, io.EOF):
		return false, nil
	case err != nil:
		return false, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes", "д", "да":
		return true, nil
	default:
		return false, nil
	}
}
