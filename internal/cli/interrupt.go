package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler turns Ctrl+C during a long import or match run into a
// context cancellation plus a one-time message telling the user what was
// kept.
type InterruptHandler struct {
	writer    io.Writer
	operation string

	mu          sync.Mutex
	cancel      context.CancelFunc
	hint        string
	interrupted bool
}

// NewInterruptHandler returns a handler that reports "<operation>
// interrupted!" on w. A nil w writes to stdout.
func NewInterruptHandler(w io.Writer, operation string) *InterruptHandler {
	if w == nil {
		w = os.Stdout
	}
	if operation == "" {
		operation = "Operation"
	}
	return &InterruptHandler{writer: w, operation: operation}
}

// HandleInterrupts derives a context that is cancelled on SIGINT or SIGTERM.
// hint is printed under the interrupt message when non-empty. Signal
// delivery stops once the returned context is done.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context, hint string) context.Context {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel, h.hint = cancel, hint
	h.mu.Unlock()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			h.Interrupt()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// Interrupt cancels the handled context. The message is written only on the
// first call.
func (h *InterruptHandler) Interrupt() {
	h.mu.Lock()
	first := !h.interrupted
	h.interrupted = true
	cancel, hint := h.cancel, h.hint
	h.mu.Unlock()

	if first {
		msg := "\n\n" + FormatWarning(h.operation+" interrupted!") + "\n"
		if hint != "" {
			msg += FormatInfo(hint) + "\n"
		}
		if _, err := io.WriteString(h.writer, msg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// WasInterrupted reports whether Interrupt has run.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
