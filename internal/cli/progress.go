package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// ImportProgress renders importer progress callbacks as a terminal bar that
// counts percent complete.
type ImportProgress struct {
	bar     *progressbar.ProgressBar
	last    int
	persist int
	mu      sync.Mutex
}

// NewImportProgress creates a progress bar for an import of total rows.
func NewImportProgress(writer io.Writer, total int) *ImportProgress {
	if writer == nil {
		writer = os.Stdout
	}

	p := &ImportProgress{}
	p.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan][bold]Importing %d rows...[reset]", total)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return p
}

// Update is an importer progress callback. Percent never moves backwards.
func (p *ImportProgress) Update(percent, processed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.persist = processed
	if percent <= p.last {
		return
	}
	p.last = min(percent, 100)
	if err := p.bar.Set(p.last); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the bar if the import stopped early.
func (p *ImportProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last < 100 {
		if err := p.bar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
	}
}

// Processed returns the persisted row count from the latest callback.
func (p *ImportProgress) Processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persist
}
