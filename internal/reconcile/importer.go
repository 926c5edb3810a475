// Package reconcile persists canonical records in sequential batches.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/service"
)

// Defaults for the batched importer.
const (
	DefaultBatchSize = 1000
	DefaultDelay     = 100 * time.Millisecond
)

// Store is the persisted catalog as seen by the importer.
type Store interface {
	SelectExisting(ctx context.Context, keys []string) (map[string]struct{}, error)
	Upsert(ctx context.Context, records []model.CanonicalRecord) error
	DeleteAll(ctx context.Context) error
	DeleteByKey(ctx context.Context, key string) error
}

// ProgressFunc receives the completed percentage and the number of rows
// persisted so far.
type ProgressFunc func(percent, processed int)

// Options tunes an Importer.
type Options struct {
	Retry     service.RetryOptions
	BatchSize int
	Delay     time.Duration
}

// Batch is the half-open row range [Start, End).
type Batch struct {
	Start int
	End   int
}

// Partition splits n rows into ceil(n/size) contiguous batches.
func Partition(n, size int) []Batch {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		batches = append(batches, Batch{Start: start, End: min(start+size, n)})
	}
	return batches
}

// Importer upserts record sets batch by batch. A failing batch is recorded
// and skipped; it never aborts the run.
type Importer struct {
	store Store
	opts  Options
}

// NewImporter creates an importer. BatchSize defaults to 1000 and Delay to
// 100ms; a negative Delay disables the pause between batches.
func NewImporter(store Store, opts Options) *Importer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Importer{store: store, opts: opts}
}

// Import persists rows. Cancellation is checked before each batch and during
// the pause between batches; a cancelled run returns the partial result
// together with the context error. The final progress callback always
// reports 100%.
func (i *Importer) Import(ctx context.Context, rows []model.CanonicalRecord, onProgress ProgressFunc) (*model.ReconciliationResult, error) {
	if onProgress == nil {
		onProgress = func(int, int) {}
	}

	res := &model.ReconciliationResult{Total: len(rows), Errors: []string{}}
	batches := Partition(len(rows), i.opts.BatchSize)
	seen := make(map[string]struct{}, len(rows))

	var runErr error
	for n, b := range batches {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		inserted, updated, err := i.importBatch(ctx, rows[b.Start:b.End], seen)
		if err != nil {
			batchErr := &common.BatchError{Index: n + 1, Err: err}
			res.AddError(batchErr.Error())
			for idx := b.Start; idx < b.End; idx++ {
				res.FailedRows = append(res.FailedRows, model.FailedRow{
					Row:    idx,
					Key:    rows[idx].Key,
					Reason: batchErr.Error(),
				})
			}
			slog.Warn("Import batch failed",
				"batch", n+1,
				"batches", len(batches),
				"rows", b.End-b.Start,
				"error", err)
		} else {
			res.Inserted += inserted
			res.Updated += updated
			onProgress(percent(b.End, len(rows)), res.Persisted())
			slog.Debug("Import batch committed",
				"batch", n+1,
				"batches", len(batches),
				"inserted", inserted,
				"updated", updated)
		}

		if n < len(batches)-1 && i.opts.Delay > 0 {
			if err := sleep(ctx, i.opts.Delay); err != nil {
				runErr = err
				break
			}
		}
	}

	if runErr != nil {
		res.Cancelled = true
	}
	onProgress(100, res.Persisted())

	slog.Info("Import finished",
		"total", res.Total,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"failed", len(res.FailedRows),
		"cancelled", res.Cancelled)

	return res, runErr
}

// importBatch classifies the batch against the store and the keys already
// written in this run, then upserts it in one call.
func (i *Importer) importBatch(ctx context.Context, batch []model.CanonicalRecord, seen map[string]struct{}) (int, int, error) {
	keys := make([]string, 0, len(batch))
	for _, r := range batch {
		if r.Key == "" {
			return 0, 0, fmt.Errorf("%w: record %q", common.ErrMissingKey, r.Name)
		}
		keys = append(keys, r.Key)
	}

	var existing map[string]struct{}
	err := common.WithRetry(ctx, func() error {
		var selErr error
		existing, selErr = i.store.SelectExisting(ctx, keys)
		return selErr
	}, i.opts.Retry)
	if err != nil {
		return 0, 0, fmt.Errorf("existence check: %w", err)
	}

	inserted, updated := 0, 0
	batchSeen := make(map[string]struct{}, len(batch))
	for _, k := range keys {
		_, inStore := existing[k]
		_, inRun := seen[k]
		_, inBatch := batchSeen[k]
		if inStore || inRun || inBatch {
			updated++
		} else {
			inserted++
		}
		batchSeen[k] = struct{}{}
	}

	err = common.WithRetry(ctx, func() error {
		return i.store.Upsert(ctx, batch)
	}, i.opts.Retry)
	if err != nil {
		return 0, 0, err
	}

	for k := range batchSeen {
		seen[k] = struct{}{}
	}
	return inserted, updated, nil
}

// ClearAll removes every catalog entry in a single call.
func (i *Importer) ClearAll(ctx context.Context) error {
	if err := i.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	slog.Info("Catalog cleared")
	return nil
}

// Delete removes one catalog entry by key.
func (i *Importer) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", common.ErrValidation)
	}
	if err := i.store.DeleteByKey(ctx, key); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// NewImportRun builds the audit record of a finished import. skipped counts
// rows dropped before reaching the importer.
func NewImportRun(source string, schema model.Schema, started time.Time, res *model.ReconciliationResult, skipped int) *model.ImportRun {
	return &model.ImportRun{
		ID:         uuid.NewString(),
		SourceFile: source,
		Schema:     schema,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Total:      res.Total,
		Inserted:   res.Inserted,
		Updated:    res.Updated,
		Failed:     len(res.FailedRows),
		Skipped:    skipped,
		Cancelled:  res.Cancelled,
		Errors:     res.ErrorList(),
	}
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
