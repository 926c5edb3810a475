// Package editor holds editable row collections with bounded undo history.
package editor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
)

// DefaultHistoryLimit is the number of snapshots kept for undo.
const DefaultHistoryLimit = 20

// ErrEmptyPatch is returned when a patch has no fields.
var ErrEmptyPatch = errors.New("patch has no fields")

// Row is one editable record.
type Row struct {
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ID          string                 `json:"id"`
	Suggestions []model.CandidateMatch `json:"suggestions,omitempty"`
	Record      model.CanonicalRecord  `json:"record"`
	Selected    bool                   `json:"selected"`
}

func (r Row) clone() Row {
	c := r
	c.Record = r.Record.Clone()
	if r.Suggestions != nil {
		c.Suggestions = make([]model.CandidateMatch, len(r.Suggestions))
		for i, m := range r.Suggestions {
			c.Suggestions[i] = m
			if m.Entry.Price != nil {
				p := *m.Entry.Price
				c.Suggestions[i].Entry.Price = &p
			}
		}
	}
	return c
}

// Patch assigns field values; a nil value clears the field.
type Patch map[model.Field]any

func (p Patch) apply(rec *model.CanonicalRecord) error {
	for f, v := range p {
		if err := rec.Set(f, v); err != nil {
			return err
		}
	}
	return nil
}

// Store is a mutex guarded row collection. Every mutation pushes a deep copy
// of the previous rows onto the undo stack and clears the redo stack.
type Store struct {
	now     func() time.Time
	rows    []Row
	history [][]Row
	redo    [][]Row
	limit   int
	dirty   bool
	mu      sync.Mutex
}

// NewStore creates an empty store keeping at most limit snapshots.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Store{limit: limit, now: time.Now}
}

func snapshot(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.clone()
	}
	return out
}

// record must be called with the lock held, before the rows change.
func (s *Store) record() {
	s.history = pushBounded(s.history, snapshot(s.rows), s.limit)
	s.redo = nil
	s.dirty = true
}

func pushBounded(stack [][]Row, snap []Row, limit int) [][]Row {
	stack = append(stack, snap)
	if len(stack) > limit {
		stack = append(stack[:0:0], stack[len(stack)-limit:]...)
	}
	return stack
}

func (s *Store) indexOf(id string) int {
	for i := range s.rows {
		if s.rows[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) newRow(rec model.CanonicalRecord, at time.Time) Row {
	return Row{ID: uuid.NewString(), Record: rec.Clone(), CreatedAt: at, UpdatedAt: at}
}

// SetAll replaces the collection with fresh rows for records.
func (s *Store) SetAll(records []model.CanonicalRecord) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record()
	at := s.now()
	s.rows = make([]Row, 0, len(records))
	for _, rec := range records {
		s.rows = append(s.rows, s.newRow(rec, at))
	}
	return snapshot(s.rows)
}

// Load replaces the collection without recording history or marking the
// store dirty. It is meant for the initial load of a file.
func (s *Store) Load(records []model.CanonicalRecord) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	s.rows = make([]Row, 0, len(records))
	for _, rec := range records {
		s.rows = append(s.rows, s.newRow(rec, at))
	}
	s.history = nil
	s.redo = nil
	s.dirty = false
	return snapshot(s.rows)
}

// Append adds records after the existing rows.
func (s *Store) Append(records ...model.CanonicalRecord) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record()
	at := s.now()
	added := make([]Row, 0, len(records))
	for _, rec := range records {
		row := s.newRow(rec, at)
		s.rows = append(s.rows, row)
		added = append(added, row.clone())
	}
	return added
}

// PatchOne applies p to one row. The row is left unchanged when any field
// fails to apply.
func (s *Store) PatchOne(id string, p Patch) (Row, error) {
	rows, err := s.PatchMany([]string{id}, p)
	if err != nil {
		return Row{}, err
	}
	return rows[0], nil
}

// PatchMany applies p to every listed row that exists. Nothing changes when
// the patch fails on any row or no row matches.
func (s *Store) PatchMany(ids []string, p Patch) ([]Row, error) {
	if len(p) == 0 {
		return nil, ErrEmptyPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type pending struct {
		rec model.CanonicalRecord
		idx int
	}
	var updates []pending
	for _, id := range ids {
		idx := s.indexOf(id)
		if idx < 0 {
			continue
		}
		rec := s.rows[idx].Record.Clone()
		if err := p.apply(&rec); err != nil {
			return nil, fmt.Errorf("row %s: %w", id, err)
		}
		updates = append(updates, pending{idx: idx, rec: rec})
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no matching rows", common.ErrNotFound)
	}

	s.record()
	at := s.now()
	out := make([]Row, 0, len(updates))
	for _, u := range updates {
		s.rows[u.idx].Record = u.rec
		s.rows[u.idx].UpdatedAt = at
		out = append(out, s.rows[u.idx].clone())
	}
	return out, nil
}

// DeleteMany removes the listed rows and returns how many were removed.
func (s *Store) DeleteMany(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if s.indexOf(id) >= 0 {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	s.record()
	kept := s.rows[:0:0]
	for _, r := range s.rows {
		if _, ok := drop[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	return len(drop)
}

// Clear removes every row, or only the selected ones. It returns how many
// rows were removed.
func (s *Store) Clear(onlySelected bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !onlySelected {
		n := len(s.rows)
		if n == 0 {
			return 0
		}
		s.record()
		s.rows = nil
		return n
	}

	kept := s.rows[:0:0]
	for _, r := range s.rows {
		if !r.Selected {
			kept = append(kept, r)
		}
	}
	n := len(s.rows) - len(kept)
	if n == 0 {
		return 0
	}
	s.record()
	s.rows = kept
	return n
}

// Duplicate inserts a copy of each listed row directly after it.
func (s *Store) Duplicate(ids []string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if s.indexOf(id) >= 0 {
			want[id] = struct{}{}
		}
	}
	if len(want) == 0 {
		return nil
	}

	s.record()
	at := s.now()
	var added []Row
	out := make([]Row, 0, len(s.rows)+len(want))
	for _, r := range s.rows {
		out = append(out, r)
		if _, ok := want[r.ID]; ok {
			dup := r.clone()
			dup.ID = uuid.NewString()
			dup.Selected = false
			dup.CreatedAt = at
			dup.UpdatedAt = at
			out = append(out, dup)
			added = append(added, dup.clone())
		}
	}
	s.rows = out
	return added
}

// Reorder moves the row at position from to position to.
func (s *Store) Reorder(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.rows)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: position out of range [0,%d)", common.ErrValidation, n)
	}
	if from == to {
		return nil
	}

	s.record()
	row := s.rows[from]
	row.UpdatedAt = s.now()
	rest := append(s.rows[:from:from], s.rows[from+1:]...)
	s.rows = append(rest[:to:to], append([]Row{row}, rest[to:]...)...)
	return nil
}

// SetSuggestions attaches candidate matches to a row. Suggestions are
// transient lookup results, so this is not recorded in the history.
func (s *Store) SetSuggestions(id string, matches []model.CandidateMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("row %s: %w", id, common.ErrNotFound)
	}
	s.rows[idx].Suggestions = append([]model.CandidateMatch(nil), matches...)
	return nil
}

// ApplySuggestion copies a catalog entry onto a row and drops its pending
// suggestions as a single undoable mutation.
func (s *Store) ApplySuggestion(id string, entry model.CatalogEntry) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return Row{}, fmt.Errorf("row %s: %w", id, common.ErrNotFound)
	}

	return s.applyAt(idx, entry), nil
}

// ApplySuggestionKey applies the row's pending suggestion whose catalog key
// is key. The lookup and the mutation happen under one lock, so a concurrent
// re-suggest cannot slip a stale entry in between.
func (s *Store) ApplySuggestionKey(id, key string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return Row{}, fmt.Errorf("row %s: %w", id, common.ErrNotFound)
	}
	for _, m := range s.rows[idx].Suggestions {
		if m.Entry.Key == key {
			return s.applyAt(idx, m.Entry), nil
		}
	}
	return Row{}, fmt.Errorf("suggestion %s for row %s: %w", key, id, common.ErrNotFound)
}

// applyAt must be called with s.mu held.
func (s *Store) applyAt(idx int, entry model.CatalogEntry) Row {
	s.record()
	s.rows[idx].Record = matching.SelectMatch(s.rows[idx].Record, entry)
	s.rows[idx].Suggestions = nil
	s.rows[idx].UpdatedAt = s.now()
	return s.rows[idx].clone()
}

// Undo restores the previous snapshot. It reports false when there is
// nothing to undo.
func (s *Store) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return false
	}
	prev := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.redo = pushBounded(s.redo, s.rows, s.limit)
	s.rows = prev
	s.dirty = true
	return true
}

// Redo re-applies the most recently undone snapshot.
func (s *Store) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.redo) == 0 {
		return false
	}
	next := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.history = pushBounded(s.history, s.rows, s.limit)
	s.rows = next
	s.dirty = true
	return true
}

// CanUndo reports whether Undo would change anything.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history) > 0
}

// CanRedo reports whether Redo would change anything.
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redo) > 0
}

// HistoryLen returns the number of undo snapshots held.
func (s *Store) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Select sets the selection flag of one row.
func (s *Store) Select(id string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("row %s: %w", id, common.ErrNotFound)
	}
	s.rows[idx].Selected = selected
	return nil
}

// Toggle flips the selection flag of one row.
func (s *Store) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false, fmt.Errorf("row %s: %w", id, common.ErrNotFound)
	}
	s.rows[idx].Selected = !s.rows[idx].Selected
	return s.rows[idx].Selected, nil
}

// SelectAll selects every row.
func (s *Store) SelectAll() {
	s.setSelection(true)
}

// DeselectAll clears the selection.
func (s *Store) DeselectAll() {
	s.setSelection(false)
}

func (s *Store) setSelection(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		s.rows[i].Selected = v
	}
}

// SelectedIDs returns the ids of selected rows in collection order.
func (s *Store) SelectedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, r := range s.rows {
		if r.Selected {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Rows returns a deep copy of the collection.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.rows)
}

// Row returns a copy of one row.
func (s *Store) Row(id string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return Row{}, fmt.Errorf("row %s: %w", id, common.ErrNotFound)
	}
	return s.rows[idx].clone(), nil
}

// Records returns the canonical records in collection order.
func (s *Store) Records() []model.CanonicalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.CanonicalRecord, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.Record.Clone()
	}
	return out
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Dirty reports whether the collection changed since the last MarkClean.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// MarkClean clears the dirty flag after a successful save or export.
func (s *Store) MarkClean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}
