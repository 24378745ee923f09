// Package composer implements repeatable row sections: lists of rows where
// each row combines a full hierarchy chain with extra fields, no two
// completed rows may carry the same chain combination, and a new row cannot
// be added while an existing one is incomplete.
package composer

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/tukangworks/tukang/internal/hierarchy"
	"github.com/tukangworks/tukang/model"
)

// row pairs one chain resolver with the row's extra field values.
type row struct {
	chain  *hierarchy.Resolver
	fields map[string]string
}

// RowList owns the rows of one section. All methods are safe for concurrent
// use.
type RowList struct {
	def model.RowSectionDefinition
	src hierarchy.Source

	mu   sync.Mutex
	rows []*row
}

// NewRowList creates an empty row list for the given section definition.
func NewRowList(def model.RowSectionDefinition, src hierarchy.Source) *RowList {
	return &RowList{def: def, src: src}
}

// Definition returns the section definition this list was built from.
func (l *RowList) Definition() model.RowSectionDefinition { return l.def }

// Len returns the current number of rows.
func (l *RowList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// AddRow appends a new empty row and populates its root level. It fails with
// ROW_INCOMPLETE while any existing row has empty fields, and with CONFLICT
// once the section's row limit is reached.
func (l *RowList) AddRow(ctx context.Context) (int, error) {
	l.mu.Lock()
	if l.def.MaxRows > 0 && len(l.rows) >= l.def.MaxRows {
		l.mu.Unlock()
		return 0, model.NewConflictError("row limit reached for this section")
	}
	for _, r := range l.rows {
		if !l.rowComplete(r) {
			l.mu.Unlock()
			return 0, model.NewRowIncompleteError()
		}
	}
	r := &row{
		chain:  hierarchy.NewResolver(l.def.Levels, l.src),
		fields: make(map[string]string, len(l.def.Fields)),
	}
	l.rows = append(l.rows, r)
	index := len(l.rows) - 1
	l.mu.Unlock()

	if err := r.chain.Init(ctx); err != nil {
		return index, model.FetchErrorFrom(err)
	}
	return index, nil
}

// RemoveRow deletes the row at the given index.
func (l *RowList) RemoveRow(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.rows) {
		return model.NewNotFoundError("row index out of range")
	}
	l.rows = append(l.rows[:index], l.rows[index+1:]...)
	return nil
}

// SelectAt applies a hierarchy selection on one row. If the selection would
// complete the row's combination and another row already carries it, the
// update is rejected with DUPLICATE_ROW and the row is left unchanged.
func (l *RowList) SelectAt(ctx context.Context, index, level int, itemID string) error {
	l.mu.Lock()
	if index < 0 || index >= len(l.rows) {
		l.mu.Unlock()
		return model.NewNotFoundError("row index out of range")
	}
	r := l.rows[index]

	// Only a terminal selection can complete a combination: selecting at a
	// non-terminal level clears the deeper selections first. A terminal
	// selection issues no fetch, so the check and the apply stay under the
	// list lock; two rows racing for the same combination cannot both pass.
	if level == len(l.def.Levels)-1 {
		ids := selectionIDs(r.chain)
		ids[level] = itemID
		if key := combinationKey(ids); key != "" && l.taken(key, index) {
			l.mu.Unlock()
			return model.NewDuplicateRowError(l.def.Levels[level].Key)
		}
		err := r.chain.SelectAt(ctx, level, itemID)
		l.mu.Unlock()
		if err != nil {
			return model.FetchErrorFrom(err)
		}
		return nil
	}
	l.mu.Unlock()

	if err := r.chain.SelectAt(ctx, level, itemID); err != nil {
		return model.FetchErrorFrom(err)
	}
	return nil
}

// SetField sets one extra field on a row.
func (l *RowList) SetField(index int, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.rows) {
		return model.NewNotFoundError("row index out of range")
	}
	if !l.knownField(key) {
		return model.NewBadRequestError("unknown row field " + strconv.Quote(key))
	}
	l.rows[index].fields[key] = value
	return nil
}

// Hydrate rebuilds the list from persisted rows: each entry carries the
// hierarchy references top-down plus the extra field values. Existing rows
// are discarded.
func (l *RowList) Hydrate(ctx context.Context, records []RowRecord) error {
	l.mu.Lock()
	l.rows = nil
	l.mu.Unlock()

	for _, rec := range records {
		r := &row{
			chain:  hierarchy.NewResolver(l.def.Levels, l.src),
			fields: make(map[string]string, len(l.def.Fields)),
		}
		if err := r.chain.Hydrate(ctx, rec.Refs); err != nil {
			return model.FetchErrorFrom(err)
		}
		for k, v := range rec.Fields {
			if l.knownField(k) {
				r.fields[k] = v
			}
		}
		l.mu.Lock()
		l.rows = append(l.rows, r)
		l.mu.Unlock()
	}
	return nil
}

// RowRecord is one persisted row used for hydration.
type RowRecord struct {
	Refs   []model.ItemRef
	Fields map[string]string
}

// Snapshot returns the observable state of every row.
func (l *RowList) Snapshot() model.RowSectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := model.RowSectionState{ID: l.def.ID, Rows: make([]model.RowState, len(l.rows))}
	for i, r := range l.rows {
		state.Rows[i] = model.RowState{
			Levels:   r.chain.Snapshot(),
			Fields:   copyFields(r.fields),
			Complete: l.rowComplete(r),
		}
	}
	return state
}

// CompletedRows returns the selections and fields of every complete row, in
// order. Incomplete rows are skipped.
func (l *RowList) CompletedRows() []CompletedRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []CompletedRow
	for _, r := range l.rows {
		if !l.rowComplete(r) {
			continue
		}
		items := r.chain.SelectedItems()
		levels := make([]model.Item, len(items))
		for i, it := range items {
			levels[i] = *it
		}
		out = append(out, CompletedRow{Levels: levels, Fields: copyFields(r.fields)})
	}
	return out
}

// CompletedRow is one fully filled row ready for assembly.
type CompletedRow struct {
	Levels []model.Item
	Fields map[string]string
}

// AllComplete reports whether every row is complete.
func (l *RowList) AllComplete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rows {
		if !l.rowComplete(r) {
			return false
		}
	}
	return true
}

// rowComplete must be called with mu held; the chain carries its own lock.
func (l *RowList) rowComplete(r *row) bool {
	if !r.chain.Complete() {
		return false
	}
	for _, f := range l.def.Fields {
		v := strings.TrimSpace(r.fields[f.Key])
		if v == "" {
			return false
		}
		if f.Type == "number" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil || n <= 0 {
				return false
			}
		}
	}
	return true
}

// taken reports whether another row already carries the combination key.
// Must be called with mu held.
func (l *RowList) taken(key string, except int) bool {
	for i, r := range l.rows {
		if i == except {
			continue
		}
		if combinationKey(selectionIDs(r.chain)) == key {
			return true
		}
	}
	return false
}

func (l *RowList) knownField(key string) bool {
	for _, f := range l.def.Fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

func selectionIDs(chain *hierarchy.Resolver) []string {
	items := chain.SelectedItems()
	ids := make([]string, len(items))
	for i, it := range items {
		if it != nil {
			ids[i] = it.ID
		}
	}
	return ids
}

// combinationKey joins the level IDs into a comparable key, or returns ""
// while any level is unselected.
func combinationKey(ids []string) string {
	for _, id := range ids {
		if id == "" {
			return ""
		}
	}
	return strings.Join(ids, "\x1f")
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
