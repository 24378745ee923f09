// Package hierarchy implements the dependent-selector chain: an ordered list
// of levels where each level's option list is fetched from the catalog using
// the ancestor selections, and selecting at any level clears everything
// deeper before the child fetch starts.
package hierarchy

import (
	"context"
	"fmt"
	"sync"

	"github.com/tukangworks/tukang/model"
)

// Source lists the children of a catalog endpoint given the ancestor
// selections. catalog.Cache satisfies this.
type Source interface {
	Children(ctx context.Context, endpointID string, parents map[string]string) ([]model.Item, error)
}

type levelState struct {
	selection *model.Item
	children  []model.Item
	loading   bool
	err       string

	// gen increments whenever the level is cleared. A fetch applies its
	// result only if the generation it captured is still current, so a
	// response arriving after a newer selection never overwrites that
	// selection's children.
	gen uint64
}

// Resolver owns the state of one chain. All methods are safe for concurrent
// use; catalog fetches run outside the lock.
type Resolver struct {
	levels []model.LevelDefinition
	src    Source

	mu    sync.Mutex
	state []levelState
}

// NewResolver creates a resolver for the given chain. Call Init to populate
// the root level before first use.
func NewResolver(levels []model.LevelDefinition, src Source) *Resolver {
	return &Resolver{
		levels: levels,
		src:    src,
		state:  make([]levelState, len(levels)),
	}
}

// Len returns the number of levels in the chain.
func (r *Resolver) Len() int { return len(r.levels) }

// Init fetches the root level's option list. Deeper levels start empty.
func (r *Resolver) Init(ctx context.Context) error {
	if len(r.levels) == 0 {
		return nil
	}
	r.mu.Lock()
	gen := r.beginFetch(0)
	r.mu.Unlock()
	return r.fetch(ctx, 0, nil, gen)
}

// SelectAt records a selection at the given level. Deeper levels are cleared
// synchronously before the child fetch starts, then the next level's options
// are fetched. The selected item must be one of the level's current options.
//
// Selecting at the deepest level clears nothing and fetches nothing.
func (r *Resolver) SelectAt(ctx context.Context, level int, itemID string) error {
	r.mu.Lock()
	if level < 0 || level >= len(r.levels) {
		r.mu.Unlock()
		return fmt.Errorf("hierarchy: level %d out of range", level)
	}

	item := findItem(r.state[level].children, itemID)
	if item == nil {
		key := r.levels[level].Key
		r.mu.Unlock()
		return fmt.Errorf("hierarchy: item %q is not an option at level %q", itemID, key)
	}
	r.state[level].selection = item

	// Clear everything deeper before any fetch is issued. The generation
	// bump invalidates fetches started by earlier selections at this level.
	for i := level + 1; i < len(r.state); i++ {
		r.clearLevel(i)
	}
	if level+1 >= len(r.levels) {
		r.mu.Unlock()
		return nil
	}
	// The generation the fetch must match is the one at clear time. Captured
	// here, in the same critical section as the clear, so a competing
	// selection that runs before our fetch starts cannot be overwritten by
	// our stale result.
	gen := r.beginFetch(level + 1)
	parents := r.selectionsAbove(level + 1)
	r.mu.Unlock()

	return r.fetch(ctx, level+1, parents, gen)
}

// Reset clears all selections and child lists, then refetches the root level.
func (r *Resolver) Reset(ctx context.Context) error {
	if len(r.levels) == 0 {
		return nil
	}
	r.mu.Lock()
	for i := range r.state {
		r.clearLevel(i)
	}
	gen := r.beginFetch(0)
	r.mu.Unlock()
	return r.fetch(ctx, 0, nil, gen)
}

// Hydrate replays persisted selections top-down: for each level it fetches
// the options, locates the item the reference names, and selects it. It stops
// at the first level whose reference is empty or cannot be matched, leaving
// that level populated but unselected.
func (r *Resolver) Hydrate(ctx context.Context, refs []model.ItemRef) error {
	if err := r.Reset(ctx); err != nil {
		return err
	}
	for i, ref := range refs {
		if i >= len(r.levels) || ref.IsZero() {
			return nil
		}
		r.mu.Lock()
		item := matchRef(r.state[i].children, ref)
		r.mu.Unlock()
		if item == nil {
			return nil
		}
		if err := r.SelectAt(ctx, i, item.ID); err != nil {
			return err
		}
	}
	return nil
}

// Selections returns levelKey -> selected item ID for every selected level.
func (r *Resolver) Selections() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectionsAbove(len(r.levels))
}

// SelectedItems returns the selected item per level, nil where unselected.
func (r *Resolver) SelectedItems() []*model.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*model.Item, len(r.state))
	for i := range r.state {
		items[i] = r.state[i].selection
	}
	return items
}

// Complete reports whether every level has a selection.
func (r *Resolver) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.state {
		if r.state[i].selection == nil {
			return false
		}
	}
	return len(r.state) > 0
}

// Snapshot returns the observable state of every level.
func (r *Resolver) Snapshot() []model.LevelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LevelState, len(r.levels))
	for i, lvl := range r.levels {
		st := r.state[i]
		out[i] = model.LevelState{
			Key:       lvl.Key,
			Label:     lvl.Label,
			Selection: st.selection,
			Children:  st.children,
			Loading:   st.loading,
			Error:     st.err,
		}
	}
	return out
}

// beginFetch marks a level loading and returns the generation its fetch
// result must still match to apply. Must be called with mu held, in the same
// critical section as the clear that made the fetch necessary.
func (r *Resolver) beginFetch(level int) uint64 {
	r.state[level].loading = true
	r.state[level].err = ""
	return r.state[level].gen
}

// fetch retrieves the option list for one level and applies it unless the
// level was cleared again after gen was captured.
func (r *Resolver) fetch(ctx context.Context, level int, parents map[string]string, gen uint64) error {
	items, err := r.src.Children(ctx, r.levels[level].Endpoint, parents)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state[level].gen != gen {
		// A newer selection cleared this level mid-fetch; its own fetch
		// owns the state now.
		return nil
	}
	r.state[level].loading = false
	if err != nil {
		r.state[level].err = err.Error()
		r.state[level].children = nil
		return err
	}
	r.state[level].children = items
	return nil
}

// clearLevel must be called with mu held.
func (r *Resolver) clearLevel(i int) {
	st := &r.state[i]
	st.selection = nil
	st.children = nil
	st.loading = false
	st.err = ""
	st.gen++
}

// selectionsAbove must be called with mu held.
func (r *Resolver) selectionsAbove(level int) map[string]string {
	parents := make(map[string]string, level)
	for i := 0; i < level && i < len(r.state); i++ {
		if sel := r.state[i].selection; sel != nil {
			parents[r.levels[i].Key] = sel.ID
		}
	}
	return parents
}

func findItem(items []model.Item, id string) *model.Item {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func matchRef(items []model.Item, ref model.ItemRef) *model.Item {
	for i := range items {
		if ref.Matches(items[i]) {
			return &items[i]
		}
	}
	return nil
}
