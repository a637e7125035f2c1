// Package feed merges reports arriving on the mesh with reports polled from
// the report store into one newest-first list holding at most one item per id.
//
// Both sources only ever add ids the feed does not hold yet; neither
// overwrites an existing item. Verified is a local operator flag. Deleted ids
// are remembered so that neither source can bring them back.
package feed

import (
	"sync"
	"time"

	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/observer"
)

// Feed is the deduplicated report list shown to an operator.
type Feed struct {
	mu      sync.RWMutex
	items   []model.Report // newest first
	ids     map[string]struct{}
	deleted map[string]struct{}

	added *observer.Registry[model.Report]
}

// New returns an empty feed.
func New() *Feed {
	return &Feed{
		ids:     make(map[string]struct{}),
		deleted: make(map[string]struct{}),
		added:   observer.New[model.Report](),
	}
}

// OnAdd registers fn for every item newly added by either source. It is
// called outside the feed lock.
func (f *Feed) OnAdd(fn func(model.Report)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return f.added.Detach(f.added.Add(fn))
}

// Add prepends r unless its id is already present or was deleted.
func (f *Feed) Add(r model.Report) bool {
	added := f.prepend([]model.Report{r})
	return len(added) == 1
}

// MergePoll prepends every polled report whose id is new, keeping the order
// the store returned them in, and returns the ones added.
func (f *Feed) MergePoll(reports []model.Report) []model.Report {
	return f.prepend(reports)
}

// ApplyEnvelope turns a REPORT_SUBMITTED envelope into a feed item. It
// returns the item and whether it was added. Other kinds are ignored.
func (f *Feed) ApplyEnvelope(env model.Envelope, now time.Time) (model.Report, bool, error) {
	if env.Kind != model.KindReportSubmitted {
		return model.Report{}, false, nil
	}
	var p model.ReportPayload
	if err := env.DecodePayload(&p); err != nil {
		return model.Report{}, false, err
	}
	r := model.ReportFromPayload(env.ID, p, now)
	return r, f.Add(r), nil
}

func (f *Feed) prepend(batch []model.Report) []model.Report {
	f.mu.Lock()
	var fresh []model.Report
	for _, r := range batch {
		if r.ID == "" {
			continue
		}
		if _, ok := f.ids[r.ID]; ok {
			continue
		}
		if _, ok := f.deleted[r.ID]; ok {
			continue
		}
		f.ids[r.ID] = struct{}{}
		fresh = append(fresh, r)
	}
	if len(fresh) > 0 {
		items := make([]model.Report, 0, len(fresh)+len(f.items))
		items = append(items, fresh...)
		f.items = append(items, f.items...)
	}
	f.mu.Unlock()

	for _, r := range fresh {
		f.added.Notify(r)
	}
	return fresh
}

// Items returns a snapshot of the feed, newest first.
func (f *Feed) Items() []model.Report {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.Report, len(f.items))
	copy(out, f.items)
	return out
}

// Get returns the item with the given id.
func (f *Feed) Get(id string) (model.Report, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i := f.indexLocked(id); i >= 0 {
		return f.items[i], true
	}
	return model.Report{}, false
}

// Len returns the number of items.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

// ToggleVerified flips the verified flag of id and returns the new value.
// ok is false when id is not in the feed.
func (f *Feed) ToggleVerified(id string) (verified, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 {
		return false, false
	}
	f.items[i].Verified = !f.items[i].Verified
	return f.items[i].Verified, true
}

// Remove drops id from the feed and records it as deleted. It reports
// whether the item was present.
func (f *Feed) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[id] = struct{}{}
	i := f.indexLocked(id)
	if i < 0 {
		return false
	}
	f.items = append(f.items[:i], f.items[i+1:]...)
	delete(f.ids, id)
	return true
}

// Deleted reports whether id was removed from the feed.
func (f *Feed) Deleted(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.deleted[id]
	return ok
}

func (f *Feed) indexLocked(id string) int {
	if _, ok := f.ids[id]; !ok {
		return -1
	}
	for i := range f.items {
		if f.items[i].ID == id {
			return i
		}
	}
	return -1
}
