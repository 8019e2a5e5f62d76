package download

import (
	"sync"

	"github.com/ytget/yt-audio/internal/model"
)

// EventKind describes what happened to an item
type EventKind int

const (
	EventInserted EventKind = iota
	EventUpdated
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventInserted:
		return "inserted"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event carries a snapshot of the item taken right after the change
type Event struct {
	Kind EventKind
	Item model.DownloadItem
}

// Registry is the ordered, most-recent-first collection of download items.
// Mutations are serialized and every change is delivered to subscribers in
// the order it was applied. Subscribers run synchronously and may read the
// registry but must not mutate it.
type Registry struct {
	mu    sync.RWMutex
	items []*model.DownloadItem
	index map[string]*model.DownloadItem

	notifyMu sync.Mutex // held across mutate+dispatch to keep event order
	subsMu   sync.Mutex
	subs     map[int]func(Event)
	nextSub  int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]*model.DownloadItem),
		subs:  make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every change and returns a function that
// removes the subscription
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.subsMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subsMu.Unlock()

	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

// Insert prepends item. Items sharing a URL are tracked independently.
func (r *Registry) Insert(item *model.DownloadItem) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	r.items = append([]*model.DownloadItem{item}, r.items...)
	r.index[item.ID] = item
	snapshot := *item
	r.mu.Unlock()

	r.dispatch(Event{Kind: EventInserted, Item: snapshot})
}

// Remove drops the item with id. It reports whether the item existed.
func (r *Registry) Remove(id string) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	item, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.index, id)
	for i, it := range r.items {
		if it.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			break
		}
	}
	snapshot := *item
	r.mu.Unlock()

	r.dispatch(Event{Kind: EventRemoved, Item: snapshot})
	return true
}

// Update applies fn to the item with id as one atomic change. When fn
// returns an error the item is left as fn left it and no event is sent.
func (r *Registry) Update(id string, fn func(*model.DownloadItem) error) error {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	item, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return ErrItemNotFound
	}
	if err := fn(item); err != nil {
		r.mu.Unlock()
		return err
	}
	snapshot := *item
	r.mu.Unlock()

	r.dispatch(Event{Kind: EventUpdated, Item: snapshot})
	return nil
}

// Get returns a snapshot of the item with id
func (r *Registry) Get(id string) (model.DownloadItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.index[id]
	if !ok {
		return model.DownloadItem{}, false
	}
	return *item, true
}

// Items returns snapshots of all items, most recent first
func (r *Registry) Items() []model.DownloadItem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]model.DownloadItem, len(r.items))
	for i, it := range r.items {
		items[i] = *it
	}
	return items
}

// Len returns the number of items
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) dispatch(ev Event) {
	r.subsMu.Lock()
	subs := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subsMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
