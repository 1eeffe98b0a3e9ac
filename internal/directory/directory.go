// Package directory maintains the public, cross-room matchmaking index: one
// lightweight entry per public room, queryable with filters and pushed to
// watchers whenever any entry changes.
package directory

import (
	"sort"
	"sync"
	"time"

	"github.com/impostor-party/impostor/internal/logger"
	"github.com/impostor-party/impostor/internal/protocol"
)

type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusInGame  Status = "IN_GAME"
	StatusEnded   Status = "ENDED"
)

// AnyRegion is the wildcard filter value matching every region.
const AnyRegion = "any"

// Entry is the public-facing projection of one room.
type Entry struct {
	Code       string    `json:"code"`
	HostName   string    `json:"hostName"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"maxPlayers"`
	Status     Status    `json:"status"`
	Region     string    `json:"region"`
	Public     bool      `json:"public"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Open reports whether the room accepts new players.
func (e Entry) Open() bool {
	return e.Status == StatusWaiting && e.Players < e.MaxPlayers
}

// Sink receives directory push events.
type Sink interface {
	Send(ev protocol.Event)
}

type watcher struct {
	sink   Sink
	filter protocol.RoomFilter
}

// Directory owns the entry map and watcher subscriptions. Notifications are
// coalesced: a burst of updates within one flush window produces a single
// push per watcher, and the filtered view is computed once per distinct
// filter rather than once per watcher.
type Directory struct {
	mu       sync.Mutex
	entries  map[string]Entry
	watchers map[string]watcher

	flushDelay time.Duration
	pending    bool

	log *logger.Logger
}

const defaultFlushDelay = 25 * time.Millisecond

func New(log *logger.Logger) *Directory {
	return &Directory{
		entries:    make(map[string]Entry),
		watchers:   make(map[string]watcher),
		flushDelay: defaultFlushDelay,
		log:        log,
	}
}

// Upsert inserts or replaces a room's entry and schedules a watcher push.
func (d *Directory) Upsert(e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !e.Public {
		// Private rooms never appear in the index.
		if _, ok := d.entries[e.Code]; ok {
			delete(d.entries, e.Code)
			d.scheduleFlushLocked()
		}
		return
	}

	d.entries[e.Code] = e
	d.scheduleFlushLocked()
}

// Delete removes a room's entry, if present.
func (d *Directory) Delete(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[code]; !ok {
		return
	}
	delete(d.entries, code)
	d.scheduleFlushLocked()
}

// List returns the filtered, sorted view: waiting rooms first, then by most
// recent update.
func (d *Directory) List(filter protocol.RoomFilter) []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.listLocked(filter)
}

func (d *Directory) listLocked(filter protocol.RoomFilter) []Entry {
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		if filter.Region != "" && filter.Region != AnyRegion && e.Region != filter.Region {
			continue
		}
		if filter.OpenOnly && !e.Open() {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].Status == StatusWaiting, out[j].Status == StatusWaiting
		if wi != wj {
			return wi
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	return out
}

// Watch subscribes a connection to pushes, remembering its last-used filter.
// A second call replaces the previous filter.
func (d *Directory) Watch(id string, sink Sink, filter protocol.RoomFilter) {
	d.mu.Lock()
	d.watchers[id] = watcher{sink: sink, filter: filter}
	view := d.listLocked(filter)
	d.mu.Unlock()

	// Immediate view so the watcher does not wait for the next change.
	sink.Send(protocol.Event{Type: protocol.EventRoomList, Data: view})
}

// Unwatch drops a connection's subscription.
func (d *Directory) Unwatch(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.watchers, id)
}

func (d *Directory) scheduleFlushLocked() {
	if len(d.watchers) == 0 || d.pending {
		return
	}
	d.pending = true
	time.AfterFunc(d.flushDelay, d.flush)
}

// flush computes each distinct filter's view once and fans it out.
func (d *Directory) flush() {
	d.mu.Lock()
	d.pending = false

	views := make(map[protocol.RoomFilter][]Entry)
	type push struct {
		sink Sink
		view []Entry
	}
	pushes := make([]push, 0, len(d.watchers))

	for _, w := range d.watchers {
		view, ok := views[w.filter]
		if !ok {
			view = d.listLocked(w.filter)
			views[w.filter] = view
		}
		pushes = append(pushes, push{sink: w.sink, view: view})
	}
	d.mu.Unlock()

	for _, p := range pushes {
		p.sink.Send(protocol.Event{Type: protocol.EventRoomList, Data: p.view})
	}

	if d.log != nil && len(pushes) > 0 {
		d.log.Debugf("pushed room list to %d watchers (%d distinct filters)", len(pushes), len(views))
	}
}
