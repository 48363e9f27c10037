// Package history keeps each profile's conversation log, persists it as a JSON
// snapshot and renders the recent window that is sent to the model.
package history

import (
	"context"
	"sync"
	"time"
)

// Log is an ordered, mutex-guarded list of entries.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the log.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Replace(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Entry(nil), entries...)
}

// PurgeEmpty drops entries without content and reports how many were removed.
func (l *Log) PurgeEmpty() int {
	return l.removeWhere(func(e Entry) bool { return e.Content == "" })
}

func (l *Log) RemoveByName(name string) int {
	return l.removeWhere(func(e Entry) bool { return e.Name == name })
}

func (l *Log) removeWhere(drop func(Entry) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if drop(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(l.entries[len(kept):])
	l.entries = kept
	return removed
}

func (l *Log) RecentView(limit int) []ViewEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return RecentView(l.entries, limit)
}

// History binds a profile's log to its store.
type History struct {
	profile string
	store   Store
	loc     *time.Location
	now     func() time.Time

	log Log
	// saveMu orders snapshots so an older one never overwrites a newer one.
	saveMu sync.Mutex
}

func New(profile string, store Store, loc *time.Location) *History {
	if loc == nil {
		loc = time.UTC
	}
	return &History{profile: profile, store: store, loc: loc, now: time.Now}
}

func (h *History) Load(ctx context.Context) error {
	entries, err := h.store.Load(ctx, h.profile)
	if err != nil {
		return err
	}
	h.log.Replace(entries)
	return nil
}

func (h *History) Save(ctx context.Context) error {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()
	return h.store.Save(ctx, h.profile, h.log.Entries())
}

// Stamp returns the current time in the history's zone.
func (h *History) Stamp() string {
	return Stamp(h.now(), h.loc)
}

// Append adds e, stamping it when Time is empty.
func (h *History) Append(e Entry) {
	if e.Time == "" {
		e.Time = h.Stamp()
	}
	h.log.Append(e)
}

func (h *History) AppendAndPersist(ctx context.Context, e Entry) error {
	h.Append(e)
	return h.Save(ctx)
}

func (h *History) PurgeEmpty() int { return h.log.PurgeEmpty() }
func (h *History) RemoveByName(name string) int { return h.log.RemoveByName(name) }
func (h *History) Entries() []Entry { return h.log.Entries() }
func (h *History) RecentView(limit int) []ViewEntry { return h.log.RecentView(limit) }
