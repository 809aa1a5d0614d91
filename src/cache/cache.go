package cache

import (
	"log/slog"
	"sync"
	"time"
)

type Kind = string

const (
	KindGuild   Kind = "guild"
	KindChannel Kind = "channel"
	KindUser    Kind = "user"
	KindMessage Kind = "message"
)

const DefaultIdleThreshold = 15 * time.Minute

// Entry is a lightweight partial record for a single entity.
type Entry struct {
	ID          string
	Fields      map[string]any
	LastTouched time.Time
}

// Cache stores partial entity records keyed by kind and id. It is
// best-effort: a miss is normal and callers fall back to a REST fetch.
// All mutation happens behind a single mutex; Get returns copies so
// callers never share the underlying maps.
type Cache struct {
	mu      sync.Mutex
	entries map[Kind]map[string]*Entry

	// channelGuild tracks which guild a channel belongs to so the sweeper
	// can tell referenced channels from orphaned ones.
	channelGuild map[string]string

	idleAfter time.Duration
	now       func() time.Time
	log       *slog.Logger
}

type Options struct {
	// IdleThreshold is how long an unreferenced entry may stay untouched
	// before Sweep reclaims it. Defaults to DefaultIdleThreshold.
	IdleThreshold time.Duration
	Logger        *slog.Logger
}

func NewCache(opts Options) *Cache {
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		entries:      make(map[Kind]map[string]*Entry),
		channelGuild: make(map[string]string),
		idleAfter:    opts.IdleThreshold,
		now:          time.Now,
		log:          opts.Logger,
	}
}

// Upsert merges fields into the entry for (kind, id), creating it when
// absent. Existing fields not present in the update are kept.
func (c *Cache) Upsert(kind Kind, id string, fields map[string]any) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byID, ok := c.entries[kind]
	if !ok {
		byID = make(map[string]*Entry)
		c.entries[kind] = byID
	}
	entry, ok := byID[id]
	if !ok {
		entry = &Entry{ID: id, Fields: make(map[string]any)}
		byID[id] = entry
	}
	for k, v := range fields {
		entry.Fields[k] = v
	}
	entry.LastTouched = c.now()
	if kind == KindChannel {
		if gid, ok := fields["guild_id"].(string); ok && gid != "" {
			c.channelGuild[id] = gid
		}
	}
}

// Get returns a copy of the entry. The read refreshes LastTouched.
func (c *Cache) Get(kind Kind, id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[kind][id]
	if !ok {
		return Entry{}, false
	}
	entry.LastTouched = c.now()
	return c.snapshot(entry), true
}

// Evict removes the entry immediately regardless of idle time.
func (c *Cache) Evict(kind Kind, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(kind, id)
}

func (c *Cache) evictLocked(kind Kind, id string) {
	delete(c.entries[kind], id)
	if kind == KindChannel {
		delete(c.channelGuild, id)
	}
	if kind == KindGuild {
		// Channels of a removed guild lose their reference and are
		// reclaimed with the guild itself.
		for chID, gID := range c.channelGuild {
			if gID == id {
				delete(c.entries[KindChannel], chID)
				delete(c.channelGuild, chID)
			}
		}
	}
}

// Sweep reclaims entries that have been idle past the threshold and are
// not referenced by an active guild. Guild entries are contexts, not
// leaves; they are only removed by explicit delete events. Returns the
// number of entries reclaimed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	reclaimed := 0
	for kind, byID := range c.entries {
		if kind == KindGuild {
			continue
		}
		for id, entry := range byID {
			if now.Sub(entry.LastTouched) < c.idleAfter {
				continue
			}
			if kind == KindChannel && c.hasLiveGuildLocked(id) {
				continue
			}
			delete(byID, id)
			if kind == KindChannel {
				delete(c.channelGuild, id)
			}
			reclaimed++
		}
	}
	return reclaimed
}

func (c *Cache) hasLiveGuildLocked(channelID string) bool {
	gid, ok := c.channelGuild[channelID]
	if !ok {
		return false
	}
	_, ok = c.entries[KindGuild][gid]
	return ok
}

// Clear drops everything. Used when a fresh identify replaces the session.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Kind]map[string]*Entry)
	c.channelGuild = make(map[string]string)
}

// Len reports how many entries of the given kind are cached.
func (c *Cache) Len(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[kind])
}

func (c *Cache) snapshot(entry *Entry) Entry {
	fields := make(map[string]any, len(entry.Fields))
	for k, v := range entry.Fields {
		fields[k] = v
	}
	return Entry{ID: entry.ID, Fields: fields, LastTouched: entry.LastTouched}
}
