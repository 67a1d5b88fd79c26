package cache

import (
	"container/list"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/medcortex/medcortex/schema"
)

// Key derives a stable cache key for one search branch. SubjectID keeps
// per-subject sources from leaking results across subjects.
func Key(source, query string, subjectID, topK int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%s|%d", source, subjectID, query, topK)))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	key       string
	fragments []schema.Fragment
	expires   time.Time
	element   *list.Element
}

// Fragments is an LRU cache for per-branch search results, so repeated
// questions inside a conversation skip the vector store. Slices are
// copied on the way in and out; callers reorder and trim what they get
// back.
type Fragments struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*entry
	order    *list.List
}

// NewFragments creates a cache holding up to capacity entries that
// expire after ttl. A non-positive ttl disables expiry.
func NewFragments(capacity int, ttl time.Duration) *Fragments {
	if capacity <= 0 {
		capacity = 256
	}
	return &Fragments{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		order:    list.New(),
	}
}

func (c *Fragments) Get(key string) ([]schema.Fragment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !ent.expires.IsZero() && !time.Now().Before(ent.expires) {
		c.removeEntry(ent)
		return nil, false
	}
	c.order.MoveToFront(ent.element)
	return cloneFragments(ent.fragments), true
}

func (c *Fragments) Set(key string, fragments []schema.Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := cloneFragments(fragments)
	if ent, ok := c.items[key]; ok {
		ent.fragments = stored
		ent.expires = c.expiry()
		c.order.MoveToFront(ent.element)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}
	elem := c.order.PushFront(key)
	c.items[key] = &entry{
		key:       key,
		fragments: stored,
		expires:   c.expiry(),
		element:   elem,
	}
}

// Purge drops every entry.
func (c *Fragments) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry, c.capacity)
	c.order.Init()
}

// Len reports the number of live entries, counting expired ones that
// have not been touched yet.
func (c *Fragments) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Fragments) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

func (c *Fragments) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(string)
	if ent, ok := c.items[key]; ok {
		c.removeEntry(ent)
	}
}

func (c *Fragments) removeEntry(ent *entry) {
	if ent.element != nil {
		c.order.Remove(ent.element)
	}
	delete(c.items, ent.key)
}

func cloneFragments(fragments []schema.Fragment) []schema.Fragment {
	if fragments == nil {
		return nil
	}
	out := make([]schema.Fragment, len(fragments))
	copy(out, fragments)
	return out
}
