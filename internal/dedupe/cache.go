// ABOUTME: TTL-bounded seen-set for webhook delivery IDs
// ABOUTME: Absorbs platform retries so an update is processed at most once

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers delivery IDs for a TTL window, capped in size. Insertion
// order is kept in a linked list so eviction of the oldest entry is O(1).
// Telegram retries an undelivered update for up to 24h, but in practice
// retries arrive within minutes; the TTL only needs to cover that window.
type Cache struct {
	mu     sync.Mutex
	keys   map[string]*entry
	order  *list.List
	ttl    time.Duration
	cap    int
	done   chan struct{}
	closed bool
}

// New creates a cache holding keys for ttl, evicting oldest beyond cap.
// A background goroutine sweeps out expired entries.
func New(ttl time.Duration, cap int) *Cache {
	c := &Cache{
		keys:  make(map[string]*entry),
		order: list.New(),
		ttl:   ttl,
		cap:   cap,
		done:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether key was already recorded within the TTL and, if not,
// records it. The check and the record are one atomic step: of N concurrent
// callers with the same key, exactly one gets false.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.keys[key]; ok && time.Since(e.at) < c.ttl {
		// A redelivery counts as a touch; the entry moves to the back so
		// eviction and sweep order stay by last touch
		e.at = time.Now()
		c.order.MoveToBack(e.elem)
		return true
	}
	c.record(key)
	return false
}

// Has reports whether key is currently recorded, without recording it
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.keys[key]
	return ok && time.Since(e.at) < c.ttl
}

// record must be called with mu held
func (c *Cache) record(key string) {
	now := time.Now()

	if e, ok := c.keys[key]; ok {
		e.at = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.keys) >= c.cap {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.keys, front.Value.(string))
		}
	}

	c.keys[key] = &entry{at: now, elem: c.order.PushBack(key)}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired entries from the front of the order list. Entries are
// ordered by last-touch time, so the scan stops at the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.keys[key].at) <= c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.keys, key)
	}
}

// Len reports the number of live and expired-but-unswept entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
