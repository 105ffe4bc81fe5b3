// Package receipt holds delivery receipts that arrive before the message
// they acknowledge has been written locally. Receipts are bucketed by the
// sent timestamp they reference and claimed when the outgoing message is
// finally inserted.
package receipt

import (
	"container/list"
	"sync"
	"time"
)

// Early is a single buffered receipt for one recipient.
type Early struct {
	RecipientID string
	Count       int
	Timestamp   int64
}

type bucket struct {
	receipts map[string]*Early // keyed by recipient id
	seenAt   time.Time
	element  *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited buffer of early receipts
// keyed by sent timestamp. A doubly-linked list maintains insertion order
// for O(1) eviction of the oldest bucket.
type Cache struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	order   *list.List // sent timestamps in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an early receipt cache with the given TTL and maximum number
// of timestamp buckets. A background goroutine periodically drops expired
// buckets.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	c := &Cache{
		buckets: make(map[int64]*bucket),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanup()
	return c
}

// Put records one receipt for the given sent timestamp and recipient.
// Repeated receipts from the same recipient accumulate; the newest receipt
// timestamp wins.
func (c *Cache) Put(sentTimestamp int64, recipientID string, receiptTimestamp int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[sentTimestamp]
	if ok && c.now().Sub(b.seenAt) < c.ttl {
		e, exists := b.receipts[recipientID]
		if !exists {
			e = &Early{RecipientID: recipientID}
			b.receipts[recipientID] = e
		}
		e.Count++
		if receiptTimestamp > e.Timestamp {
			e.Timestamp = receiptTimestamp
		}
		return
	}
	if ok {
		// Expired bucket under the same key; replace it.
		c.order.Remove(b.element)
		delete(c.buckets, sentTimestamp)
	}

	if len(c.buckets) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(sentTimestamp)
	c.buckets[sentTimestamp] = &bucket{
		receipts: map[string]*Early{
			recipientID: {RecipientID: recipientID, Count: 1, Timestamp: receiptTimestamp},
		},
		seenAt:  c.now(),
		element: elem,
	}
}

// Claim removes and returns all buffered receipts for the given sent
// timestamp. Returns nil when nothing was buffered.
func (c *Cache) Claim(sentTimestamp int64) []Early {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[sentTimestamp]
	if !ok {
		return nil
	}
	c.order.Remove(b.element)
	delete(c.buckets, sentTimestamp)

	if c.now().Sub(b.seenAt) >= c.ttl {
		return nil
	}
	out := make([]Early, 0, len(b.receipts))
	for _, e := range b.receipts {
		out = append(out, *e)
	}
	return out
}

// Restore puts claimed receipts back, merging with anything buffered for
// the same sent timestamp since the claim. Used when the insert that
// claimed them rolls back.
func (c *Cache) Restore(sentTimestamp int64, receipts []Early) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(receipts) == 0 {
		return
	}
	b, ok := c.buckets[sentTimestamp]
	if !ok || c.now().Sub(b.seenAt) >= c.ttl {
		if ok {
			c.order.Remove(b.element)
			delete(c.buckets, sentTimestamp)
		}
		if len(c.buckets) >= c.maxSize {
			c.evictOldest()
		}
		b = &bucket{
			receipts: make(map[string]*Early, len(receipts)),
			seenAt:   c.now(),
			element:  c.order.PushBack(sentTimestamp),
		}
		c.buckets[sentTimestamp] = b
	}
	for _, r := range receipts {
		e, exists := b.receipts[r.RecipientID]
		if !exists {
			e = &Early{RecipientID: r.RecipientID}
			b.receipts[r.RecipientID] = e
		}
		e.Count += r.Count
		if r.Timestamp > e.Timestamp {
			e.Timestamp = r.Timestamp
		}
	}
}

// Len returns the number of live timestamp buckets.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}

// evictOldest removes the oldest bucket. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	ts, _ := front.Value.(int64)
	c.order.Remove(front)
	delete(c.buckets, ts)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for ts, b := range c.buckets {
		if now.Sub(b.seenAt) > c.ttl {
			c.order.Remove(b.element)
			delete(c.buckets, ts)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
