package tts

import (
	"context"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vce-gateway/gateway/internal/metrics"
)

// cacheState mirrors the per-request TTSCache state machine:
// Idle -> Streaming (first chunk) -> Completed (sentinel) -> Expired (TTL/evict).
type cacheState int

const (
	stateIdle cacheState = iota
	stateStreaming
	stateCompleted
)

type entry struct {
	chunks    [][]byte // buffered, not-yet-consumed-by-every-reader chunks
	state     cacheState
	completed bool
	createdAt time.Time
	cond      *sync.Cond
}

// Cache is the per-request bounded audio buffer backing the HTTP pull
// endpoint described in §4.3. At most maxsize concurrent request ids are
// held; the oldest *completed* entry is LRU-evicted past that.
//
// Grounded on the teacher's trace.Tracer async drain-channel idiom: here the
// "drain" is the set of StreamAudio readers instead of a single consumer.
type Cache struct {
	mu       sync.Mutex
	maxsize  int
	ttl      time.Duration
	order    *orderedmap.OrderedMap[string, *entry] // insertion order == LRU order for eviction
	readerTO time.Duration
}

// NewCache creates a cache with the given entry-count bound, TTL, and
// per-chunk reader timeout.
func NewCache(maxsize int, ttl, readerTimeout time.Duration) *Cache {
	return &Cache{
		maxsize:  maxsize,
		ttl:      ttl,
		order:    orderedmap.New[string, *entry](),
		readerTO: readerTimeout,
	}
}

// CreateRequest allocates a new Idle entry for requestID.
func (c *Cache) CreateRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Set(requestID, &entry{
		state:     stateIdle,
		createdAt: time.Now(),
		cond:      sync.NewCond(&c.mu),
	})
	metrics.TTSCacheEntries.Set(float64(c.order.Len()))
	c.evictLocked()
}

// AppendDelta appends a chunk to requestID's queue; an empty chunk is the
// end-of-utterance sentinel and transitions the entry to Completed.
func (c *Cache) AppendDelta(requestID string, chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.order.Get(requestID)
	if !ok {
		return
	}
	e.state = stateStreaming
	if len(chunk) == 0 {
		e.completed = true
		e.state = stateCompleted
	} else {
		e.chunks = append(e.chunks, append([]byte(nil), chunk...))
	}
	e.cond.Broadcast()
}

// StreamAudio returns a channel delivering every already-buffered chunk
// followed by future chunks up to the sentinel (signalled by channel close).
// On ctx cancellation the reader stops and any chunks it had not yet sent
// downstream remain in the entry for the next reader to resume from —
// satisfying the "unconsumed chunks return to the queue" contract, since
// this implementation never removes chunks from the entry at all; it only
// tracks a per-reader cursor.
func (c *Cache) StreamAudio(ctx context.Context, requestID string) <-chan []byte {
	out := make(chan []byte)
	go c.drain(ctx, requestID, out)
	return out
}

func (c *Cache) drain(ctx context.Context, requestID string, out chan<- []byte) {
	defer close(out)
	cursor := 0
	for {
		c.mu.Lock()
		e, ok := c.order.Get(requestID)
		if !ok {
			c.mu.Unlock()
			return
		}
		for cursor >= len(e.chunks) && !e.completed {
			waitCh := make(chan struct{})
			go func() {
				e.cond.L.Lock()
				e.cond.Wait()
				e.cond.L.Unlock()
				close(waitCh)
			}()
			c.mu.Unlock()

			timer := time.NewTimer(c.readerTO)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				return
			case <-waitCh:
				timer.Stop()
			}
			c.mu.Lock()
			e, ok = c.order.Get(requestID)
			if !ok {
				c.mu.Unlock()
				return
			}
		}
		if cursor < len(e.chunks) {
			chunk := e.chunks[cursor]
			cursor++
			c.mu.Unlock()
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			continue
		}
		// completed and fully drained
		c.mu.Unlock()
		return
	}
}

// MarkCompleted is an explicit alternative to AppendDelta(id, nil) for
// callers that already signal completion out of band.
func (c *Cache) MarkCompleted(requestID string) {
	c.AppendDelta(requestID, nil)
}

// evictLocked drops the oldest Completed entry once count exceeds maxsize.
// Caller must hold c.mu.
func (c *Cache) evictLocked() {
	for c.order.Len() > c.maxsize {
		oldest := c.order.Oldest()
		if oldest == nil {
			return
		}
		// Only evict a completed entry; an in-flight Streaming entry is
		// never evicted out from under its producer.
		var victim string
		found := false
		for p := c.order.Oldest(); p != nil; p = p.Next() {
			if p.Value.state == stateCompleted {
				victim = p.Key
				found = true
				break
			}
		}
		if !found {
			return
		}
		c.order.Delete(victim)
		metrics.TTSCacheEvictions.Inc()
	}
	metrics.TTSCacheEntries.Set(float64(c.order.Len()))
}

// Sweep removes entries older than the TTL, regardless of state. Intended to
// be called periodically by a background task.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var expired []string
	for p := c.order.Oldest(); p != nil; p = p.Next() {
		if now.Sub(p.Value.createdAt) > c.ttl {
			expired = append(expired, p.Key)
		}
	}
	for _, id := range expired {
		c.order.Delete(id)
	}
	metrics.TTSCacheEntries.Set(float64(c.order.Len()))
}
