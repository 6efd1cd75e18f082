package actions

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ttlCache is a small LRU+TTL cache shared by the weather and news shims,
// grounded on original_source's cachetools.TTLCache usage in
// openapi/weather/*.py and openapi/news/news_api.py, reimplemented with the
// ordered-map idiom already used by tts.Cache.
type ttlCache[V any] struct {
	mu      sync.Mutex
	maxsize int
	ttl     time.Duration
	order   *orderedmap.OrderedMap[string, ttlEntry[V]]
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newTTLCache[V any](maxsize int, ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{maxsize: maxsize, ttl: ttl, order: orderedmap.New[string, ttlEntry[V]]()}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.order.Get(key)
	if !ok {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.order.Delete(key)
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Set(key, ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)})
	for c.order.Len() > c.maxsize {
		oldest := c.order.Oldest()
		if oldest == nil {
			break
		}
		c.order.Delete(oldest.Key)
	}
}
