package llm

import (
	"fmt"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// turn is one (user, assistant) exchange.
type turn struct {
	user      string
	assistant string
}

// ConversationCache is a ring buffer of the last N turns, used as history
// for both intent classification and streaming dialogue turns.
//
// Grounded on original_source's llm/cache/{base,memory} module; the pack
// has no external cache-library dependency at this scale, so the ring
// buffer is a plain in-process structure — justified stdlib-adjacent use,
// backed by go-ordered-map (a pack dependency) for its O(1) oldest-eviction.
type ConversationCache struct {
	mu    sync.Mutex
	depth int
	turns *orderedmap.OrderedMap[int, turn]
	next  int
}

// NewConversationCache creates a cache holding at most depth turns.
func NewConversationCache(depth int) *ConversationCache {
	if depth <= 0 {
		depth = 3
	}
	return &ConversationCache{
		depth: depth,
		turns: orderedmap.New[int, turn](),
	}
}

// Push records a completed (user, assistant) turn, evicting the oldest if
// the cache is at capacity.
func (c *ConversationCache) Push(user, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns.Set(c.next, turn{user: user, assistant: assistant})
	c.next++

	for c.turns.Len() > c.depth {
		oldest := c.turns.Oldest()
		if oldest == nil {
			break
		}
		c.turns.Delete(oldest.Key)
	}
}

// Flatten renders the cached turns pairwise as plain text context, the
// shape §4.6 describes as "history flattened pairwise as (user,assistant)".
func (c *ConversationCache) Flatten() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.turns.Len() == 0 {
		return ""
	}
	var b strings.Builder
	for p := c.turns.Oldest(); p != nil; p = p.Next() {
		fmt.Fprintf(&b, "user: %s\nassistant: %s\n", p.Value.user, p.Value.assistant)
	}
	return b.String()
}

// Clear empties the cache, used when a session closes or an LLM handle is
// released back to its pool.
func (c *ConversationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = orderedmap.New[int, turn]()
	c.next = 0
}
