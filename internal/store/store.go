// Package store defines the distributed key/value + stream contract used by
// the device state repository (§4.7) and the gateway's cross-node event
// routing (§4.10/§6). Two backends are provided: a Redis-compatible client
// for production, and a sqlite-backed fallback for dev/test environments
// with no Redis endpoint configured.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: not found")

// KV is the distributed key/value contract §4.7's repository and §4.10's
// gateway connection registry are built on.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// PipelineSet writes every key/value pair in a single round trip.
	PipelineSet(ctx context.Context, values map[string]string) error
	Del(ctx context.Context, key string) error
}

// StreamEntry is one XADD-ed entry as read back by XRead.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// Streams is the append-only event stream contract backing §4.10's
// cross-node routing: one stream per gateway instance (`ws:server:{id}`),
// written to by XAdd and consumed by XRead.
type Streams interface {
	XAdd(ctx context.Context, stream string, fields map[string]string) error
	// XRead blocks up to block for up to count new entries arriving after
	// lastID ("$" for "only new entries").
	XRead(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]StreamEntry, error)
}

// Store combines the KV and Streams contracts; both backends implement it.
type Store interface {
	KV
	Streams
}
