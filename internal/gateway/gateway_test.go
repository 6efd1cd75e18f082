package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vce-gateway/gateway/internal/proto"
	"github.com/vce-gateway/gateway/internal/store"
)

// fakeStore is a minimal in-process store.Store for gateway tests.
type fakeStore struct {
	mu      sync.Mutex
	kv      map[string]string
	streams map[string][]store.StreamEntry
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{kv: make(map[string]string), streams: make(map[string][]store.StreamEntry)}
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return nil
}

func (f *fakeStore) PipelineSet(ctx context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range values {
		f.kv[k] = v
	}
	return nil
}

func (f *fakeStore) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.kv, key)
	return nil
}

func (f *fakeStore) XAdd(ctx context.Context, stream string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("id-%d", f.nextID)
	f.streams[stream] = append(f.streams[stream], store.StreamEntry{ID: id, Fields: fields})
	return nil
}

func (f *fakeStore) XRead(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]store.StreamEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[stream], nil
}

func TestExtractBearerFromHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/call", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := extractBearer(r); got != "abc123" {
		t.Fatalf("extractBearer = %q, want abc123", got)
	}
}

func TestExtractBearerFromQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/call?token=xyz", nil)
	if got := extractBearer(r); got != "xyz" {
		t.Fatalf("extractBearer = %q, want xyz", got)
	}
}

func TestDefaultAuthenticator(t *testing.T) {
	if _, ok := DefaultAuthenticator(""); ok {
		t.Fatal("empty token should be rejected")
	}
	uid, ok := DefaultAuthenticator("user-1")
	if !ok || uid != "user-1" {
		t.Fatalf("DefaultAuthenticator(user-1) = %q, %v", uid, ok)
	}
}

func TestDispatchUnroutedUIDFails(t *testing.T) {
	g := New(Config{ServerID: "srv1", Store: newFakeStore()})
	env, _ := proto.New(proto.EventError, "", proto.ErrorData{Code: "x"})
	if err := g.Dispatch(context.Background(), "no-such-uid", env); err == nil {
		t.Fatal("expected error dispatching to unrouted uid")
	}
}

func TestDispatchRoutedUIDAppendsToServerStream(t *testing.T) {
	st := newFakeStore()
	g := New(Config{ServerID: "srv1", Store: st})

	st.Set(context.Background(), connKey("user-1"), "srv1", 0)

	env, _ := proto.New(proto.EventChatUpdated, "", proto.TextData{Content: "hi"})
	if err := g.Dispatch(context.Background(), "user-1", env); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}

	entries, _ := st.XRead(context.Background(), serverStream("srv1"), "$", 10, 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry on server stream, got %d", len(entries))
	}
	if entries[0].Fields["uid"] != "user-1" {
		t.Fatalf("entry uid = %q, want user-1", entries[0].Fields["uid"])
	}
}

func TestNewServerIDIsUnique(t *testing.T) {
	a := NewServerID()
	b := NewServerID()
	if a == b {
		t.Fatal("expected distinct server ids")
	}
}
