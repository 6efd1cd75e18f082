package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vce-gateway/gateway/internal/store"
)

func TestRepositorySetFieldsMemoryTier(t *testing.T) {
	repo := NewRepository("dev1", newMemStore())
	ctx := context.Background()

	if err := repo.SetFields(ctx, map[string]any{"volume": 7}); err != nil {
		t.Fatalf("SetFields error = %v", err)
	}

	fields, err := repo.GetFields(ctx, "volume")
	if err != nil {
		t.Fatalf("GetFields error = %v", err)
	}
	if fields["volume"] != 7 {
		t.Fatalf("volume = %v, want 7", fields["volume"])
	}
}

func TestRepositorySetFieldsDistributedIndividual(t *testing.T) {
	kv := newMemStore()
	repo := NewRepository("dev1", kv)
	ctx := context.Background()

	if err := repo.SetFields(ctx, map[string]any{"ip": "10.0.0.5"}); err != nil {
		t.Fatalf("SetFields error = %v", err)
	}

	// a second repository instance for the same device must see the
	// distributed-tier write, since that tier is shared.
	repo2 := NewRepository("dev1", kv)
	fields, err := repo2.GetFields(ctx, "ip")
	if err != nil {
		t.Fatalf("GetFields error = %v", err)
	}
	if fields["ip"] != "10.0.0.5" {
		t.Fatalf("ip = %v, want 10.0.0.5", fields["ip"])
	}
}

func TestRepositoryAlarmCRUD(t *testing.T) {
	repo := NewRepository("dev1", newMemStore())
	ctx := context.Background()

	future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)

	periodic := Alarm{ID: "a1", Type: Periodic, Trigger: "07:30:00", Repeat: []int{1, 2, 3, 4, 5}}
	expired := Alarm{ID: "a2", Type: OneShot, Trigger: past}
	upcoming := Alarm{ID: "a3", Type: OneShot, Trigger: future}

	for _, a := range []Alarm{periodic, expired, upcoming} {
		if err := repo.AddAlarm(ctx, a); err != nil {
			t.Fatalf("AddAlarm(%s) error = %v", a.ID, err)
		}
	}

	valid, err := repo.GetValidAlarms(ctx)
	if err != nil {
		t.Fatalf("GetValidAlarms error = %v", err)
	}
	if len(valid) != 2 {
		t.Fatalf("GetValidAlarms returned %d alarms, want 2 (expired one-shot excluded)", len(valid))
	}
	ids := map[string]bool{}
	for _, a := range valid {
		ids[a.ID] = true
	}
	if !ids["a1"] || !ids["a3"] {
		t.Fatalf("expected a1 and a3 to remain valid, got %v", ids)
	}

	removed, err := repo.DelAlarm(ctx, []string{"a1"})
	if err != nil {
		t.Fatalf("DelAlarm error = %v", err)
	}
	if len(removed) != 1 || removed[0].ID != "a1" {
		t.Fatalf("DelAlarm removed = %+v, want [a1]", removed)
	}

	valid, err = repo.GetValidAlarms(ctx)
	if err != nil {
		t.Fatalf("GetValidAlarms error = %v", err)
	}
	if len(valid) != 1 || valid[0].ID != "a3" {
		t.Fatalf("after delete, valid = %+v, want only a3", valid)
	}
}

func TestAlarmValidate(t *testing.T) {
	cases := []struct {
		name    string
		alarm   Alarm
		wantErr bool
	}{
		{"valid periodic", Alarm{ID: "p1", Type: Periodic, Trigger: "08:00:00"}, false},
		{"periodic bad trigger", Alarm{ID: "p2", Type: Periodic, Trigger: "not-a-time"}, true},
		{"valid one-shot", Alarm{ID: "o1", Type: OneShot, Trigger: time.Now().Add(time.Hour).Format(time.RFC3339)}, false},
		{"one-shot bad trigger", Alarm{ID: "o2", Type: OneShot, Trigger: "tomorrow"}, true},
		{"repeat out of range", Alarm{ID: "p3", Type: Periodic, Trigger: "08:00:00", Repeat: []int{7}}, true},
		{"unknown type", Alarm{ID: "x1", Type: "weekly", Trigger: "08:00:00"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.alarm.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

// memStore is a minimal in-process store.Store for repository tests; it
// implements the full Store interface but only KV is exercised here.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) PipelineSet(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

func (m *memStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) XAdd(ctx context.Context, stream string, fields map[string]string) error {
	return nil
}

func (m *memStore) XRead(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]store.StreamEntry, error) {
	return nil, nil
}
