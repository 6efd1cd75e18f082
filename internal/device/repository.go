// Package device implements the per-device state repository of §4.7: a
// field-strategy table splitting reads/writes between a per-instance memory
// tier and a Redis-backed distributed tier, plus alarm CRUD over the
// alarms JSON field.
//
// Grounded on original_source's backend/common/device/{model,repository}.py
// for the field/strategy table and alarm semantics.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/vce-gateway/gateway/internal/store"
)

// Strategy names which tier owns a field.
type Strategy int

const (
	Memory Strategy = iota
	DistributedIndividual
	DistributedJSON
)

// fieldStrategies is the per-field strategy table from §4.7.
var fieldStrategies = map[string]Strategy{
	"volume":           Memory,
	"muted":            Memory,
	"playback_state":   Memory,
	"current_track":    Memory,
	"shuffle":          Memory,
	"battery":          Memory,
	"charging":         Memory,
	"wifi_signal":      Memory,
	"conversation_id":  Memory,
	"ip":               DistributedIndividual,
	"firmware_version": DistributedIndividual,
	"connection_type":  DistributedIndividual,
	"playlist":         DistributedIndividual,
	"repeat_mode":      DistributedIndividual,
	"alarms":           DistributedJSON,
}

const stateJSONField = "_state_json"

// Repository is a per-connection handle over one device's state. The
// memory tier is instance-local; the distributed tier is shared across
// every Repository for the same device id.
type Repository struct {
	deviceID string
	store    store.KV

	mu     sync.Mutex
	memory map[string]any
}

// NewRepository creates a repository for deviceID backed by the given
// distributed key/value store.
func NewRepository(deviceID string, kv store.KV) *Repository {
	return &Repository{deviceID: deviceID, store: kv, memory: make(map[string]any)}
}

func strategyOf(field string) Strategy {
	if s, ok := fieldStrategies[field]; ok {
		return s
	}
	return DistributedIndividual
}

// SetFields partitions updates by strategy and executes them against the
// appropriate tier. Individually stored distributed fields are written in
// one pipelined call; JSON-document fields are patched with a separate
// read of the document followed by a write.
func (r *Repository) SetFields(ctx context.Context, values map[string]any) error {
	individual := make(map[string]string)
	var jsonPatches []struct {
		field string
		value any
	}

	r.mu.Lock()
	for field, value := range values {
		switch strategyOf(field) {
		case Memory:
			r.memory[field] = value
		case DistributedIndividual:
			encoded, err := encodeValue(value)
			if err != nil {
				return fmt.Errorf("device set_fields encode %s: %w", field, err)
			}
			individual[key(r.deviceID, field)] = encoded
		case DistributedJSON:
			jsonPatches = append(jsonPatches, struct {
				field string
				value any
			}{field, value})
		}
	}
	r.mu.Unlock()

	if len(individual) > 0 {
		if err := r.store.PipelineSet(ctx, individual); err != nil {
			return fmt.Errorf("device set_fields distributed: %w", err)
		}
	}

	if len(jsonPatches) > 0 {
		docKey := key(r.deviceID, stateJSONField)
		raw, err := r.store.Get(ctx, docKey)
		if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("device set_fields load json: %w", err)
		}
		doc := raw
		if doc == "" {
			doc = "{}"
		}
		for _, patch := range jsonPatches {
			encoded, marshalErr := json.Marshal(patch.value)
			if marshalErr != nil {
				return fmt.Errorf("device set_fields marshal %s: %w", patch.field, marshalErr)
			}
			doc, err = sjson.SetRaw(doc, patch.field, string(encoded))
			if err != nil {
				return fmt.Errorf("device set_fields patch %s: %w", patch.field, err)
			}
		}
		if err := r.store.Set(ctx, docKey, doc, 0); err != nil {
			return fmt.Errorf("device set_fields store json: %w", err)
		}
	}

	return nil
}

// GetFields is the inverse of SetFields: unparseable distributed values are
// yielded as nil, without an error and without panicking.
func (r *Repository) GetFields(ctx context.Context, fields ...string) (map[string]any, error) {
	out := make(map[string]any, len(fields))

	var individualKeys []string
	var jsonFields []string

	r.mu.Lock()
	for _, field := range fields {
		switch strategyOf(field) {
		case Memory:
			out[field] = r.memory[field]
		case DistributedIndividual:
			individualKeys = append(individualKeys, field)
		case DistributedJSON:
			jsonFields = append(jsonFields, field)
		}
	}
	r.mu.Unlock()

	for _, field := range individualKeys {
		raw, err := r.store.Get(ctx, key(r.deviceID, field))
		if err == store.ErrNotFound {
			out[field] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("device get_fields distributed %s: %w", field, err)
		}
		out[field] = decodeValue(raw)
	}

	if len(jsonFields) > 0 {
		raw, err := r.store.Get(ctx, key(r.deviceID, stateJSONField))
		if err != nil && err != store.ErrNotFound {
			return nil, fmt.Errorf("device get_fields load json: %w", err)
		}
		for _, field := range jsonFields {
			if raw == "" {
				out[field] = nil
				continue
			}
			result := gjson.Get(raw, field)
			if !result.Exists() {
				out[field] = nil
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(result.Raw), &v); err != nil {
				out[field] = nil // unparseable: yield nil, never panic
				continue
			}
			out[field] = v
		}
	}

	return out, nil
}

func key(deviceID, field string) string {
	return fmt.Sprintf("device:%s:%s", deviceID, field)
}

func encodeValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	default:
		b, err := json.Marshal(v)
		return string(b), err
	}
}

func decodeValue(raw string) any {
	return raw
}
