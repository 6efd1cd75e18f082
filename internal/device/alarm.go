package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AlarmType distinguishes a recurring time-of-day alarm from a one-shot
// wall-clock alarm, per §3's Alarm invariants.
type AlarmType string

const (
	Periodic AlarmType = "periodic"
	OneShot  AlarmType = "one-shot"
)

// Alarm is the §3/§4.7 alarm record. Trigger holds a time-of-day
// ("HH:MM:SS") for Periodic alarms or a full RFC3339 timestamp for OneShot
// alarms; Repeat is a set of weekdays in 0..6 (0=Monday, matching the
// alarm DSL's weekday numbering).
type Alarm struct {
	ID      string    `json:"id"`
	Type    AlarmType `json:"type"`
	Trigger string    `json:"trigger"`
	Repeat  []int     `json:"repeat,omitempty"`
	Label   string    `json:"label,omitempty"`
}

// Validate enforces the invariants from §3: periodic requires a
// time-of-day trigger, one-shot requires a timestamp trigger, and every
// repeat entry lies in 0..6.
func (a Alarm) Validate() error {
	for _, d := range a.Repeat {
		if d < 0 || d > 6 {
			return fmt.Errorf("alarm %s: repeat day %d out of range 0..6", a.ID, d)
		}
	}
	switch a.Type {
	case Periodic:
		if _, err := time.Parse("15:04:05", a.Trigger); err != nil {
			return fmt.Errorf("alarm %s: periodic trigger must be time-of-day: %w", a.ID, err)
		}
	case OneShot:
		if _, err := time.Parse(time.RFC3339, a.Trigger); err != nil {
			return fmt.Errorf("alarm %s: one-shot trigger must be a timestamp: %w", a.ID, err)
		}
	default:
		return fmt.Errorf("alarm %s: unknown type %q", a.ID, a.Type)
	}
	return nil
}

// AddAlarm appends alarm to the alarms JSON field after validating it.
func (r *Repository) AddAlarm(ctx context.Context, alarm Alarm) error {
	if err := alarm.Validate(); err != nil {
		return err
	}
	alarms, err := r.GetValidAlarms(ctx)
	if err != nil {
		return err
	}
	alarms = append(alarms, alarm)
	return r.SetFields(ctx, map[string]any{"alarms": alarms})
}

// UpdateAlarm replaces the alarm with matching ID.
func (r *Repository) UpdateAlarm(ctx context.Context, alarm Alarm) error {
	if err := alarm.Validate(); err != nil {
		return err
	}
	alarms, err := r.GetValidAlarms(ctx)
	if err != nil {
		return err
	}
	found := false
	for i, a := range alarms {
		if a.ID == alarm.ID {
			alarms[i] = alarm
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("alarm %s: not found", alarm.ID)
	}
	return r.SetFields(ctx, map[string]any{"alarms": alarms})
}

// DelAlarm removes alarms matching any of ids, returning the removed set.
func (r *Repository) DelAlarm(ctx context.Context, ids []string) ([]Alarm, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	alarms, err := r.GetValidAlarms(ctx)
	if err != nil {
		return nil, err
	}

	var kept, removed []Alarm
	for _, a := range alarms {
		if idSet[a.ID] {
			removed = append(removed, a)
		} else {
			kept = append(kept, a)
		}
	}
	if err := r.SetFields(ctx, map[string]any{"alarms": kept}); err != nil {
		return nil, err
	}
	return removed, nil
}

// GetValidAlarms returns every periodic alarm plus every one-shot alarm
// whose trigger has not yet elapsed, per §4.7.
func (r *Repository) GetValidAlarms(ctx context.Context) ([]Alarm, error) {
	fields, err := r.GetFields(ctx, "alarms")
	if err != nil {
		return nil, err
	}
	raw := fields["alarms"]
	if raw == nil {
		return nil, nil
	}

	alarms, err := decodeAlarms(raw)
	if err != nil {
		return nil, fmt.Errorf("device get_valid_alarms decode: %w", err)
	}

	now := time.Now()
	var valid []Alarm
	for _, a := range alarms {
		if a.Type == Periodic {
			valid = append(valid, a)
			continue
		}
		trigger, parseErr := time.Parse(time.RFC3339, a.Trigger)
		if parseErr != nil {
			continue // unparseable: skip silently, never panic the caller
		}
		if trigger.After(now) {
			valid = append(valid, a)
		}
	}
	return valid, nil
}

// decodeAlarms re-marshals the loosely-typed JSON value GetFields returns
// (decoded through gjson/encoding-json as `any`) back into []Alarm.
func decodeAlarms(raw any) ([]Alarm, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var alarms []Alarm
	if err := json.Unmarshal(b, &alarms); err != nil {
		return nil, err
	}
	return alarms, nil
}
