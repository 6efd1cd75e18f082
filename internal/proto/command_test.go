package proto

import "testing"

func TestBuildCommand(t *testing.T) {
	cmd := BuildCommand(CommandAlarm, "add", map[string]any{"id": "a1"})

	if cmd.Protocol != "v1" {
		t.Fatalf("Protocol = %q, want v1", cmd.Protocol)
	}
	if cmd.Type != CommandAlarm {
		t.Fatalf("Type = %v, want %v", cmd.Type, CommandAlarm)
	}
	if cmd.Payload.Cmd != "add" {
		t.Fatalf("Payload.Cmd = %q, want add", cmd.Payload.Cmd)
	}
	if cmd.Payload.Params["id"] != "a1" {
		t.Fatalf("Payload.Params[id] = %v, want a1", cmd.Payload.Params["id"])
	}
	if cmd.Timestamp <= 0 {
		t.Fatalf("Timestamp = %d, want > 0", cmd.Timestamp)
	}
}
