package proto

import "time"

// CommandType is the closed set of structured control commands a
// short-circuited intent action can emit, per §3.
type CommandType string

const (
	CommandAlarm   CommandType = "alarm"
	CommandMusic   CommandType = "music"
	CommandControl CommandType = "control"
)

// Payload is a Command's `{cmd, params}` body.
type Payload struct {
	Cmd    string         `json:"cmd"`
	Params map[string]any `json:"params,omitempty"`
}

// Command is the §3 structured control metadata, grounded on
// original_source's wscore.coze.ctrl.Command.
type Command struct {
	Protocol  string      `json:"protocol"`
	Timestamp int64       `json:"timestamp"`
	Type      CommandType `json:"type"`
	Payload   Payload     `json:"payload"`
}

// BuildCommand constructs a Command with the current timestamp and the
// module's protocol version.
func BuildCommand(cmdType CommandType, cmd string, params map[string]any) Command {
	return Command{
		Protocol:  "v1",
		Timestamp: time.Now().Unix(),
		Type:      cmdType,
		Payload:   Payload{Cmd: cmd, Params: params},
	}
}
