// Package actions implements the per-intent handlers dispatched by
// internal/intent's registry: alarm, control, music, weather, news, and the
// shared story/joke/chat prompt-composition handler.
package actions

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vce-gateway/gateway/internal/device"
	"github.com/vce-gateway/gateway/internal/intent"
	"github.com/vce-gateway/gateway/internal/proto"
)

// alarmSystemPrompt is the second-stage LLM prompt producing the ADD/DEL/LIST
// alarm DSL, grounded verbatim on original_source's ActionAlarm.system_prompt.
const alarmSystemPrompt = `Smart Alarm Clock Command Processor

Role:
- Convert natural language to standardized alarm commands (ADD/DEL/LIST).
- Output structured commands only, no conversational responses.

Commands:
1. ADD (Create Alarm)
   - Syntax: ADD time=<YYYY-MM-DD HH:MM:SS or HH:MM:SS> [repeat=<schedule>] [label=<tag>]
   - Time: one-time (2025-08-12 09:00:00) or recurring (15:30:00).
   - Repeat: daily | workday | weekend | custom CSV digits 0..6 (0=Monday).

2. DEL (Delete Alarm)
   - Syntax: DEL [time=<time>] [label=<tag>] [repeat=<schedule>]

3. LIST (Query Alarms)
   - Syntax: LIST [time=<time>] [label=<tag>] [repeat=<schedule>]

Error Handling:
- Invalid input: respond with exactly "ERROR: invalid input"

Examples:
- "Daily wake-up at 7:30am" -> ADD time=07:30:00 repeat=daily label=Wakeup
- "Cancel the meeting alarm" -> DEL label=Meeting
- "Show all alarms" -> LIST`

// AlarmHandler implements intent.Handler for the alarm intent.
type AlarmHandler struct{}

var _ intent.Handler = AlarmHandler{}

func (AlarmHandler) Handle(ctx context.Context, text, content, history string, deps intent.Deps) (intent.ActionResult, error) {
	raw, err := deps.LLM.QueryLite(ctx, deps.Engine, fmt.Sprintf("Current time: %s\nUser query: %s", time.Now().Format(time.RFC3339), text), alarmSystemPrompt)
	if err != nil {
		return intent.ActionResult{}, fmt.Errorf("alarm action llm: %w", err)
	}
	return handleAlarmResponse(ctx, deps.DeviceRepo, raw)
}

var alarmParamPattern = regexp.MustCompile(`(\w+)=("[^"]*"|\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}|\S+)`)

func parseAlarmParams(s string) map[string]string {
	params := make(map[string]string)
	for _, m := range alarmParamPattern.FindAllStringSubmatch(s, -1) {
		params[m[1]] = strings.Trim(m[2], `"`)
	}
	return params
}

func parseAlarmRepeat(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	presets := map[string][]int{
		"workday": {0, 1, 2, 3, 4},
		"weekend": {5, 6},
		"daily":   {0, 1, 2, 3, 4, 5, 6},
	}
	if preset, ok := presets[s]; ok {
		return preset, nil
	}
	var days []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid repeat token %q", part)
		}
		days = append(days, n)
	}
	sort.Ints(days)
	return days, nil
}

// parseAlarmTime accepts "YYYY-MM-DD HH:MM:SS" or "YYYY-MM-DD" as one-shot
// timestamps, and "HH:MM:SS" as a periodic time-of-day.
func parseAlarmTime(s string) (alarmType device.AlarmType, trigger string, err error) {
	if t, e := time.Parse("15:04:05", s); e == nil {
		return device.Periodic, t.Format("15:04:05"), nil
	}
	if t, e := time.Parse("2006-01-02 15:04:05", s); e == nil {
		return device.OneShot, t.Format(time.RFC3339), nil
	}
	if t, e := time.Parse("2006-01-02", s); e == nil {
		return device.OneShot, t.Format(time.RFC3339), nil
	}
	return "", "", fmt.Errorf("invalid time format: %q", s)
}

func handleAlarmResponse(ctx context.Context, repo *device.Repository, resp string) (intent.ActionResult, error) {
	resp = strings.TrimSpace(resp)
	switch {
	case strings.HasPrefix(resp, "ADD"):
		return handleAlarmAdd(ctx, repo, resp[3:])
	case strings.HasPrefix(resp, "DEL"):
		return handleAlarmDel(ctx, repo, resp[3:])
	case strings.HasPrefix(resp, "LIST"):
		return handleAlarmList(ctx, repo, resp[4:])
	default:
		return alarmResult("invalid", "Command not recognized. Please try again.", nil), nil
	}
}

func handleAlarmAdd(ctx context.Context, repo *device.Repository, rest string) (intent.ActionResult, error) {
	params := parseAlarmParams(rest)
	timeStr, ok := params["time"]
	if !ok {
		return alarmResult("invalid", "Missing alarm time.", nil), nil
	}
	alarmType, trigger, err := parseAlarmTime(timeStr)
	if err != nil {
		return alarmResult("invalid", "I couldn't understand that time.", nil), nil
	}
	repeat, err := parseAlarmRepeat(params["repeat"])
	if err != nil {
		return alarmResult("invalid", "I couldn't understand that repeat schedule.", nil), nil
	}
	if len(repeat) > 0 {
		alarmType = device.Periodic
	}
	alarm := device.Alarm{
		ID:      uuid.NewString(),
		Type:    alarmType,
		Trigger: trigger,
		Repeat:  repeat,
		Label:   params["label"],
	}
	if err := repo.AddAlarm(ctx, alarm); err != nil {
		return intent.ActionResult{}, fmt.Errorf("add alarm: %w", err)
	}
	return alarmResult("add", fmt.Sprintf("Alarm added successfully. %s", describeAlarm(alarm)), []device.Alarm{alarm}), nil
}

func handleAlarmDel(ctx context.Context, repo *device.Repository, rest string) (intent.ActionResult, error) {
	matches, err := findMatchingAlarms(ctx, repo, parseAlarmParams(rest))
	if err != nil {
		return intent.ActionResult{}, err
	}
	if len(matches) == 0 {
		return alarmResult("del", "No matching alarms found.", nil), nil
	}
	ids := make([]string, len(matches))
	for i, a := range matches {
		ids[i] = a.ID
	}
	removed, err := repo.DelAlarm(ctx, ids)
	if err != nil {
		return intent.ActionResult{}, fmt.Errorf("del alarm: %w", err)
	}
	var lines []string
	for _, a := range removed {
		lines = append(lines, describeAlarm(a))
	}
	return alarmResult("del", "The following alarms have been deleted:\n"+strings.Join(lines, "\n"), removed), nil
}

func handleAlarmList(ctx context.Context, repo *device.Repository, rest string) (intent.ActionResult, error) {
	matches, err := findMatchingAlarms(ctx, repo, parseAlarmParams(rest))
	if err != nil {
		return intent.ActionResult{}, err
	}
	if len(matches) == 0 {
		return alarmResult("list", "No matching alarms found.", nil), nil
	}
	var lines []string
	for _, a := range matches {
		lines = append(lines, describeAlarm(a))
	}
	return alarmResult("list", "The following alarms were found:\n"+strings.Join(lines, "\n"), matches), nil
}

func findMatchingAlarms(ctx context.Context, repo *device.Repository, params map[string]string) ([]device.Alarm, error) {
	alarms, err := repo.GetValidAlarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("get valid alarms: %w", err)
	}
	if label, ok := params["label"]; ok {
		var filtered []device.Alarm
		for _, a := range alarms {
			if strings.EqualFold(a.Label, label) {
				filtered = append(filtered, a)
			}
		}
		alarms = filtered
	}
	if repeatStr, ok := params["repeat"]; ok {
		repeat, err := parseAlarmRepeat(repeatStr)
		if err == nil {
			var filtered []device.Alarm
			for _, a := range alarms {
				if containsAll(a.Repeat, repeat) {
					filtered = append(filtered, a)
				}
			}
			alarms = filtered
		}
	}
	if timeStr, ok := params["time"]; ok {
		_, trigger, err := parseAlarmTime(timeStr)
		if err == nil {
			var filtered []device.Alarm
			for _, a := range alarms {
				if a.Trigger == trigger {
					filtered = append(filtered, a)
				}
			}
			alarms = filtered
		}
	}
	return alarms, nil
}

func containsAll(set, subset []int) bool {
	present := make(map[int]bool, len(set))
	for _, d := range set {
		present[d] = true
	}
	for _, d := range subset {
		if !present[d] {
			return false
		}
	}
	return true
}

func describeAlarm(a device.Alarm) string {
	repeat := "None"
	if len(a.Repeat) > 0 {
		days := make([]string, len(a.Repeat))
		for i, d := range a.Repeat {
			days[i] = strconv.Itoa(d)
		}
		repeat = strings.Join(days, ",")
	}
	label := a.Label
	if label == "" {
		label = "none"
	}
	return fmt.Sprintf("Time: %s, Recurrence: %s, Label: '%s'", a.Trigger, repeat, label)
}

func alarmResult(cmd, userPrompt string, alarms []device.Alarm) intent.ActionResult {
	params := map[string]any{}
	if alarms != nil {
		params["alarms"] = alarms
	}
	cmdRecord := proto.BuildCommand(proto.CommandAlarm, cmd, params)
	return intent.ActionResult{UserPrompt: userPrompt, MetaData: &cmdRecord}
}
