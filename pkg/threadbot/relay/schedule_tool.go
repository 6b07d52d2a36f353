package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/threadbot/pkg/threadbot/scheduler"
)

// ScheduleToolName is the function name the assistant calls to set a reminder.
const ScheduleToolName = "schedule"

// ScheduleSuccess is returned for every well-formed schedule call.
const ScheduleSuccess = "Event scheduled successfully"

// scheduleLayouts are tried in order; the first is the documented one
// (day/month/year, 24-hour clock).
var scheduleLayouts = []string{
	"02/01/2006 15:04",
	"2/1/2006 15:04",
	"02/01/2006 15:04:05",
}

// ReminderScheduler is the part of the scheduler the schedule tool needs.
type ReminderScheduler interface {
	Schedule(r *scheduler.Reminder) error
	Location() *time.Location
}

type scheduleArgs struct {
	Date string `json:"date"`
	Time string `json:"time"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// NewScheduleTool returns the "schedule" tool. It registers a one-shot
// reminder that sends "{name}\n{data}" back to the caller's chat.
//
// An unparseable date or time is logged and no reminder is registered, but
// the call still reports success so the run continues. Arguments that are not
// valid JSON produce a failure output instead.
func NewScheduleTool(s ReminderScheduler, logger *slog.Logger) ToolFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "schedule_tool")

	return func(_ context.Context, inv Invocation) (string, error) {
		var args scheduleArgs
		if err := json.Unmarshal([]byte(inv.Arguments), &args); err != nil {
			logger.Warn("schedule call with malformed arguments", "call_id", inv.CallID, "error", err)
			return fmt.Sprintf("Failed to schedule event: invalid arguments: %v", err), nil
		}

		fireAt, err := parseScheduleTime(args.Date, args.Time, s.Location())
		if err != nil {
			logger.Warn("schedule call with unparseable time, no reminder set",
				"call_id", inv.CallID, "date", args.Date, "time", args.Time, "error", err)
			return ScheduleSuccess, nil
		}

		r := &scheduler.Reminder{
			FireAt:    fireAt,
			Channel:   inv.Sender.Channel,
			Recipient: inv.Sender.ChatID,
			Name:      args.Name,
			Body:      args.Data,
		}
		if err := s.Schedule(r); err != nil {
			logger.Error("failed to register reminder", "call_id", inv.CallID, "error", err)
		}
		return ScheduleSuccess, nil
	}
}

func parseScheduleTime(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	value := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)

	var firstErr error
	for _, layout := range scheduleLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
