package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGER INGEST
// Upstream modules without access to the event bus push triggers over HTTP.
// ══════════════════════════════════════════════════════════════════════════════

// ErrInvalidTrigger is returned for trigger requests that cannot become events.
var ErrInvalidTrigger = errors.New("invalid trigger")

// TriggerRequest is the body of POST /v1/triggers.
type TriggerRequest struct {
	Type      shared.EventType `json:"type"`
	AccountID string           `json:"account_id"`

	// task.triggered
	TaskID    string     `json:"task_id,omitempty"`
	TaskTitle string     `json:"task_title,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Overdue   bool       `json:"overdue,omitempty"`

	// goal.milestone_reached
	GoalID    string `json:"goal_id,omitempty"`
	GoalTitle string `json:"goal_title,omitempty"`
	Percent   int    `json:"percent,omitempty"`

	// system.alert
	Severity string `json:"severity,omitempty"`
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ParseTrigger decodes a trigger request and turns it into a domain event.
func ParseTrigger(body []byte) (shared.Event, error) {
	var req TriggerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	return req.Event()
}

// Event validates the request and builds the matching event.
func (r TriggerRequest) Event() (shared.Event, error) {
	if strings.TrimSpace(r.AccountID) == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrInvalidTrigger)
	}

	switch r.Type {
	case shared.EventTaskTriggered:
		if r.TaskID == "" || r.TaskTitle == "" {
			return nil, fmt.Errorf("%w: task_id and task_title are required", ErrInvalidTrigger)
		}
		var due time.Time
		if r.DueAt != nil {
			due = *r.DueAt
		}
		return shared.NewTaskTriggeredEvent(r.AccountID, r.TaskID, r.TaskTitle, due, r.Overdue), nil

	case shared.EventGoalMilestoneReached:
		if r.GoalID == "" || r.GoalTitle == "" {
			return nil, fmt.Errorf("%w: goal_id and goal_title are required", ErrInvalidTrigger)
		}
		if r.Percent < 0 || r.Percent > 100 {
			return nil, fmt.Errorf("%w: percent must be 0-100", ErrInvalidTrigger)
		}
		return shared.NewGoalMilestoneReachedEvent(r.AccountID, r.GoalID, r.GoalTitle, r.Percent), nil

	case shared.EventSystemAlertRaised:
		if r.Title == "" || r.Message == "" {
			return nil, fmt.Errorf("%w: title and message are required", ErrInvalidTrigger)
		}
		switch r.Severity {
		case "", "info", "warning", "critical":
		default:
			return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidTrigger, r.Severity)
		}
		return shared.NewSystemAlertRaisedEvent(r.AccountID, r.Severity, r.Title, r.Message), nil

	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidTrigger, r.Type)
	}
}
