// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Trigger events are produced by upstream modules (tasks, goals,
// monitoring); notification events are produced by the delivery engine.
const (
	// Trigger events
	EventTaskTriggered        EventType = "task.triggered"
	EventGoalMilestoneReached EventType = "goal.milestone_reached"
	EventSystemAlertRaised    EventType = "system.alert"

	// Notification events
	EventNotificationCreated   EventType = "notification.created"
	EventNotificationSent      EventType = "notification.sent"
	EventNotificationRead      EventType = "notification.read"
	EventNotificationDismissed EventType = "notification.dismissed"
	EventNotificationExpired   EventType = "notification.expired"
	EventNotificationFailed    EventType = "notification.failed"
	EventDeliveryDeadLettered  EventType = "notification.dead_lettered"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Trigger Events
// ═══════════════════════════════════════════════════════════════════════════

// TaskTriggeredEvent is emitted by the task module when a task reminder fires.
type TaskTriggeredEvent struct {
	BaseEvent
	AccountID string    `json:"account_id"`
	TaskID    string    `json:"task_id"`
	TaskTitle string    `json:"task_title"`
	DueAt     time.Time `json:"due_at,omitempty"`
	Overdue   bool      `json:"overdue"`
}

// Payload implements Event interface.
func (e TaskTriggeredEvent) Payload() map[string]interface{} {
	payload := map[string]interface{}{
		"account_id": e.AccountID,
		"task_id":    e.TaskID,
		"task_title": e.TaskTitle,
		"overdue":    e.Overdue,
	}
	if !e.DueAt.IsZero() {
		payload["due_at"] = e.DueAt.Format(time.RFC3339)
	}
	return payload
}

// NewTaskTriggeredEvent creates a new TaskTriggeredEvent.
func NewTaskTriggeredEvent(accountID, taskID, taskTitle string, dueAt time.Time, overdue bool) TaskTriggeredEvent {
	return TaskTriggeredEvent{
		BaseEvent: NewBaseEvent(EventTaskTriggered, taskID),
		AccountID: accountID,
		TaskID:    taskID,
		TaskTitle: taskTitle,
		DueAt:     dueAt,
		Overdue:   overdue,
	}
}

// GoalMilestoneReachedEvent is emitted when a goal crosses a progress milestone.
type GoalMilestoneReachedEvent struct {
	BaseEvent
	AccountID string `json:"account_id"`
	GoalID    string `json:"goal_id"`
	GoalTitle string `json:"goal_title"`
	Percent   int    `json:"percent"`
}

// Payload implements Event interface.
func (e GoalMilestoneReachedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"account_id": e.AccountID,
		"goal_id":    e.GoalID,
		"goal_title": e.GoalTitle,
		"percent":    e.Percent,
	}
}

// NewGoalMilestoneReachedEvent creates a new GoalMilestoneReachedEvent.
func NewGoalMilestoneReachedEvent(accountID, goalID, goalTitle string, percent int) GoalMilestoneReachedEvent {
	return GoalMilestoneReachedEvent{
		BaseEvent: NewBaseEvent(EventGoalMilestoneReached, goalID),
		AccountID: accountID,
		GoalID:    goalID,
		GoalTitle: goalTitle,
		Percent:   percent,
	}
}

// SystemAlertRaisedEvent is emitted by operators or monitoring for a single account.
type SystemAlertRaisedEvent struct {
	BaseEvent
	AccountID string `json:"account_id"`
	Severity  string `json:"severity"` // info, warning, critical
	Title     string `json:"title"`
	Message   string `json:"message"`
}

// Payload implements Event interface.
func (e SystemAlertRaisedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"account_id": e.AccountID,
		"severity":   e.Severity,
		"title":      e.Title,
		"message":    e.Message,
	}
}

// NewSystemAlertRaisedEvent creates a new SystemAlertRaisedEvent.
func NewSystemAlertRaisedEvent(accountID, severity, title, message string) SystemAlertRaisedEvent {
	return SystemAlertRaisedEvent{
		BaseEvent: NewBaseEvent(EventSystemAlertRaised, accountID),
		AccountID: accountID,
		Severity:  severity,
		Title:     title,
		Message:   message,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
