package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/application/command"
	"github.com/alem-hub/notification-engine/internal/application/query"
	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/internal/infrastructure/channel"
	"github.com/alem-hub/notification-engine/internal/interface/http/handlers"
	"github.com/alem-hub/notification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles the liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy", "uptime": s.Uptime().String()})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAM HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleWebSocket handles GET /ws. The connection receives in-app, desktop
// and system notifications of the account until either side closes it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Websocket delivery not configured")
		return
	}
	account, _ := handlers.AccountFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		logger.FromContext(r.Context()).Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := channel.NewClient(account, conn)
	s.deps.Hub.Register(client)
	go client.WritePump()
	client.ReadPump(s.deps.Hub)
}

// handleEvents handles GET /events (text/event-stream).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.SSE == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Event stream not configured")
		return
	}
	account, _ := handlers.AccountFromContext(r.Context())
	s.deps.SSE.ServeStream(w, r, account)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListNotifications handles GET /v1/notifications?status=&page=&page_size=
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListNotifications == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "List handler not configured")
		return
	}
	account, _ := handlers.AccountFromContext(r.Context())

	page, err := getQueryParamInt(r, "page", 1)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	pageSize, err := getQueryParamInt(r, "page_size", 20)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	result, err := s.deps.ListNotifications.Handle(r.Context(), query.ListNotificationsQuery{
		AccountID: account,
		Status:    notification.Status(r.URL.Query().Get("status")),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, result.Notifications, &ResponseMeta{
		Page:     result.Page,
		PageSize: result.PageSize,
		HasMore:  result.HasMore,
	})
}

// handleUnreadCount handles GET /v1/notifications/unread-count
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetUnreadCount == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Unread count handler not configured")
		return
	}
	account, _ := handlers.AccountFromContext(r.Context())

	result, err := s.deps.GetUnreadCount.Handle(r.Context(), query.GetUnreadCountQuery{AccountID: account})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// statusChangeResponse is returned by read and dismiss.
type statusChangeResponse struct {
	NotificationID string              `json:"notification_id"`
	Status         notification.Status `json:"status"`
	Changed        bool                `json:"changed"`
	At             time.Time           `json:"at"`
}

// handleMarkRead handles POST /v1/notifications/{id}/read
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if s.deps.MarkRead == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Read handler not configured")
		return
	}
	account, _ := handlers.AccountFromContext(r.Context())

	result, err := s.deps.MarkRead.Handle(r.Context(), command.MarkNotificationReadCommand{
		NotificationID: notification.NotificationID(r.PathValue("id")),
		AccountID:      account,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newStatusChangeResponse(result))
}

// handleDismiss handles POST /v1/notifications/{id}/dismiss
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dismiss == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Dismiss handler not configured")
		return
	}
	account, _ := handlers.AccountFromContext(r.Context())

	result, err := s.deps.Dismiss.Handle(r.Context(), command.DismissNotificationCommand{
		NotificationID: notification.NotificationID(r.PathValue("id")),
		AccountID:      account,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newStatusChangeResponse(result))
}

func newStatusChangeResponse(r *command.StatusChangeResult) statusChangeResponse {
	return statusChangeResponse{
		NotificationID: r.NotificationID.String(),
		Status:         r.Status,
		Changed:        r.Changed,
		At:             r.At,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetPreferences handles GET /v1/preferences
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetPreferences == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Preferences handler not configured")
		return
	}
	account, _ := handlers.AccountFromContext(r.Context())

	snapshot, err := s.deps.GetPreferences.Handle(r.Context(), query.GetPreferencesQuery{AccountID: account})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snapshot)
}

// preferencesRequest is the body of PUT /v1/preferences. Omitted fields keep
// their current value.
type preferencesRequest struct {
	ExpectedVersion  int64                                          `json:"expected_version,omitempty"`
	Enabled          *bool                                          `json:"enabled,omitempty"`
	Types            map[notification.NotificationType]bool         `json:"types,omitempty"`
	Categories       map[notification.Category]bool                 `json:"categories,omitempty"`
	Channels         map[notification.Channel]channelPreferenceBody `json:"channels,omitempty"`
	MaxNotifications *int                                           `json:"max_notifications,omitempty"`
	AutoArchiveDays  *int                                           `json:"auto_archive_days,omitempty"`
	Timezone         *string                                        `json:"timezone,omitempty"`
}

type channelPreferenceBody struct {
	Enabled      *bool                            `json:"enabled,omitempty"`
	AllowedTypes *[]notification.NotificationType `json:"allowed_types,omitempty"`
	QuietHours   *quietHoursBody                  `json:"quiet_hours,omitempty"`
	RateLimit    *rateLimitBody                   `json:"rate_limit,omitempty"`
}

type quietHoursBody struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type rateLimitBody struct {
	MaxCount int    `json:"max_count"`
	Period   string `json:"period"` // Go duration, e.g. "1h"
}

func (b preferencesRequest) toCommand(account shared.AccountID) (command.UpdatePreferencesCommand, error) {
	cmd := command.UpdatePreferencesCommand{
		AccountID:       account,
		ExpectedVersion: b.ExpectedVersion,
		Preferences: command.PreferenceUpdates{
			Enabled:          b.Enabled,
			Types:            b.Types,
			Categories:       b.Categories,
			MaxNotifications: b.MaxNotifications,
			AutoArchiveDays:  b.AutoArchiveDays,
			Timezone:         b.Timezone,
		},
	}
	if len(b.Channels) == 0 {
		return cmd, nil
	}

	cmd.Preferences.Channels = make(map[notification.Channel]command.ChannelUpdate, len(b.Channels))
	for ch, body := range b.Channels {
		update := command.ChannelUpdate{
			Enabled:      body.Enabled,
			AllowedTypes: body.AllowedTypes,
		}
		if body.QuietHours != nil {
			update.QuietHours = &command.QuietHoursUpdate{
				Enabled: body.QuietHours.Enabled,
				Start:   body.QuietHours.Start,
				End:     body.QuietHours.End,
			}
		}
		if body.RateLimit != nil {
			rl := &command.RateLimitUpdate{MaxCount: body.RateLimit.MaxCount}
			if body.RateLimit.Period != "" {
				period, err := time.ParseDuration(body.RateLimit.Period)
				if err != nil {
					return cmd, fmt.Errorf("channels.%s.rate_limit.period: %w", ch, err)
				}
				rl.Period = period
			}
			update.RateLimit = rl
		}
		cmd.Preferences.Channels[ch] = update
	}
	return cmd, nil
}

// handleUpdatePreferences handles PUT /v1/preferences
func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	if s.deps.UpdatePreferences == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Preferences handler not configured")
		return
	}
	account, _ := handlers.AccountFromContext(r.Context())

	var body preferencesRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	cmd, err := body.toCommand(account)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	result, err := s.deps.UpdatePreferences.Handle(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"preferences":    result.Preferences,
		"changed_fields": result.ChangedFields,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGER INGEST
// ══════════════════════════════════════════════════════════════════════════════

// handleTrigger handles POST /v1/triggers. The event is published on the bus
// and processed asynchronously, so the response is 202.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Triggers == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Trigger ingest not configured")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	event, err := handlers.ParseTrigger(body)
	if errors.Is(err, handlers.ErrInvalidTrigger) {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_trigger", err.Error())
		return
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Triggers.Publish(event); err != nil {
		logger.FromContext(r.Context()).Error("publish trigger failed",
			zap.String("event_type", string(event.EventType())),
			zap.Error(err),
		)
		writeJSONError(w, r, http.StatusServiceUnavailable, "publish_failed", "Trigger could not be queued")
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{
		"type":         string(event.EventType()),
		"aggregate_id": event.AggregateID(),
	})
}
