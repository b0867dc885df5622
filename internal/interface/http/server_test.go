package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/notification-engine/internal/application/command"
	"github.com/alem-hub/notification-engine/internal/application/query"
	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/internal/infrastructure/channel"
	"github.com/alem-hub/notification-engine/internal/infrastructure/metrics"
	"github.com/alem-hub/notification-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/notification-engine/internal/interface/http/handlers"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type eventRecorder struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (r *eventRecorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

type fixture struct {
	server  *Server
	repo    *memory.NotificationRepository
	events  *eventRecorder
	hub     *channel.Hub
	sse     *channel.SSEBroker
	checker *handlers.CompositeHealthChecker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := timeutil.NewManualClock(t0)
	repo := memory.NewNotificationRepository()
	prefs := memory.NewPreferenceRepository(clock)
	reg := prometheus.NewRegistry()
	metrics.NewDeliveryMetrics(reg).Attempt("email")

	f := &fixture{
		repo:    repo,
		events:  &eventRecorder{},
		hub:     channel.NewHub(nil),
		sse:     channel.NewSSEBroker(nil),
		checker: handlers.NewCompositeHealthChecker("test"),
	}
	f.server = NewServer(DefaultConfig(), Dependencies{
		ListNotifications: query.NewListNotificationsHandler(repo),
		GetUnreadCount:    query.NewGetUnreadCountHandler(repo),
		GetPreferences:    query.NewGetPreferencesHandler(prefs),
		MarkRead:          command.NewMarkNotificationReadHandler(repo, f.events, clock, nil),
		Dismiss:           command.NewDismissNotificationHandler(repo, f.events, clock, nil),
		UpdatePreferences: command.NewUpdatePreferencesHandler(prefs, clock, nil),
		Triggers:          f.events,
		Hub:               f.hub,
		SSE:               f.sse,
		HealthChecker:     f.checker,
		Metrics:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return f
}

// seedSent stores a notification of account that has already been sent.
func (f *fixture) seedSent(t *testing.T, id string, account shared.AccountID) {
	t.Helper()
	content, err := notification.NewContent("Reminder", "Standup in 10 minutes", "", "")
	require.NoError(t, err)
	set, err := notification.NewChannelSet([]notification.Channel{notification.ChannelInApp}, notification.PriorityNormal)
	require.NoError(t, err)
	window, err := notification.NewScheduleWindow(nil, nil, t0)
	require.NoError(t, err)
	n, err := notification.NewNotification(notification.NewNotificationParams{
		ID:        notification.NotificationID(id),
		AccountID: account,
		Type:      notification.TypeTaskReminder,
		Content:   content,
		Channels:  set,
		Window:    window,
		Now:       t0.Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, n.MarkAsSent(t0.Add(-time.Minute)))
	n.PullEvents()
	require.NoError(t, f.repo.Save(context.Background(), n))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

func (f *fixture) do(t *testing.T, method, path, account, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if account != "" {
		req.Header.Set(handlers.AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestServer_RequiresAccount(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/v1/notifications", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_InboxFlow(t *testing.T) {
	f := newFixture(t)
	f.seedSent(t, "n-1", "acc-1")
	f.seedSent(t, "n-2", "acc-2")

	rec, env := f.do(t, http.MethodGet, "/v1/notifications?page_size=10", "acc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []query.NotificationDTO
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "n-1", list[0].ID)
	assert.Equal(t, notification.StatusSent, list[0].Status)
	assert.Equal(t, 10, env.Meta.PageSize)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, env = f.do(t, http.MethodGet, "/v1/notifications/unread-count", "acc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var count query.GetUnreadCountResult
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, 1, count.Unread)

	rec, env = f.do(t, http.MethodPost, "/v1/notifications/n-1/read", "acc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var change statusChangeResponse
	require.NoError(t, json.Unmarshal(env.Data, &change))
	assert.True(t, change.Changed)
	assert.Equal(t, notification.StatusRead, change.Status)

	// reading twice is not an error
	rec, env = f.do(t, http.MethodPost, "/v1/notifications/n-1/read", "acc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &change))
	assert.False(t, change.Changed)

	_, env = f.do(t, http.MethodGet, "/v1/notifications/unread-count", "acc-1", "")
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Zero(t, count.Unread)

	rec, _ = f.do(t, http.MethodPost, "/v1/notifications/n-1/dismiss", "acc-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, f.events.types(), shared.EventNotificationRead)
	assert.Contains(t, f.events.types(), shared.EventNotificationDismissed)
}

func TestServer_ForeignNotificationIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seedSent(t, "n-2", "acc-2")

	rec, env := f.do(t, http.MethodPost, "/v1/notifications/n-2/dismiss", "acc-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/notifications/missing/read", "acc-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListValidation(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/v1/notifications?page=x", "acc-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/v1/notifications?status=bogus", "acc-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

func TestServer_Preferences(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/v1/preferences", "acc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap notification.PreferenceSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.True(t, snap.Enabled)

	rec, env = f.do(t, http.MethodPut, "/v1/preferences", "acc-1", `{
		"enabled": false,
		"channels": {"email": {"quiet_hours": {"enabled": true, "start": "22:00", "end": "07:00"},
		                       "rate_limit": {"max_count": 5, "period": "1h"}}}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated struct {
		Preferences   notification.PreferenceSnapshot `json:"preferences"`
		ChangedFields []string                        `json:"changed_fields"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.False(t, updated.Preferences.Enabled)
	assert.ElementsMatch(t, []string{"enabled", "channels.email"}, updated.ChangedFields)
	email := updated.Preferences.Channels[notification.ChannelEmail]
	assert.True(t, email.QuietHoursEnabled)
	assert.Equal(t, 5, email.RateLimitMax)
	assert.Equal(t, time.Hour, email.RateLimitPeriod)
}

func TestServer_PreferencesErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"enabled":`, http.StatusBadRequest},
		{"unknown field", `{"volume": 11}`, http.StatusBadRequest},
		{"bad period", `{"channels": {"sms": {"rate_limit": {"max_count": 1, "period": "soon"}}}}`, http.StatusBadRequest},
		{"bad quiet hours", `{"channels": {"sms": {"quiet_hours": {"enabled": true, "start": "25:00", "end": "07:00"}}}}`, http.StatusBadRequest},
		{"unknown channel", `{"channels": {"pager": {"enabled": true}}}`, http.StatusBadRequest},
		{"stale version", `{"expected_version": 99, "enabled": false}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodPut, "/v1/preferences", "acc-1", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGERS, HEALTH, METRICS
// ══════════════════════════════════════════════════════════════════════════════

func TestServer_Triggers(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodPost, "/v1/triggers", "",
		`{"type":"task.triggered","account_id":"acc-1","task_id":"t-9","task_title":"Write report"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []shared.EventType{shared.EventTaskTriggered}, f.events.types())

	rec, env := f.do(t, http.MethodPost, "/v1/triggers", "", `{"type":"goal.milestone_reached","account_id":"acc-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_trigger", env.Error.Code)

	f.events.err = errors.New("bus closed")
	rec, _ = f.do(t, http.MethodPost, "/v1/triggers", "",
		`{"type":"system.alert","account_id":"acc-1","title":"Maintenance","message":"Tonight at 22:00"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_HealthAndReady(t *testing.T) {
	f := newFixture(t)
	f.checker.AddCheck("postgres", func(ctx context.Context) error { return nil })

	rec, _ := f.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.checker.AddOptionalCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	rec, _ = f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env := f.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, env.Error.Message, "redis")

	f.checker.AddCheck("postgres", func(ctx context.Context) error { return errors.New("down") })
	rec, _ = f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "delivery_attempts_total")
}

func TestServer_CORS(t *testing.T) {
	s := NewServer(Config{AllowedOrigins: []string{"https://app.example.com"}}, Dependencies{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/notifications", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAMS
// ══════════════════════════════════════════════════════════════════════════════

func TestServer_EventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?account_id=acc-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return f.sse.Subscribers("acc-1") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.sse.Send("acc-1", []byte(`{"id":"n-1"}`)))

	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			got = append(got, line)
		}
	}
	assert.Equal(t, []string{"event: notification", `data: {"id":"n-1"}`}, got)
}

func TestServer_WebSocket(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	header := http.Header{}
	header.Set(handlers.AccountHeader, "acc-1")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return f.hub.Connections("acc-1") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.hub.Send("acc-1", []byte(`{"id":"n-1"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"n-1"}`, string(msg))

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	assert.Error(t, err, "handshake without account is rejected")
}
