package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/api"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/audit"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/eventbus"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/realtime"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/repository"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
)

const (
	clinicID = "clinic-1"
	staffID  = "staff-1"
	ownerID  = "owner-1"
	otherID  = "staff-2"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type env struct {
	srv    *httptest.Server
	repo   *repository.MockQueueRepository
	audit  *repository.MockAuditRepository
	budget *repository.MockBudgetRepository
	dir    *repository.MockClinicDirectory
	bus    *eventbus.Bus
	hub    *realtime.Hub
}

type fakeDepths struct{}

func (fakeDepths) Depths() (int, int, int) { return 2, 1, 0 }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newEnv(t *testing.T, pingErr error) *env {
	t.Helper()
	repo := repository.NewMockQueueRepository()
	repo.Now = func() time.Time { return now }
	dir := repository.NewMockClinicDirectory()
	dir.SetRole(clinicID, staffID, domain.RoleStaff)
	dir.SetRole(clinicID, ownerID, domain.RoleOwner)
	dir.SetRole("clinic-2", otherID, domain.RoleStaff)
	auditRepo := repository.NewMockAuditRepository()
	budgets := repository.NewMockBudgetRepository()

	ctx, cancel := context.WithCancel(context.Background())
	bus := eventbus.New(zap.NewNop(), eventbus.Options{})
	audit.NewRecorder(auditRepo, zap.NewNop(), audit.MetricHooks{}).Register(bus)
	hub := realtime.NewHub(nil, zap.NewNop(), nil)
	hub.Register(bus)
	bus.Start(ctx)
	go hub.Run(ctx)

	svc := service.NewQueueService(repo, dir, bus, zap.NewNop(), service.Options{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})

	reg := prometheus.NewRegistry()
	router := api.NewRouter(api.Deps{
		Queue:        svc,
		Audit:        auditRepo,
		Budgets:      budgets,
		Directory:    dir,
		MonthlyLimit: 500,
		Hub:          hub,
		History:      bus,
		Outbound:     fakeDepths{},
		DB:           fakePinger{err: pingErr},
		Gatherer:     reg,
	}, zap.NewNop())

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		bus.Wait()
	})
	return &env{srv: srv, repo: repo, audit: auditRepo, budget: budgets, dir: dir, bus: bus, hub: hub}
}

func (e *env) do(t *testing.T, method, path, staff string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if staff != "" {
		req.Header.Set("X-Staff-ID", staff)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *env) add(t *testing.T, patientID string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue", staffID, map[string]any{
		"patient":          map[string]string{"patient_id": patientID},
		"appointment_type": "walk_in",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["id"].(string)
}

func (e *env) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.bus.Flush(ctx))
}

func TestQueueLifecycle(t *testing.T) {
	e := newEnv(t, nil)
	first := e.add(t, "p1")
	second := e.add(t, "p2")

	resp, body := e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue/call-next", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first, body["id"])
	assert.Equal(t, "in_progress", body["status"])
	assert.NotContains(t, body, "position")

	resp, body = e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue/"+first+"/complete", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	resp, body = e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue/"+second+"/absent", staffID,
		map[string]string{"reason": "stepped out"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "absent", body["status"])

	resp, body = e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue/"+second+"/return", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "waiting", body["status"])
	assert.EqualValues(t, 1, body["position"])

	resp, body = e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/queue?date=2026-03-02", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2026-03-02", body["day"])
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].(map[string]any)["id"], "waiting entries sort before terminal ones")
}

func TestCallSpecific(t *testing.T) {
	e := newEnv(t, nil)
	e.add(t, "p1")
	e.add(t, "p2")
	third := e.add(t, "p3")

	resp, body := e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue/"+third+"/call", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, third, body["id"])

	_, view := e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/queue", staffID, nil)
	for _, raw := range view["entries"].([]any) {
		entry := raw.(map[string]any)
		if entry["status"] == "waiting" {
			assert.EqualValues(t, 1, entry["skip_count"])
		}
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, e *env) string
		method     string
		staff      string
		body       any
		wantStatus int
		wantError  string
		wantCode   string
	}{
		{
			name:       "anonymous caller",
			method:     http.MethodGet,
			setup:      func(*testing.T, *env) string { return "/api/v1/clinics/clinic-1/queue" },
			wantStatus: http.StatusForbidden, wantError: "forbidden", wantCode: "not_clinic_staff",
		},
		{
			name:       "staff of another clinic",
			method:     http.MethodGet,
			staff:      staffID,
			setup:      func(*testing.T, *env) string { return "/api/v1/clinics/clinic-2/queue" },
			wantStatus: http.StatusForbidden, wantError: "forbidden", wantCode: "not_clinic_staff",
		},
		{
			name:       "malformed date",
			method:     http.MethodGet,
			staff:      staffID,
			setup:      func(*testing.T, *env) string { return "/api/v1/clinics/clinic-1/queue?date=02-03-2026" },
			wantStatus: http.StatusUnprocessableEntity, wantError: "validation", wantCode: "invalid_date",
		},
		{
			name:   "both patient ids set",
			method: http.MethodPost,
			staff:  staffID,
			body: map[string]any{
				"patient":          map[string]string{"patient_id": "p1", "guest_id": "g1"},
				"appointment_type": "walk_in",
			},
			setup:      func(*testing.T, *env) string { return "/api/v1/clinics/clinic-1/queue" },
			wantStatus: http.StatusUnprocessableEntity, wantError: "validation", wantCode: "invalid_patient_ref",
		},
		{
			name:       "empty queue",
			method:     http.MethodPost,
			staff:      staffID,
			setup:      func(*testing.T, *env) string { return "/api/v1/clinics/clinic-1/queue/call-next" },
			wantStatus: http.StatusNotFound, wantError: "not_found", wantCode: "queue_empty",
		},
		{
			name:   "patient already in progress",
			method: http.MethodPost,
			staff:  staffID,
			setup: func(t *testing.T, e *env) string {
				e.add(t, "p1")
				e.add(t, "p2")
				resp, _ := e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue/call-next", staffID, nil)
				require.Equal(t, http.StatusOK, resp.StatusCode)
				return "/api/v1/clinics/clinic-1/queue/call-next"
			},
			wantStatus: http.StatusConflict, wantError: "business_rule", wantCode: "patient_in_progress",
		},
		{
			name:   "concurrent update is retryable",
			method: http.MethodPost,
			staff:  staffID,
			setup: func(t *testing.T, e *env) string {
				e.add(t, "p1")
				e.repo.LockErr = domain.ErrConcurrentUpdate
				return "/api/v1/clinics/clinic-1/queue/call-next"
			},
			wantStatus: http.StatusConflict, wantError: "concurrency", wantCode: "concurrent_update",
		},
		{
			name:   "infrastructure failure is hidden",
			method: http.MethodPost,
			staff:  staffID,
			setup: func(t *testing.T, e *env) string {
				e.add(t, "p1")
				e.repo.LockErr = errors.New("connection reset by peer")
				return "/api/v1/clinics/clinic-1/queue/call-next"
			},
			wantStatus: http.StatusInternalServerError, wantError: "internal",
		},
		{
			name:       "closing a future day",
			method:     http.MethodPost,
			staff:      staffID,
			body:       map[string]string{"date": "2026-03-03"},
			setup:      func(*testing.T, *env) string { return "/api/v1/clinics/clinic-1/day/end" },
			wantStatus: http.StatusUnprocessableEntity, wantError: "validation", wantCode: "future_day",
		},
		{
			name:       "reopen by staff",
			method:     http.MethodPost,
			staff:      staffID,
			body:       map[string]string{"reason": "mistake"},
			setup:      func(*testing.T, *env) string { return "/api/v1/clinics/clinic-1/day/closures/c-1/reopen" },
			wantStatus: http.StatusForbidden, wantError: "forbidden", wantCode: "not_clinic_owner",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, nil)
			path := tc.setup(t, e)

			resp, body := e.do(t, tc.method, path, tc.staff, tc.body)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Equal(t, tc.wantError, body["error"])
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, body["code"])
			}
			assert.Equal(t, tc.wantError == "concurrency", body["retryable"] == true)
			if tc.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["message"])
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	e := newEnv(t, nil)
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/v1/clinics/clinic-1/queue", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("X-Staff-ID", staffID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEndAndReopenDay(t *testing.T) {
	e := newEnv(t, nil)
	e.add(t, "p1")
	e.add(t, "p2")

	resp, body := e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/day/end", staffID, map[string]string{"date": "2026-03-02"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	closureID := body["id"].(string)
	counts := body["counts"].(map[string]any)
	assert.EqualValues(t, 2, counts["no_show_from_waiting"])

	resp, body = e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue", staffID, map[string]any{
		"patient": map[string]string{"patient_id": "p3"}, "appointment_type": "walk_in",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "day_closed", body["code"])

	resp, body = e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/day/end", staffID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "day_already_closed", body["code"])

	resp, body = e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/day/closures/"+closureID+"/reopen", ownerID, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "missing_reason", body["code"])

	resp, body = e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/day/closures/"+closureID+"/reopen", ownerID,
		map[string]string{"reason": "closed too early"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, ownerID, body["reopened_by"])

	e.add(t, "p3")
}

func TestAuditListing(t *testing.T) {
	e := newEnv(t, nil)
	e.add(t, "p1")
	e.add(t, "p2")
	resp, _ := e.do(t, http.MethodPost, "/api/v1/clinics/clinic-1/queue/call-next", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e.flush(t)

	resp, body := e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/audit?date=2026-03-02", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := body["entries"].([]any)
	require.Len(t, rows, 3)
	assert.Equal(t, "call_next", rows[2].(map[string]any)["action"])

	resp, body = e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/audit?date=2026-03-01", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["entries"])

	resp, _ = e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/audit", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBudget(t *testing.T) {
	e := newEnv(t, nil)
	period, _ := domain.BillingPeriod(time.Now())

	resp, body := e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/budget", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, period, body["period"])
	assert.EqualValues(t, 500, body["monthly_limit"])
	assert.EqualValues(t, 0, body["sent"])
	assert.EqualValues(t, 500, body["remaining"])

	e.budget.SetBudget(domain.NotificationBudget{ClinicID: clinicID, Period: period, MonthlyLimit: 100, Sent: 100})
	_, body = e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/budget", staffID, nil)
	assert.EqualValues(t, 100, body["sent"])
	assert.EqualValues(t, 0, body["remaining"])
}

func TestBudget_ClinicLimitOverridesDefault(t *testing.T) {
	e := newEnv(t, nil)
	e.dir.SetMonthlyLimit(clinicID, 40)

	resp, body := e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/budget", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 40, body["monthly_limit"])
	assert.EqualValues(t, 40, body["remaining"])

	e.dir.SetMonthlyLimit(clinicID, 0)
	_, body = e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/budget", staffID, nil)
	assert.EqualValues(t, 0, body["monthly_limit"])
	assert.EqualValues(t, 0, body["remaining"])
}

func TestRecentEvents(t *testing.T) {
	e := newEnv(t, nil)
	e.add(t, "p1")
	e.add(t, "p2")
	resp, body := e.do(t, http.MethodPost, "/api/v1/clinics/clinic-2/queue", otherID, map[string]any{
		"patient":          map[string]string{"patient_id": "secret-patient"},
		"appointment_type": "walk_in",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, body = e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/events/recent?limit=1", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
	rec := body["events"].([]any)[0].(map[string]any)
	assert.Equal(t, clinicID, rec["clinic_id"])
	entry := rec["event"].(map[string]any)["entry"].(map[string]any)
	assert.Equal(t, "p2", entry["patient"].(map[string]any)["patient_id"])

	resp, body = e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/events/recent", staffID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-patient")

	resp, _ = e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/events/recent?limit=zero", staffID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRecentEvents_Forbidden(t *testing.T) {
	e := newEnv(t, nil)
	e.add(t, "p1")

	tests := []struct {
		name  string
		staff string
	}{
		{"anonymous", ""},
		{"unknown staff", "outsider"},
		{"staff of another clinic", otherID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := e.do(t, http.MethodGet, "/api/v1/clinics/clinic-1/events/recent", tc.staff, nil)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			assert.Nil(t, body["events"])
		})
	}

	resp, _ := e.do(t, http.MethodGet, "/api/v1/events/recent", staffID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSystemEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		pingErr    error
		wantStatus int
	}{
		{"health", "/health", nil, http.StatusOK},
		{"ready", "/ready", nil, http.StatusOK},
		{"ready with database down", "/ready", errors.New("dial tcp: refused"), http.StatusServiceUnavailable},
		{"outbound depths", "/api/v1/outbound", nil, http.StatusOK},
		{"metrics", "/metrics", nil, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, tc.pingErr)
			resp, err := http.Get(e.srv.URL + tc.path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}
}

func TestFeed(t *testing.T) {
	e := newEnv(t, nil)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/clinics/clinic-1/feed"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Staff-ID": []string{staffID}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	e.add(t, "p1")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame struct {
		Type     domain.EventType `json:"type"`
		ClinicID string           `json:"clinic_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, domain.EventPatientAdded, frame.Type)
	assert.Equal(t, clinicID, frame.ClinicID)
}
