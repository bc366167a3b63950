package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/realtime"
)

func startHub(t *testing.T, origins []string) (*realtime.Hub, *httptest.Server) {
	t.Helper()
	hub := realtime.NewHub(origins, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("clinic"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, clinicID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?clinic=" + clinicID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_BroadcastsToClinicOnly(t *testing.T) {
	hub, srv := startHub(t, nil)
	mine := dial(t, srv, "clinic-1")
	other := dial(t, srv, "clinic-2")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	ev := domain.PatientAddedToQueueEvent{
		Meta:  domain.Meta{ClinicID: "clinic-1", Actor: "staff-1"},
		Entry: &domain.QueueEntry{ID: "e1", Status: domain.StatusWaiting, Position: domain.IntPtr(1)},
	}
	require.NoError(t, hub.Handle(context.Background(), ev))

	_ = mine.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := mine.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type     string          `json:"type"`
		ClinicID string          `json:"clinic_id"`
		Event    json.RawMessage `json:"event"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "PatientAddedToQueueEvent", got.Type)
	assert.Equal(t, "clinic-1", got.ClinicID)
	assert.Contains(t, string(got.Event), `"id":"e1"`)

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "clinic-2 must not receive clinic-1 events")
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn := dial(t, srv, "clinic-1")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, srv := startHub(t, []string{"https://reception.example"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?clinic=clinic-1"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://reception.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}
