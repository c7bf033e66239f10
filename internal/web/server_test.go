package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/scene-sentry/internal/ai"
	"github.com/vzahanych/scene-sentry/internal/config"
	"github.com/vzahanych/scene-sentry/internal/health"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/pipeline"
	"github.com/vzahanych/scene-sentry/internal/state"
	"github.com/vzahanych/scene-sentry/internal/storage"
)

type fakeAlerts struct {
	recs    []state.AlertRecord
	lastOpt state.ListAlertsOptions
	err     error
}

func (f *fakeAlerts) ListAlerts(_ context.Context, opts state.ListAlertsOptions) ([]state.AlertRecord, int, error) {
	f.lastOpt = opts
	return f.recs, len(f.recs), f.err
}

func (f *fakeAlerts) GetAlert(_ context.Context, id string) (*state.AlertRecord, error) {
	for i := range f.recs {
		if f.recs[i].ID == id {
			return &f.recs[i], nil
		}
	}
	return nil, f.err
}

type fakeStats struct{ stats pipeline.Stats }

func (f fakeStats) Stats() pipeline.Stats { return f.stats }

type fakeState map[string]string

func (f fakeState) SystemState(context.Context) (map[string]string, error) { return f, nil }

type fakeHealth struct{ status health.Status }

func (f fakeHealth) Check(context.Context) health.HealthReport {
	return health.HealthReport{Status: f.status, Checks: map[string]health.Check{}}
}

type dirResolver struct{ dir string }

func (r dirResolver) ResolveResult(path string) (string, error) {
	if filepath.Dir(path) != r.dir {
		return "", storage.ErrOutsideResults
	}
	return path, nil
}

func setupTestServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	return NewServer(config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: 0}, deps, logger.NewNopLogger())
}

func doGet(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s := setupTestServer(t, Dependencies{Health: fakeHealth{status: health.StatusDegraded}})
	w := doGet(t, s, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	s = setupTestServer(t, Dependencies{Health: fakeHealth{status: health.StatusUnhealthy}})
	assert.Equal(t, http.StatusServiceUnavailable, doGet(t, s, "/api/health").Code)
}

func TestServer_Status(t *testing.T) {
	s := setupTestServer(t, Dependencies{Pipeline: fakeStats{pipeline.Stats{State: pipeline.StateRunning, Frames: 90}}})
	s.SetVersion("1.2.3")

	w := doGet(t, s, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Version  string `json:"version"`
		Pipeline struct {
			State  string `json:"state"`
			Frames uint64 `json:"frames_processed"`
		} `json:"pipeline"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "running", body.Pipeline.State)
	assert.Equal(t, uint64(90), body.Pipeline.Frames)
}

func TestServer_StatusIncludesSystemState(t *testing.T) {
	s := setupTestServer(t, Dependencies{State: fakeState{state.KeyLastRunID: "run-7", state.KeyLastSource: "clip.mp4"}})

	w := doGet(t, s, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SystemState map[string]string `json:"system_state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-7", body.SystemState[state.KeyLastRunID])
	assert.Equal(t, "clip.mp4", body.SystemState[state.KeyLastSource])

	w = doGet(t, setupTestServer(t, Dependencies{}), "/api/status")
	assert.NotContains(t, w.Body.String(), "system_state")
}

func TestServer_ListAlerts(t *testing.T) {
	store := &fakeAlerts{recs: []state.AlertRecord{
		{ID: "a1", Reasons: []string{"dangerous_objects"}, Detections: []ai.Detection{{Label: "gun"}}},
	}}
	s := setupTestServer(t, Dependencies{Alerts: store})

	w := doGet(t, s, "/api/alerts?reason=dangerous_objects&label=gun&limit=10&offset=5&since=2024-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dangerous_objects", store.lastOpt.Reason)
	assert.Equal(t, "gun", store.lastOpt.Label)
	assert.Equal(t, 10, store.lastOpt.Limit)
	assert.Equal(t, 5, store.lastOpt.Offset)
	assert.Equal(t, 2024, store.lastOpt.Since.Year())

	var body struct {
		Alerts []state.AlertRecord `json:"alerts"`
		Total  int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "a1", body.Alerts[0].ID)
}

func TestServer_ListAlertsBadQuery(t *testing.T) {
	s := setupTestServer(t, Dependencies{Alerts: &fakeAlerts{}})
	for _, q := range []string{"limit=-1", "limit=x", "offset=-2", "since=yesterday"} {
		assert.Equal(t, http.StatusBadRequest, doGet(t, s, "/api/alerts?"+q).Code, q)
	}
}

func TestServer_ListAlertsUnavailable(t *testing.T) {
	s := setupTestServer(t, Dependencies{})
	assert.Equal(t, http.StatusServiceUnavailable, doGet(t, s, "/api/alerts").Code)

	s = setupTestServer(t, Dependencies{Alerts: &fakeAlerts{err: errors.New("disk I/O error")}})
	assert.Equal(t, http.StatusInternalServerError, doGet(t, s, "/api/alerts").Code)
}

func TestServer_GetAlertAndImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "detection_dangerous_objects_20240101_120000.jpg")
	require.NoError(t, os.WriteFile(img, []byte{0xff, 0xd8, 0xff, 0xd9}, 0644))

	store := &fakeAlerts{recs: []state.AlertRecord{
		{ID: "saved", SavedPath: img},
		{ID: "failed", PersistError: "disk usage over limit"},
		{ID: "escaped", SavedPath: "/etc/passwd"},
	}}
	s := setupTestServer(t, Dependencies{Alerts: store, Results: dirResolver{dir: dir}})

	w := doGet(t, s, "/api/alerts/saved")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"saved"`)

	w = doGet(t, s, "/api/alerts/saved/image")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, w.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, doGet(t, s, "/api/alerts/failed/image").Code)
	assert.Equal(t, http.StatusForbidden, doGet(t, s, "/api/alerts/escaped/image").Code)
	assert.Equal(t, http.StatusNotFound, doGet(t, s, "/api/alerts/missing").Code)
}

func TestServer_NotFound(t *testing.T) {
	s := setupTestServer(t, Dependencies{})
	w := doGet(t, s, "/api/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Not found")
}

func TestServer_EventStream(t *testing.T) {
	s := setupTestServer(t, Dependencies{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	line := []byte(`{"status":"info","message":"started processing fake"}` + "\n")
	s.hub.Broadcast(line)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, line, msg)

	s.hub.CloseAll()
	assert.Zero(t, s.hub.ClientCount())
}

type chanSource struct{ ch chan []byte }

func (c chanSource) Subscribe(int) (<-chan []byte, func()) { return c.ch, func() {} }

func TestServer_StartStop(t *testing.T) {
	src := chanSource{ch: make(chan []byte, 1)}
	s := setupTestServer(t, Dependencies{Records: src})

	require.NoError(t, s.Start(context.Background()))
	require.NotEmpty(t, s.Addr())
	assert.True(t, s.Status().IsRunning())

	resp, err := http.Get("http://" + s.Addr() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestServer_Disabled(t *testing.T) {
	s := NewServer(config.WebConfig{Enabled: false}, Dependencies{}, logger.NewNopLogger())
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Addr())
	assert.NoError(t, s.Stop(context.Background()))
}
