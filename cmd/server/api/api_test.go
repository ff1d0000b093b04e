package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/system"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/x007007007/docker-image-trans/cmd/server/config"
	"github.com/x007007007/docker-image-trans/lib/broadcast"
	"github.com/x007007007/docker-image-trans/lib/engine"
	"github.com/x007007007/docker-image-trans/lib/transfer"
)

// fakeEngine implements the Engine interface with canned responses.
type fakeEngine struct {
	pingErr error
	info    system.Info
	infoErr error
	images  []engine.Summary
	listErr error

	mu      sync.Mutex
	removed []string
}

func (f *fakeEngine) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeEngine) Diagnose(ctx context.Context) string {
	if f.pingErr != nil {
		return f.pingErr.Error()
	}
	return "docker engine reachable"
}

func (f *fakeEngine) InfoAsync(ctx context.Context) <-chan engine.Result[system.Info] {
	ch := make(chan engine.Result[system.Info], 1)
	ch <- engine.Result[system.Info]{Value: f.info, Err: f.infoErr}
	return ch
}

func (f *fakeEngine) ListImagesAsync(ctx context.Context) <-chan engine.Result[[]engine.Summary] {
	ch := make(chan engine.Result[[]engine.Summary], 1)
	ch <- engine.Result[[]engine.Summary]{Value: f.images, Err: f.listErr}
	return ch
}

func (f *fakeEngine) RemoveImageAsync(ctx context.Context, ref string, force bool) <-chan error {
	f.mu.Lock()
	f.removed = append(f.removed, ref)
	f.mu.Unlock()
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

// fakeRunner records transfer requests and signals when a run starts.
type fakeRunner struct {
	mu      sync.Mutex
	reqs    []transfer.Request
	started chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 8)}
}

func (f *fakeRunner) Run(ctx context.Context, req transfer.Request) transfer.Outcome {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	f.started <- struct{}{}
	return transfer.Outcome{Success: true}
}

func (f *fakeRunner) requests() []transfer.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transfer.Request(nil), f.reqs...)
}

func newTestService(eng Engine, runner Runner) *ApiService {
	return New(
		&config.Config{Port: "8000", TargetRegistry: "localhost:5000", EngineWorkers: 4},
		eng,
		runner,
		broadcast.New(),
		slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
	)
}

func TestProcessImageAcknowledgesBeforeRunCompletes(t *testing.T) {
	runner := newFakeRunner()
	svc := newTestService(&fakeEngine{}, runner)

	req := httptest.NewRequest(http.MethodPost, "/process-image", strings.NewReader(`{"image_name":"nginx:latest"}`))
	rec := httptest.NewRecorder()
	svc.ProcessImage(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ProcessImageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "nginx:latest", resp.ImageName)

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("pipeline run never started")
	}
	reqs := runner.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "nginx:latest", reqs[0].RawRef)
	require.Equal(t, "localhost:5000", reqs[0].TargetDomain)
}

func TestProcessImageHonorsRequestTargetDomain(t *testing.T) {
	runner := newFakeRunner()
	svc := newTestService(&fakeEngine{}, runner)

	req := httptest.NewRequest(http.MethodPost, "/process-image",
		strings.NewReader(`{"image_name":"nginx","target_domain":"mirror.example.com"}`))
	rec := httptest.NewRecorder()
	svc.ProcessImage(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("pipeline run never started")
	}
	reqs := runner.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "mirror.example.com", reqs[0].TargetDomain)
}

func TestProcessImageRejectsMissingName(t *testing.T) {
	svc := newTestService(&fakeEngine{}, newFakeRunner())

	for _, body := range []string{`{}`, `{"image_name":""}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/process-image", strings.NewReader(body))
		rec := httptest.NewRecorder()
		svc.ProcessImage(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q must be rejected", body)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, "invalid_request", resp.Code)
	}
}

func TestHealthReportsEngineState(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantDocker string
		wantInfo   string
	}{
		{"healthy", nil, "healthy", "docker engine reachable"},
		{"unhealthy", errors.New("cannot connect to the docker daemon"), "unhealthy", "cannot connect to the docker daemon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&fakeEngine{pingErr: tt.pingErr}, newFakeRunner())

			rec := httptest.NewRecorder()
			svc.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			require.Equal(t, "ok", resp.Status)
			require.Equal(t, tt.wantDocker, resp.Docker)
			require.Equal(t, tt.wantInfo, resp.DockerInfo)
			require.Greater(t, resp.Timestamp, float64(0))
		})
	}
}

func TestDockerStatusReportsInfoSubset(t *testing.T) {
	svc := newTestService(&fakeEngine{
		info: system.Info{ServerVersion: "28.2.2", OperatingSystem: "Ubuntu", Architecture: "x86_64", Containers: 3, Images: 12},
	}, newFakeRunner())

	rec := httptest.NewRecorder()
	svc.DockerStatus(rec, httptest.NewRequest(http.MethodGet, "/docker-status", nil))

	var resp DockerStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Connected)
	require.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.Info)
	require.Equal(t, "28.2.2", resp.Info.ServerVersion)
	require.Equal(t, 12, resp.Info.Images)
}

func TestDockerStatusReportsConnectionError(t *testing.T) {
	svc := newTestService(&fakeEngine{infoErr: errors.New("connection refused")}, newFakeRunner())

	rec := httptest.NewRecorder()
	svc.DockerStatus(rec, httptest.NewRequest(http.MethodGet, "/docker-status", nil))

	var resp DockerStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.False(t, resp.Connected)
	require.Equal(t, "unhealthy", resp.Status)
	require.Contains(t, resp.Error, "connection refused")
	require.Nil(t, resp.Info)
}

func TestListImagesReturnsEmptyListNotNull(t *testing.T) {
	svc := newTestService(&fakeEngine{}, newFakeRunner())

	rec := httptest.NewRecorder()
	svc.ListImages(rec, httptest.NewRequest(http.MethodGet, "/images", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"images":[]`)
}

func TestRemoveImageRequiresRef(t *testing.T) {
	eng := &fakeEngine{}
	svc := newTestService(eng, newFakeRunner())

	rec := httptest.NewRecorder()
	svc.RemoveImage(rec, httptest.NewRequest(http.MethodDelete, "/images", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, eng.removed)

	rec = httptest.NewRecorder()
	svc.RemoveImage(rec, httptest.NewRequest(http.MethodDelete, "/images?ref=nginx:latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"nginx:latest"}, eng.removed)
}

func TestWsStreamsBroadcastEvents(t *testing.T) {
	svc := newTestService(&fakeEngine{}, newFakeRunner())

	r := chi.NewRouter()
	r.Get("/ws", svc.WsHandler)
	ts := httptest.NewServer(r)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// First event is the connection announcement.
	var ev broadcast.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	require.Contains(t, ev.Message, "connection established")
	require.Equal(t, 0, ev.Progress)

	svc.Broadcaster.Publish(broadcast.NewEvent("pulling image from source registry", 20))
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "pulling image from source registry", ev.Message)
	require.Equal(t, 20, ev.Progress)
}

func TestWsDisconnectUnsubscribes(t *testing.T) {
	svc := newTestService(&fakeEngine{}, newFakeRunner())

	r := chi.NewRouter()
	r.Get("/ws", svc.WsHandler)
	ts := httptest.NewServer(r)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return svc.Broadcaster.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return svc.Broadcaster.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestIndexServesEmbeddedPage(t *testing.T) {
	svc := newTestService(&fakeEngine{}, newFakeRunner())

	rec := httptest.NewRecorder()
	svc.Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "Image Transfer")
}
