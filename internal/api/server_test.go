package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/wearpkg/internal/events"
	"github.com/mattjoyce/wearpkg/internal/install"
	"github.com/mattjoyce/wearpkg/internal/metrics"
)

const testKey = "test-key"

// fakeInstaller implements Installer for testing
type fakeInstaller struct {
	mu         sync.Mutex
	installs   []install.InstallRequest
	uninstalls []install.UninstallRequest
	err        error
	block      bool
}

func (f *fakeInstaller) SubmitInstall(ctx context.Context, req install.InstallRequest) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", fmt.Errorf("wait for queue space: %w", ctx.Err())
	}
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, req)
	return "req-install", nil
}

func (f *fakeInstaller) SubmitUninstall(ctx context.Context, req install.UninstallRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalls = append(f.uninstalls, req)
	return "req-uninstall", nil
}

func (f *fakeInstaller) QueueDepth() int             { return 2 }
func (f *fakeInstaller) Outstanding() int            { return 3 }
func (f *fakeInstaller) CurrentState() install.State { return install.StateStaging }

type fixedGuard int

func (g fixedGuard) Count() int  { return int(g) }
func (g fixedGuard) Active() bool { return g > 0 }

func newTestServer(t *testing.T, inst Installer, hub *events.Hub, m *metrics.Metrics) *httptest.Server {
	t.Helper()
	if hub == nil {
		hub = events.NewHub(16)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(Config{APIKey: testKey, AdmitTimeout: 50 * time.Millisecond}, inst, hub, fixedGuard(1), m, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeInstaller{}, nil, nil)

	resp := do(t, srv, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.QueueDepth)
	assert.Equal(t, 3, body.Outstanding)
	assert.Equal(t, 1, body.GuardReferences)
	assert.True(t, body.GuardActive)
	assert.Equal(t, "staging", body.WorkerState)
}

func TestInstallRequiresAuth(t *testing.T) {
	inst := &fakeInstaller{}
	srv := newTestServer(t, inst, nil, nil)

	resp := do(t, srv, http.MethodPost, "/install", `{"package":"com.example.watch","content":"/tmp/x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/install", `{"package":"com.example.watch","content":"/tmp/x"}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, inst.installs)
}

func TestInstallAccepted(t *testing.T) {
	inst := &fakeInstaller{}
	srv := newTestServer(t, inst, nil, nil)

	body := `{"package":"com.example.watch","content":"file:///tmp/x.pkg","permissions":"/tmp/perms.db",
		"check_permissions":true,"skip_if_same_version":true,"compression":"zstd",
		"companion_sdk_version":24,"companion_device_version":25}`
	resp := do(t, srv, http.MethodPost, "/install", body, testKey)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, SubmitResponse{RequestID: "req-install", Status: "queued", Package: "com.example.watch"}, out)

	require.Len(t, inst.installs, 1)
	got := inst.installs[0]
	assert.Equal(t, "com.example.watch", got.PackageName)
	assert.Equal(t, "file:///tmp/x.pkg", got.ContentLocator)
	assert.Equal(t, "/tmp/perms.db", got.PermissionLocator)
	assert.True(t, got.CheckPermissions)
	assert.True(t, got.SkipIfSameVersion)
	assert.Equal(t, "zstd", got.CompressionAlgorithm)
	assert.Equal(t, 24, got.CompanionSDKVersion)
	assert.Equal(t, 25, got.CompanionDeviceVersion)
}

func TestInstallRejectsBadBody(t *testing.T) {
	inst := &fakeInstaller{}
	srv := newTestServer(t, inst, nil, nil)

	for _, body := range []string{`not json`, `{"package":"a","unknown":1}`} {
		resp := do(t, srv, http.MethodPost, "/install", body, testKey)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Empty(t, inst.installs)
}

func TestAdmissionErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		inst *fakeInstaller
		want int
	}{
		{"invalid", &fakeInstaller{err: fmt.Errorf("%w: package name is empty", install.ErrInvalidRequest)}, http.StatusBadRequest},
		{"stopped", &fakeInstaller{err: install.ErrStopped}, http.StatusServiceUnavailable},
		{"queue full", &fakeInstaller{block: true}, http.StatusServiceUnavailable},
		{"other", &fakeInstaller{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := newTestServer(t, c.inst, nil, nil)
			resp := do(t, srv, http.MethodPost, "/install", `{"package":"com.example.watch","content":"/x"}`, testKey)
			assert.Equal(t, c.want, resp.StatusCode)

			var out ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestUninstallAccepted(t *testing.T) {
	inst := &fakeInstaller{}
	srv := newTestServer(t, inst, nil, nil)

	resp := do(t, srv, http.MethodPost, "/uninstall", `{"package":"com.example.watch"}`, testKey)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, inst.uninstalls, 1)
	assert.Equal(t, "com.example.watch", inst.uninstalls[0].PackageName)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	m := metrics.New()
	srv := newTestServer(t, &fakeInstaller{}, nil, m)

	do(t, srv, http.MethodGet, "/healthz", "", "")

	resp := do(t, srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `wearpkg_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestMetricsRouteAbsentWithoutMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeInstaller{}, nil, nil)
	resp := do(t, srv, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// readEvent reads one SSE frame and returns its id, type and data lines.
func readEvent(t *testing.T, r *bufio.Reader) (id, typ, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if id != "" {
				return id, typ, data
			}
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsReplayAndStream(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TypeInstallCompleted, events.Completion{PackageName: "com.example.old", ReturnCode: 1, Succeeded: true})
	hub.Publish(events.TypeUninstallCompleted, events.Completion{PackageName: "com.example.gone", ReturnCode: 1, Succeeded: true})
	srv := newTestServer(t, &fakeInstaller{}, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	id, typ, data := readEvent(t, r)
	assert.Equal(t, "2", id)
	assert.Equal(t, events.TypeUninstallCompleted, typ)
	assert.Contains(t, data, `"package":"com.example.gone"`)

	hub.Publish(events.TypeGrantUninstallRequested, events.PackageRef{PackageName: "com.example.live"})
	id, typ, data = readEvent(t, r)
	assert.Equal(t, "3", id)
	assert.Equal(t, events.TypeGrantUninstallRequested, typ)
	assert.JSONEq(t, `{"package":"com.example.live"}`, data)
}

func TestEventsRequiresAuth(t *testing.T) {
	srv := newTestServer(t, &fakeInstaller{}, nil, nil)
	resp := do(t, srv, http.MethodGet, "/events", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestShutdownEndsOpenEventStreams(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TypeInstallCompleted, events.Completion{PackageName: "com.example.watch", ReturnCode: 1, Succeeded: true})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(Config{APIKey: testKey}, &fakeInstaller{}, hub, fixedGuard(0), nil, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- s.serve(ctx, ln) }()

	req, err := http.NewRequest(http.MethodGet, "http://"+ln.Addr().String()+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r := bufio.NewReader(resp.Body)
	id, _, _ := readEvent(t, r)
	require.Equal(t, "1", id)

	cancel()
	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotContains(t, err.Error(), "shutdown failed")
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown waited on the open event stream")
	}

	_, err = io.ReadAll(r)
	assert.NoError(t, err, "stream should end cleanly")
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
