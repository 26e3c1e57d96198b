package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/pkg/adapter"
	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/driver"
	"github.com/baylabs/bay/pkg/gc"
	"github.com/baylabs/bay/pkg/history"
	"github.com/baylabs/bay/pkg/idempotency"
	"github.com/baylabs/bay/pkg/manager"
	"github.com/baylabs/bay/pkg/router"
	"github.com/baylabs/bay/pkg/store"
)

// fakeDriver backs the server tests with in-memory containers. Started
// containers report the stub runtime's URL as their endpoint.
type fakeDriver struct {
	mu       sync.Mutex
	endpoint string
	nextID   int
	states   map[string]driver.ContainerState
	volumes  map[string]bool
	networks map[string]bool
}

func newFakeDriver(endpoint string) *fakeDriver {
	return &fakeDriver{
		endpoint: endpoint,
		states:   make(map[string]driver.ContainerState),
		volumes:  make(map[string]bool),
		networks: make(map[string]bool),
	}
}

func (d *fakeDriver) CreateVolume(ctx context.Context, spec driver.VolumeSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	handle := "vol-" + spec.Name
	d.volumes[handle] = true
	return handle, nil
}

func (d *fakeDriver) DestroyVolume(ctx context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.volumes, handle)
	return nil
}

func (d *fakeDriver) CreateNetwork(ctx context.Context, sessionID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := "net-" + sessionID
	d.networks[id] = true
	return id, nil
}

func (d *fakeDriver) DestroyNetwork(ctx context.Context, networkID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.networks, networkID)
	return nil
}

func (d *fakeDriver) CreateContainer(ctx context.Context, cfg *driver.ContainerConfig) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("ctr-%d", d.nextID)
	d.states[id] = driver.StateExited
	return id, nil
}

func (d *fakeDriver) StartContainer(ctx context.Context, containerID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[containerID] = driver.StateRunning
	return d.endpoint, nil
}

func (d *fakeDriver) StopContainer(ctx context.Context, containerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[containerID]; ok {
		d.states[containerID] = driver.StateExited
	}
	return nil
}

func (d *fakeDriver) DestroyContainer(ctx context.Context, containerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, containerID)
	return nil
}

func (d *fakeDriver) Status(ctx context.Context, containerID string) (driver.ContainerState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.states[containerID]
	if !ok {
		return driver.StateNotFound, nil
	}
	return state, nil
}

func (d *fakeDriver) CreateMulti(ctx context.Context, cfgs []*driver.ContainerConfig, networkID string) ([]string, error) {
	ids := make([]string, len(cfgs))
	for i, cfg := range cfgs {
		id, err := d.CreateContainer(ctx, cfg)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (d *fakeDriver) ListLabeled(ctx context.Context, selector map[string]string) ([]driver.LabeledContainer, error) {
	return nil, nil
}

func (d *fakeDriver) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[containerID]; !ok {
		return "", nil
	}
	return "runtime listening on :8000\n", nil
}

func (d *fakeDriver) Close() error { return nil }

// newShipRuntime serves the runtime wire protocol with an in-memory
// workspace, enough for the capability routes to run end to end.
func newShipRuntime() http.Handler {
	var mu sync.Mutex
	files := make(map[string]string)

	mux := http.NewServeMux()
	mux.HandleFunc("/meta", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"runtime":   map[string]string{"name": "ship", "api_version": "v1"},
			"workspace": map[string]string{"mount_path": "/workspace"},
			"capabilities": map[string]any{
				"python": map[string]any{}, "shell": map[string]any{}, "filesystem": map[string]any{},
			},
		})
	})
	mux.HandleFunc("/ipython/exec", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "output": "4"})
	})
	mux.HandleFunc("/shell/exec", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"output": "hello\n", "exit_code": 0, "stdout": "hello\n"})
	})
	mux.HandleFunc("/fs/write_file", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		files[req.Path] = req.Content
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"written": true})
	})
	mux.HandleFunc("/fs/read_file", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		content, ok := files[req.Path]
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "no such file"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"content": content})
	})
	mux.HandleFunc("/fs/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		_, ok := files[req.Path]
		delete(files, req.Path)
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "no such file"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"deleted": true})
	})
	mux.HandleFunc("/fs/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"entries": []any{}})
	})
	mux.HandleFunc("/browser/exec_batch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Commands []string `json:"commands"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		steps := make([]map[string]any, len(req.Commands))
		for i, cmd := range req.Commands {
			steps[i] = map[string]any{"command": cmd, "success": true, "output": "ok"}
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "steps": steps})
	})
	return mux
}

type testServer struct {
	handler http.Handler
	store   *store.Store
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	runtime := httptest.NewServer(newShipRuntime())
	t.Cleanup(runtime.Close)

	st, err := store.NewTest()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	profiles, err := config.LoadProfiles("")
	require.NoError(t, err)

	drv := newFakeDriver(runtime.URL)
	pool := adapter.NewPool(0, 0)
	readiness := config.ReadinessConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Deadline:       2 * time.Second,
	}

	cargos := manager.NewCargoManager(st, drv, "bay-test")
	sessions := manager.NewSessionManager(st, drv, pool, profiles, readiness, "bay-test")
	sandboxes := manager.NewSandboxManager(st, sessions, cargos, profiles)
	idem := idempotency.New(st, time.Hour)
	collector := gc.New(st, drv, sandboxes, idem, config.GCConfig{LeaseTTL: time.Minute}, "bay-test")

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8300},
		Auth:   config.AuthConfig{AllowAnonymous: true},
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv := NewServer(Deps{
		Config:    cfg,
		Sandboxes: sandboxes,
		Cargos:    cargos,
		Router:    router.New(sandboxes, sessions, pool, st),
		History:   history.New(st),
		Idem:      idem,
		Collector: collector,
		Profiles:  profiles,
	})
	return &testServer{handler: srv.Handler(), store: st}
}

// do performs a request as owner alice unless the headers override it.
func (ts *testServer) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerOwner, "alice")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorResponse](t, w).Error.Code
}

func createSandbox(t *testing.T, ts *testServer, body any) sandboxResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/sandboxes", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[sandboxResponse](t, w)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthModes(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth = config.AuthConfig{Tokens: map[string]string{"tok-alice": "alice"}}
	})

	// Without credentials the owner header is not honored.
	w := ts.do(t, http.MethodGet, "/v1/sandboxes", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(bayerr.CodeUnauthorized), errorCode(t, w))

	w = ts.do(t, http.MethodGet, "/v1/sandboxes", nil, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/sandboxes", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/sandboxes", nil, map[string]string{"Authorization": "Bearer tok-alice"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAnonymousOwnerScoping(t *testing.T) {
	ts := newTestServer(t, nil)
	createSandbox(t, ts, nil)

	listed := decode[sandboxListResponse](t, ts.do(t, http.MethodGet, "/v1/sandboxes", nil, nil))
	assert.Len(t, listed.Sandboxes, 1)

	listed = decode[sandboxListResponse](t, ts.do(t, http.MethodGet, "/v1/sandboxes", nil,
		map[string]string{headerOwner: "bob"}))
	assert.Empty(t, listed.Sandboxes)

	// No header falls back to the shared anonymous owner.
	req := httptest.NewRequest(http.MethodGet, "/v1/sandboxes", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[sandboxListResponse](t, w).Sandboxes)
}

func TestSandboxLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	created := createSandbox(t, ts, nil)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "python-default", created.ProfileID)
	assert.Equal(t, "idle", created.Status)
	assert.NotEmpty(t, created.CargoID)

	got := decode[sandboxResponse](t, ts.do(t, http.MethodGet, "/v1/sandboxes/"+created.ID, nil, nil))
	assert.Equal(t, created.ID, got.ID)

	w := ts.do(t, http.MethodPost, "/v1/sandboxes/"+created.ID+"/keepalive", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/sandboxes/"+created.ID+"/stop", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/v1/sandboxes/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/sandboxes/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(bayerr.CodeNotFound), errorCode(t, w))
}

func TestCreateSandboxUnknownProfile(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodPost, "/v1/sandboxes", createSandboxRequest{ProfileID: "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(bayerr.CodeValidation), errorCode(t, w))
}

func TestCreateSandboxIdempotency(t *testing.T) {
	ts := newTestServer(t, nil)
	key := map[string]string{headerIdempotency: "create-1"}

	first := ts.do(t, http.MethodPost, "/v1/sandboxes", `{}`, key)
	require.Equal(t, http.StatusCreated, first.Code)

	replay := ts.do(t, http.MethodPost, "/v1/sandboxes", `{}`, key)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, first.Body.String(), replay.Body.String())

	listed := decode[sandboxListResponse](t, ts.do(t, http.MethodGet, "/v1/sandboxes", nil, nil))
	assert.Len(t, listed.Sandboxes, 1)

	// The same key with a different body is a conflict, not a replay.
	w := ts.do(t, http.MethodPost, "/v1/sandboxes", `{"ttl_seconds": 60}`, key)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(bayerr.CodeConflict), errorCode(t, w))
}

func TestExtendTTL(t *testing.T) {
	ts := newTestServer(t, nil)

	ttl := int64(3600)
	bounded := createSandbox(t, ts, createSandboxRequest{TTLSeconds: &ttl})
	require.NotNil(t, bounded.ExpiresAt)

	w := ts.do(t, http.MethodPost, "/v1/sandboxes/"+bounded.ID+"/extend_ttl",
		extendTTLRequest{TTLSeconds: 1800}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/sandboxes/"+bounded.ID+"/extend_ttl", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(bayerr.CodeValidation), errorCode(t, w))

	// A sandbox without an expiry has nothing to extend.
	infinite := createSandbox(t, ts, nil)
	require.Nil(t, infinite.ExpiresAt)
	w = ts.do(t, http.MethodPost, "/v1/sandboxes/"+infinite.ID+"/extend_ttl",
		extendTTLRequest{TTLSeconds: 600}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(bayerr.CodeSandboxTTLInfinite), errorCode(t, w))
}

func TestExecPythonFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	sandbox := createSandbox(t, ts, nil)

	w := ts.do(t, http.MethodPost, "/v1/sandboxes/"+sandbox.ID+"/python/exec",
		execPythonRequest{Code: "2+2"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[execResponse](t, w)
	assert.True(t, result.Success)
	assert.Equal(t, "4", result.Output)
	assert.NotEmpty(t, result.ExecutionID)

	// The run lands in history.
	listed := decode[struct {
		Executions []executionResponse `json:"executions"`
	}](t, ts.do(t, http.MethodGet, "/v1/history/executions?sandbox_id="+sandbox.ID, nil, nil))
	require.Len(t, listed.Executions, 1)
	assert.Equal(t, result.ExecutionID, listed.Executions[0].ID)

	last := decode[executionResponse](t, ts.do(t, http.MethodGet,
		"/v1/history/sandboxes/"+sandbox.ID+"/last", nil, nil))
	assert.Equal(t, result.ExecutionID, last.ID)

	w = ts.do(t, http.MethodPost, "/v1/sandboxes/"+sandbox.ID+"/python/exec", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(bayerr.CodeValidation), errorCode(t, w))
}

func TestCapabilityNotSupported(t *testing.T) {
	ts := newTestServer(t, nil)
	sandbox := createSandbox(t, ts, nil)

	w := ts.do(t, http.MethodPost, "/v1/sandboxes/"+sandbox.ID+"/browser/exec",
		browserExecRequest{Command: "open example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(bayerr.CodeCapabilityNotSupported), errorCode(t, w))
}

func TestFilesystemRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	sandbox := createSandbox(t, ts, nil)
	base := "/v1/sandboxes/" + sandbox.ID + "/filesystem/files"

	w := ts.do(t, http.MethodPut, base, writeFileRequest{Path: "notes.txt", Content: "hello"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[fileContentResponse](t, ts.do(t, http.MethodGet, base+"?path=notes.txt", nil, nil))
	assert.Equal(t, "hello", got.Content)

	w = ts.do(t, http.MethodGet, base+"?path=/etc/passwd", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(bayerr.CodeInvalidPath), errorCode(t, w))

	w = ts.do(t, http.MethodDelete, base+"?path=notes.txt", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, base+"?path=notes.txt", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(bayerr.CodeFileNotFound), errorCode(t, w))
}

func TestSandboxContainerLogs(t *testing.T) {
	ts := newTestServer(t, nil)
	sandbox := createSandbox(t, ts, nil)

	// No session exists before the first capability call.
	w := ts.do(t, http.MethodGet, "/v1/sandboxes/"+sandbox.ID+"/logs", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/sandboxes/"+sandbox.ID+"/python/exec",
		execPythonRequest{Code: "2+2"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/v1/sandboxes/"+sandbox.ID+"/logs", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		SandboxID string `json:"sandbox_id"`
		Logs      string `json:"logs"`
	}](t, w)
	assert.Equal(t, sandbox.ID, resp.SandboxID)
	assert.Contains(t, resp.Logs, "listening")

	// Unknown container names are a 404, not an empty tail.
	w = ts.do(t, http.MethodGet, "/v1/sandboxes/"+sandbox.ID+"/logs?container=ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(bayerr.CodeNotFound), errorCode(t, w))
}

func TestCargoEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/cargos", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	cargo := decode[cargoResponse](t, w)
	assert.Equal(t, "external", cargo.Kind)
	assert.Equal(t, "/workspace", cargo.MountPath)

	// Foreign owners cannot see it.
	w = ts.do(t, http.MethodGet, "/v1/cargos/"+cargo.ID, nil, map[string]string{headerOwner: "bob"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	sandbox := createSandbox(t, ts, createSandboxRequest{CargoID: cargo.ID})
	assert.Equal(t, cargo.ID, sandbox.CargoID)

	// Attached cargos refuse deletion until the sandbox goes away.
	w = ts.do(t, http.MethodDelete, "/v1/cargos/"+cargo.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(bayerr.CodeConflict), errorCode(t, w))

	w = ts.do(t, http.MethodDelete, "/v1/sandboxes/"+sandbox.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodDelete, "/v1/cargos/"+cargo.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSkillsFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	sandbox := createSandbox(t, ts, nil)

	w := ts.do(t, http.MethodPost, "/v1/sandboxes/"+sandbox.ID+"/python/exec",
		execPythonRequest{Code: "2+2"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	execID := decode[execResponse](t, w).ExecutionID

	w = ts.do(t, http.MethodPost, "/v1/skills/candidates",
		createCandidateRequest{SkillKey: "csv-import", ExecutionIDs: []string{execID}}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	candidate := decode[candidateResponse](t, w)
	assert.Equal(t, "draft", candidate.State)

	w = ts.do(t, http.MethodPost, "/v1/skills/candidates/"+candidate.ID+"/evaluate",
		evaluateCandidateRequest{Score: 0.9, Passed: true}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "evaluated", decode[candidateResponse](t, w).State)

	w = ts.do(t, http.MethodPost, "/v1/skills/candidates/"+candidate.ID+"/promote",
		promoteCandidateRequest{Stage: "stable"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	release := decode[releaseResponse](t, w)
	assert.Equal(t, 1, release.Version)
	assert.True(t, release.Active)

	releases := decode[struct {
		Releases []releaseResponse `json:"releases"`
	}](t, ts.do(t, http.MethodGet, "/v1/skills/releases?skill_key=csv-import", nil, nil))
	require.Len(t, releases.Releases, 1)

	// Rolling back the only version leaves the stage empty.
	w = ts.do(t, http.MethodPost, "/v1/skills/releases/rollback",
		rollbackRequest{SkillKey: "csv-import", Stage: "stable"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	restored := decode[struct {
		Restored *releaseResponse `json:"restored"`
	}](t, w)
	assert.Nil(t, restored.Restored)

	w = ts.do(t, http.MethodPost, "/v1/skills/candidates/"+candidate.ID+"/promote",
		promoteCandidateRequest{Stage: "canary"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBrowserBatchIdempotencyScopedToSandbox(t *testing.T) {
	ts := newTestServer(t, nil)
	first := createSandbox(t, ts, createSandboxRequest{ProfileID: "browser-default"})
	second := createSandbox(t, ts, createSandboxRequest{ProfileID: "browser-default"})

	body := browserBatchRequest{Commands: []string{"open example.com"}}
	key := map[string]string{headerIdempotency: "batch-1"}

	w := ts.do(t, http.MethodPost, "/v1/sandboxes/"+first.ID+"/browser/exec_batch", body, key)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ran := decode[browserBatchResponse](t, w)
	require.NotEmpty(t, ran.ExecutionID)
	assert.True(t, ran.Success)
	require.Len(t, ran.Steps, 1)

	// The same key against the same sandbox replays the stored response.
	w = ts.do(t, http.MethodPost, "/v1/sandboxes/"+first.ID+"/browser/exec_batch", body, key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ran.ExecutionID, decode[browserBatchResponse](t, w).ExecutionID)

	// Against a different sandbox the same key and body must run there, not
	// replay the first sandbox's result.
	w = ts.do(t, http.MethodPost, "/v1/sandboxes/"+second.ID+"/browser/exec_batch", body, key)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEqual(t, ran.ExecutionID, decode[browserBatchResponse](t, w).ExecutionID)
}

func TestRateLimitPerOwner(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	})

	w := ts.do(t, http.MethodGet, "/v1/sandboxes", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/sandboxes", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(bayerr.CodeQuotaExceeded), errorCode(t, w))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, 1000, decode[errorResponse](t, w).Error.RetryAfterMS)

	// Budgets are per owner.
	w = ts.do(t, http.MethodGet, "/v1/sandboxes", nil, map[string]string{headerOwner: "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDEcho(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/healthz", nil, map[string]string{headerRequestID: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(headerRequestID))

	w = ts.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestListProfiles(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := decode[struct {
		Profiles []profileResponse `json:"profiles"`
	}](t, ts.do(t, http.MethodGet, "/v1/profiles", nil, nil))
	require.NotEmpty(t, resp.Profiles)

	var found *profileResponse
	for i := range resp.Profiles {
		if resp.Profiles[i].ID == "python-default" {
			found = &resp.Profiles[i]
		}
	}
	require.NotNil(t, found)
	assert.Contains(t, found.Capabilities, "python")
	assert.Contains(t, found.Containers, "ship")
}

func TestTriggerGC(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/admin/gc/"+gc.TaskExpiredSandboxes, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Task      string `json:"task"`
		Reclaimed int    `json:"reclaimed"`
	}](t, w)
	assert.Equal(t, gc.TaskExpiredSandboxes, resp.Task)
	assert.Zero(t, resp.Reclaimed)

	w = ts.do(t, http.MethodPost, "/v1/admin/gc/defrag", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(bayerr.CodeValidation), errorCode(t, w))
}
