package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/pkg/adapter"
	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/driver"
	"github.com/baylabs/bay/pkg/store"
)

// fakeDriver is an in-memory backend for manager tests. StartContainer hands
// out the harness's runtime endpoint so readiness probes hit the test server.
type fakeDriver struct {
	mu       sync.Mutex
	endpoint string

	nextID      int
	states      map[string]driver.ContainerState
	volumes     map[string]bool
	networks    map[string]bool
	logs        map[string]string
	created     int
	destroyed   int
	failStart   bool
	failStartAt int
	startCalls  int
}

func newFakeDriver(endpoint string) *fakeDriver {
	return &fakeDriver{
		endpoint: endpoint,
		states:   make(map[string]driver.ContainerState),
		volumes:  make(map[string]bool),
		networks: make(map[string]bool),
		logs:     make(map[string]string),
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
	d.created++
	id := fmt.Sprintf("ctr-%d", d.nextID)
	d.states[id] = driver.StateExited
	return id, nil
}

func (d *fakeDriver) StartContainer(ctx context.Context, containerID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startCalls++
	if d.failStart || (d.failStartAt > 0 && d.startCalls == d.failStartAt) {
		return "", driver.NewError("start", false, errors.New("image pull failed"))
	}
	if _, ok := d.states[containerID]; !ok {
		return "", driver.NewError("start", false, errors.New("no such container"))
	}
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
	if _, ok := d.states[containerID]; ok {
		delete(d.states, containerID)
		d.destroyed++
	}
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
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]driver.LabeledContainer, 0, len(d.states))
	for id, state := range d.states {
		out = append(out, driver.LabeledContainer{ID: id, State: state})
	}
	return out, nil
}

func (d *fakeDriver) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logs[containerID], nil
}

func (d *fakeDriver) setLogs(containerID, output string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logs[containerID] = output
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) setState(containerID string, state driver.ContainerState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state == driver.StateNotFound {
		delete(d.states, containerID)
		return
	}
	d.states[containerID] = state
}

func (d *fakeDriver) createdCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

// harness wires the managers over an in-memory store, the fake driver, and a
// stub ship runtime answering meta probes.
type harness struct {
	store     *store.Store
	driver    *fakeDriver
	sandboxes *SandboxManager
	sessions  *SessionManager
	cargos    *CargoManager
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"runtime":   map[string]string{"name": "ship", "api_version": "v1"},
			"workspace": map[string]string{"mount_path": "/workspace"},
			"capabilities": map[string]any{
				"python": map[string]any{}, "shell": map[string]any{}, "filesystem": map[string]any{},
			},
		})
	}))
}

func newHarnessWithRuntime(t *testing.T, handler http.Handler) *harness {
	t.Helper()

	runtime := httptest.NewServer(handler)
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

	cargos := NewCargoManager(st, drv, "bay-test")
	sessions := NewSessionManager(st, drv, pool, profiles, readiness, "bay-test")
	sandboxes := NewSandboxManager(st, sessions, cargos, profiles)

	return &harness{store: st, driver: drv, sandboxes: sandboxes, sessions: sessions, cargos: cargos}
}

func int64Ptr(v int64) *int64 { return &v }
