package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/adapter"
	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/manager"
	"github.com/baylabs/bay/pkg/store"
	"github.com/baylabs/bay/pkg/types"
)

// Execution timeout bounds.
const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 300 * time.Second
)

// Router maps capability invocations onto the right runtime container:
// verify the profile declares the capability, converge the session, pick
// the serving container, run the operation through its adapter, record
// history, and touch activity.
type Router struct {
	sandboxes *manager.SandboxManager
	sessions  *manager.SessionManager
	pool      *adapter.Pool
	store     *store.Store
	logger    zerolog.Logger
	now       func() time.Time
}

// New wires the capability router.
func New(sandboxes *manager.SandboxManager, sessions *manager.SessionManager, pool *adapter.Pool, st *store.Store) *Router {
	return &Router{
		sandboxes: sandboxes,
		sessions:  sessions,
		pool:      pool,
		store:     st,
		logger:    log.WithComponent("router"),
		now:       time.Now,
	}
}

// ClampTimeout normalizes a caller-supplied timeout in seconds into the
// allowed range.
func ClampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// ValidatePath rejects absolute paths and any path carrying a `..`
// segment, even one that would resolve inside the workspace; everything is
// relative to the workspace mount. Runtimes validate again on their side.
func ValidatePath(p string) error {
	if p == "" {
		return bayerr.New(bayerr.CodeInvalidPath, "path must not be empty")
	}
	if strings.HasPrefix(p, "/") {
		return bayerr.Newf(bayerr.CodeInvalidPath, "path must be relative to the workspace: %s", p)
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return bayerr.Newf(bayerr.CodeInvalidPath, "path must not contain '..' segments: %s", p)
		}
	}
	return nil
}

// route converges the sandbox and returns the container serving the
// capability, healing a single down container on the way when possible.
func (r *Router) route(ctx context.Context, owner, sandboxID string, capability types.Capability) (*types.Session, *types.SessionContainer, error) {
	sandbox, err := r.sandboxes.Lookup(ctx, owner, sandboxID)
	if err != nil {
		return nil, nil, err
	}
	profile := r.sandboxes.Profile(sandbox.ProfileID)
	if profile == nil || !profile.HasCapability(capability) {
		return nil, nil, bayerr.Newf(bayerr.CodeCapabilityNotSupported,
			"profile %s does not provide capability %s", sandbox.ProfileID, capability)
	}

	_, session, err := r.sandboxes.EnsureRunning(ctx, owner, sandboxID)
	if err != nil {
		return nil, nil, err
	}

	name := profile.ContainerFor(capability)
	container := findContainer(session, name)
	if container == nil {
		container = session.ContainerFor(capability)
	}
	if container == nil {
		return nil, nil, bayerr.Newf(bayerr.CodeCapabilityNotSupported,
			"no container serves capability %s", capability)
	}

	if container.ObservedState != types.SessionRunning {
		session, err = r.sandboxes.RecoverContainer(ctx, owner, sandboxID, container.Name)
		if err != nil {
			return nil, nil, err
		}
		container = findContainer(session, name)
		if container == nil || container.ObservedState != types.SessionRunning {
			return nil, nil, bayerr.SessionNotReady(sandboxID, 2000)
		}
	}
	return session, container, nil
}

func findContainer(session *types.Session, name string) *types.SessionContainer {
	for _, c := range session.Containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (r *Router) ship(ctx context.Context, owner, sandboxID string, capability types.Capability) (*types.Session, *adapter.ShipAdapter, error) {
	session, container, err := r.route(ctx, owner, sandboxID, capability)
	if err != nil {
		return nil, nil, err
	}
	a := r.pool.Get(container.ContainerID, container.Endpoint, container.RuntimeKind)
	ship, ok := a.(*adapter.ShipAdapter)
	if !ok {
		return nil, nil, bayerr.Newf(bayerr.CodeInternal,
			"container %s does not speak the ship protocol", container.Name)
	}
	return session, ship, nil
}

func (r *Router) helm(ctx context.Context, owner, sandboxID string) (*types.Session, *adapter.HelmAdapter, error) {
	session, container, err := r.route(ctx, owner, sandboxID, types.CapabilityBrowser)
	if err != nil {
		return nil, nil, err
	}
	a := r.pool.Get(container.ContainerID, container.Endpoint, container.RuntimeKind)
	helm, ok := a.(*adapter.HelmAdapter)
	if !ok {
		return nil, nil, bayerr.Newf(bayerr.CodeInternal,
			"container %s does not speak the helm protocol", container.Name)
	}
	return session, helm, nil
}

// translate normalizes adapter transport failures into the public taxonomy.
func translate(sandboxID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, adapter.ErrConnection) {
		return bayerr.SessionNotReady(sandboxID, 2000)
	}
	return err
}

// record persists an execution row and touches activity. Recording is
// best-effort: a history failure never fails the call that produced it.
func (r *Router) record(ctx context.Context, owner string, session *types.Session, execType types.ExecType, input string, result *adapter.ExecResult, started time.Time) *types.ExecutionRecord {
	rec := &types.ExecutionRecord{
		ID:         types.NewExecutionID(),
		SandboxID:  session.SandboxID,
		Owner:      owner,
		Type:       execType,
		Input:      input,
		StartedAt:  started.UTC(),
		DurationMS: r.now().Sub(started).Milliseconds(),
	}
	if result != nil {
		rec.Success = result.Success
		rec.Output = result.Output
		rec.ExitCode = result.ExitCode
		if result.Error != "" {
			rec.Stderr = result.Error
		}
		if result.Data != nil {
			if stdout, ok := result.Data["stdout"].(string); ok {
				rec.Stdout = stdout
			}
			if stderr, ok := result.Data["stderr"].(string); ok && rec.Stderr == "" {
				rec.Stderr = stderr
			}
		}
	}

	if err := r.store.Executions.Create(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("sandbox_id", session.SandboxID).Msg("Failed to record execution")
	}
	r.sessions.Touch(ctx, session.SandboxID, session.ID)
	return rec
}

// ExecPython runs code in the sandbox's persistent interpreter.
func (r *Router) ExecPython(ctx context.Context, owner, sandboxID, code string, timeout time.Duration) (*types.ExecutionRecord, *adapter.ExecResult, error) {
	session, ship, err := r.ship(ctx, owner, sandboxID, types.CapabilityPython)
	if err != nil {
		return nil, nil, err
	}

	started := r.now()
	result, err := ship.ExecPython(ctx, code, timeout)
	if err != nil {
		return nil, nil, translate(sandboxID, err)
	}
	rec := r.record(ctx, owner, session, types.ExecPython, code, result, started)
	return rec, result, nil
}

// ExecShell runs a shell command in the sandbox workspace.
func (r *Router) ExecShell(ctx context.Context, owner, sandboxID, command, cwd string, timeout time.Duration) (*types.ExecutionRecord, *adapter.ExecResult, error) {
	if cwd != "" {
		if err := ValidatePath(cwd); err != nil {
			return nil, nil, err
		}
	}
	session, ship, err := r.ship(ctx, owner, sandboxID, types.CapabilityShell)
	if err != nil {
		return nil, nil, err
	}

	started := r.now()
	result, err := ship.ExecShell(ctx, command, cwd, timeout)
	if err != nil {
		return nil, nil, translate(sandboxID, err)
	}
	rec := r.record(ctx, owner, session, types.ExecShell, command, result, started)
	return rec, result, nil
}

// ReadFile reads a workspace file.
func (r *Router) ReadFile(ctx context.Context, owner, sandboxID, filePath string) (string, error) {
	if err := ValidatePath(filePath); err != nil {
		return "", err
	}
	session, ship, err := r.ship(ctx, owner, sandboxID, types.CapabilityFilesystem)
	if err != nil {
		return "", err
	}
	content, err := ship.ReadFile(ctx, filePath)
	if err != nil {
		return "", translate(sandboxID, err)
	}
	r.sessions.Touch(ctx, session.SandboxID, session.ID)
	return content, nil
}

// WriteFile writes a workspace file.
func (r *Router) WriteFile(ctx context.Context, owner, sandboxID, filePath, content string) error {
	if err := ValidatePath(filePath); err != nil {
		return err
	}
	session, ship, err := r.ship(ctx, owner, sandboxID, types.CapabilityFilesystem)
	if err != nil {
		return err
	}
	if err := ship.WriteFile(ctx, filePath, content); err != nil {
		return translate(sandboxID, err)
	}
	r.sessions.Touch(ctx, session.SandboxID, session.ID)
	return nil
}

// ListFiles lists a workspace directory. An empty path lists the root.
func (r *Router) ListFiles(ctx context.Context, owner, sandboxID, dirPath string) ([]adapter.FileEntry, error) {
	if dirPath == "" {
		dirPath = "."
	}
	if err := ValidatePath(dirPath); err != nil {
		return nil, err
	}
	session, ship, err := r.ship(ctx, owner, sandboxID, types.CapabilityFilesystem)
	if err != nil {
		return nil, err
	}
	entries, err := ship.ListFiles(ctx, dirPath)
	if err != nil {
		return nil, translate(sandboxID, err)
	}
	r.sessions.Touch(ctx, session.SandboxID, session.ID)
	return entries, nil
}

// DeleteFile removes a workspace file or directory.
func (r *Router) DeleteFile(ctx context.Context, owner, sandboxID, filePath string) error {
	if err := ValidatePath(filePath); err != nil {
		return err
	}
	session, ship, err := r.ship(ctx, owner, sandboxID, types.CapabilityFilesystem)
	if err != nil {
		return err
	}
	if err := ship.DeleteFile(ctx, filePath); err != nil {
		return translate(sandboxID, err)
	}
	r.sessions.Touch(ctx, session.SandboxID, session.ID)
	return nil
}

// Upload writes binary content to the workspace.
func (r *Router) Upload(ctx context.Context, owner, sandboxID, filePath string, content []byte) error {
	if err := ValidatePath(filePath); err != nil {
		return err
	}
	session, ship, err := r.ship(ctx, owner, sandboxID, types.CapabilityFilesystem)
	if err != nil {
		return err
	}
	if err := ship.Upload(ctx, filePath, content); err != nil {
		return translate(sandboxID, err)
	}
	r.sessions.Touch(ctx, session.SandboxID, session.ID)
	return nil
}

// Download reads binary content from the workspace.
func (r *Router) Download(ctx context.Context, owner, sandboxID, filePath string) ([]byte, error) {
	if err := ValidatePath(filePath); err != nil {
		return nil, err
	}
	session, ship, err := r.ship(ctx, owner, sandboxID, types.CapabilityFilesystem)
	if err != nil {
		return nil, err
	}
	content, err := ship.Download(ctx, filePath)
	if err != nil {
		return nil, translate(sandboxID, err)
	}
	r.sessions.Touch(ctx, session.SandboxID, session.ID)
	return content, nil
}

// ExecBrowser runs one browser command. The command line is passed through
// verbatim; the runtime injects its own session and profile flags.
func (r *Router) ExecBrowser(ctx context.Context, owner, sandboxID, command string, timeout time.Duration) (*types.ExecutionRecord, *adapter.ExecResult, error) {
	session, helm, err := r.helm(ctx, owner, sandboxID)
	if err != nil {
		return nil, nil, err
	}

	started := r.now()
	result, err := helm.ExecBrowser(ctx, command, timeout)
	if err != nil {
		return nil, nil, translate(sandboxID, err)
	}
	rec := r.record(ctx, owner, session, types.ExecBrowser, command, result, started)
	return rec, result, nil
}

// ExecBrowserBatch runs an ordered command list as one execution. The whole
// batch persists as a single history row.
func (r *Router) ExecBrowserBatch(ctx context.Context, owner, sandboxID string, commands []string, timeout time.Duration, stopOnError bool) (*types.ExecutionRecord, *adapter.BatchResult, error) {
	if len(commands) == 0 {
		return nil, nil, bayerr.New(bayerr.CodeValidation, "commands must not be empty")
	}
	session, helm, err := r.helm(ctx, owner, sandboxID)
	if err != nil {
		return nil, nil, err
	}

	started := r.now()
	result, err := helm.ExecBrowserBatch(ctx, commands, timeout, stopOnError)
	if err != nil {
		return nil, nil, translate(sandboxID, err)
	}

	steps := make([]string, 0, len(result.Steps))
	for _, step := range result.Steps {
		steps = append(steps, step.Output)
	}
	rec := r.record(ctx, owner, session, types.ExecBrowserBatch, strings.Join(commands, "\n"),
		&adapter.ExecResult{Success: result.Success, Output: strings.Join(steps, "\n")}, started)
	return rec, result, nil
}
