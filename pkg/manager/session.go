package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/adapter"
	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/driver"
	"github.com/baylabs/bay/pkg/events"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/metrics"
	"github.com/baylabs/bay/pkg/store"
	"github.com/baylabs/bay/pkg/types"
)

// retryAfterStartingMS is the retry hint returned while a session is still
// converging.
const retryAfterStartingMS = 2000

// SessionManager converges sandbox compute to the running state and tears
// it down again. All mutating entry points run under the owning sandbox's
// lock, held by the caller.
type SessionManager struct {
	store     *store.Store
	driver    driver.Driver
	pool      *adapter.Pool
	profiles  *config.ProfileRegistry
	readiness config.ReadinessConfig
	instance  string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSessionManager wires the session manager.
func NewSessionManager(st *store.Store, drv driver.Driver, pool *adapter.Pool, profiles *config.ProfileRegistry, readiness config.ReadinessConfig, instance string) *SessionManager {
	return &SessionManager{
		store:     st,
		driver:    drv,
		pool:      pool,
		profiles:  profiles,
		readiness: readiness,
		instance:  instance,
		logger:    log.WithComponent("session-manager"),
		now:       time.Now,
	}
}

// EnsureRunning converges the sandbox's session to running with a probed
// endpoint, from any starting state. Idempotent; callers hold the sandbox
// lock so only one converge runs at a time. At most one recovery attempt
// (kill and recreate) happens per call; a second consecutive failure
// surfaces as session_not_ready instead of looping.
func (m *SessionManager) EnsureRunning(ctx context.Context, sandbox *types.Sandbox) (*types.Session, error) {
	session, err := m.resolveSession(ctx, sandbox)
	if err != nil {
		return nil, err
	}

	// Active probe: a recorded running state is only trusted after the
	// backend confirms the primary container still exists. An externally
	// killed container is healed invisibly on the next request.
	if m.observedLive(session) {
		primary := session.Primary()
		state, serr := m.driver.Status(ctx, primary.ContainerID)
		if serr != nil || state != driver.StateRunning {
			m.logger.Warn().
				Str("session_id", session.ID).
				Str("state", string(state)).
				Msg("Primary container lost, recreating session")
			if err := m.cleanup(ctx, session); err != nil {
				return nil, err
			}
		} else if session.ObservedState == types.SessionRunning || session.ObservedState == types.SessionDegraded {
			m.refreshContainerStates(ctx, session)
		}
	}

	if session.ObservedState == types.SessionPending {
		if err := m.createContainers(ctx, sandbox, session); err != nil {
			return nil, err
		}
	}

	if session.ObservedState == types.SessionStarting {
		if err := m.awaitReady(ctx, sandbox, session); err != nil {
			return nil, err
		}
	}

	if session.ObservedState != types.SessionRunning && session.ObservedState != types.SessionDegraded {
		return nil, bayerr.SessionNotReady(sandbox.ID, retryAfterStartingMS)
	}
	return session, nil
}

// resolveSession loads the current session or synthesizes a fresh pending
// one when none is usable.
func (m *SessionManager) resolveSession(ctx context.Context, sandbox *types.Sandbox) (*types.Session, error) {
	if sandbox.CurrentSessionID != "" {
		session, err := m.store.Sessions.Get(ctx, sandbox.CurrentSessionID)
		if err == nil {
			usable := session.DesiredState != types.SessionStopped &&
				session.ObservedState != types.SessionStopped &&
				session.ObservedState != types.SessionFailed
			if usable {
				return session, nil
			}
		} else if bayerr.CodeOf(err) != bayerr.CodeNotFound {
			return nil, err
		}
	}

	profile := m.profiles.Get(sandbox.ProfileID)
	if profile == nil {
		return nil, bayerr.Newf(bayerr.CodeInternal, "sandbox %s references unknown profile %s",
			sandbox.ID, sandbox.ProfileID)
	}

	now := m.now().UTC()
	session := &types.Session{
		ID:            types.NewSessionID(),
		SandboxID:     sandbox.ID,
		ProfileID:     sandbox.ProfileID,
		DesiredState:  types.SessionRunning,
		ObservedState: types.SessionPending,
		LastActivity:  now,
		IdleTimeout:   profile.IdleTimeout,
		CreatedAt:     now,
		Version:       1,
	}
	if err := m.store.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	sandbox.CurrentSessionID = session.ID
	return session, nil
}

func (m *SessionManager) observedLive(session *types.Session) bool {
	if session.Primary() == nil || session.Primary().ContainerID == "" {
		return false
	}
	switch session.ObservedState {
	case types.SessionRunning, types.SessionDegraded, types.SessionStarting:
		return true
	}
	return false
}

// refreshContainerStates probes non-primary containers and derives the
// degraded state. The primary was already confirmed running.
func (m *SessionManager) refreshContainerStates(ctx context.Context, session *types.Session) {
	degraded := false
	for _, c := range session.Containers {
		if c.Primary {
			c.ObservedState = types.SessionRunning
			continue
		}
		state, err := m.driver.Status(ctx, c.ContainerID)
		if err == nil && state == driver.StateRunning {
			c.ObservedState = types.SessionRunning
		} else {
			c.ObservedState = types.SessionFailed
			degraded = true
		}
	}

	want := types.SessionRunning
	if degraded {
		want = types.SessionDegraded
	}
	if session.ObservedState != want {
		session.ObservedState = want
		if err := m.store.Sessions.Update(ctx, session); err != nil {
			m.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to persist degraded state")
		}
		if want == types.SessionDegraded {
			events.Publish(events.EventSessionDegraded, "", map[string]string{
				"sandbox_id": session.SandboxID, "session_id": session.ID,
			})
		}
	}
}

// createContainers provisions the session's container group and moves it
// to starting. On any failure every created resource is torn down and the
// session is marked failed.
func (m *SessionManager) createContainers(ctx context.Context, sandbox *types.Sandbox, session *types.Session) error {
	profile := m.profiles.Get(session.ProfileID)
	if profile == nil {
		return bayerr.Newf(bayerr.CodeInternal, "unknown profile %s", session.ProfileID)
	}

	cargo, err := m.store.Cargos.Get(ctx, sandbox.CargoID)
	if err != nil {
		return err
	}

	multi := len(profile.Containers) > 1
	networkID := ""
	if multi {
		networkID, err = m.driver.CreateNetwork(ctx, session.ID)
		if err != nil {
			return m.failSession(ctx, session, "network creation failed", err)
		}
	}

	cfgs := make([]*driver.ContainerConfig, len(profile.Containers))
	containers := make([]*types.SessionContainer, len(profile.Containers))
	for i, spec := range profile.Containers {
		cfgs[i] = m.containerConfig(sandbox, session, cargo, spec, networkID)
		containers[i] = &types.SessionContainer{
			Name:          spec.Name,
			Role:          spec.Role,
			Image:         spec.Image,
			RuntimeKind:   spec.RuntimeKind,
			Capabilities:  spec.Capabilities,
			Primary:       spec.Primary,
			ObservedState: types.SessionPending,
		}
	}

	var ids []string
	if multi {
		ids, err = m.driver.CreateMulti(ctx, cfgs, networkID)
	} else {
		var id string
		id, err = m.driver.CreateContainer(ctx, cfgs[0])
		ids = []string{id}
	}
	if err != nil {
		if multi {
			m.destroyNetwork(ctx, networkID)
		}
		return m.failSession(ctx, session, "container creation failed", err)
	}
	for i, id := range ids {
		containers[i].ContainerID = id
	}

	// Containers start in profile declaration order; the primary comes
	// first in every built-in profile.
	for _, c := range containers {
		endpoint, serr := m.driver.StartContainer(ctx, c.ContainerID)
		if serr != nil {
			m.destroyContainers(ctx, containers)
			if multi {
				m.destroyNetwork(ctx, networkID)
			}
			return m.failSession(ctx, session, fmt.Sprintf("container %s failed to start", c.Name), serr)
		}
		c.Endpoint = endpoint
		c.ObservedState = types.SessionStarting
	}

	session.Containers = containers
	session.NetworkID = networkID
	if primary := session.Primary(); primary != nil {
		session.Endpoint = primary.Endpoint
	}
	session.ObservedState = types.SessionStarting
	return m.store.Sessions.Update(ctx, session)
}

func (m *SessionManager) containerConfig(sandbox *types.Sandbox, session *types.Session, cargo *types.Cargo, spec *types.ContainerSpec, networkID string) *driver.ContainerConfig {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return &driver.ContainerConfig{
		Name:         session.ID + "-" + spec.Name,
		Image:        spec.Image,
		Env:          env,
		VolumeHandle: cargo.BackendHandle,
		MountPath:    cargo.MountPath,
		RuntimePort:  spec.RuntimePort,
		Resources:    spec.Resources,
		NetworkID:    networkID,
		Labels: map[string]string{
			driver.LabelOwner:     sandbox.Owner,
			driver.LabelSandboxID: sandbox.ID,
			driver.LabelSessionID: session.ID,
			driver.LabelRole:      spec.Role,
			driver.LabelManaged:   "true",
			driver.LabelInstance:  m.instance,
		},
	}
}

// awaitReady polls the primary runtime's meta probe with exponential
// backoff until it answers, the deadline passes, or the context dies. On
// deadline the session stays in starting and the caller gets a retry hint.
func (m *SessionManager) awaitReady(ctx context.Context, sandbox *types.Sandbox, session *types.Session) error {
	primary := session.Primary()
	if primary == nil || primary.Endpoint == "" {
		return m.failSession(ctx, session, "session has no primary endpoint", nil)
	}

	a := m.pool.Get(primary.ContainerID, primary.Endpoint, primary.RuntimeKind)
	deadline := m.now().Add(m.readiness.Deadline)
	backoff := m.readiness.InitialBackoff

	for {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		meta, err := a.Meta(probeCtx)
		cancel()

		if err == nil {
			profile := m.profiles.Get(session.ProfileID)
			if verr := validateMeta(meta, profile.ContainerSpecFor(primary.Name)); verr != nil {
				return m.failSession(ctx, session, "runtime meta validation failed", verr)
			}
			now := m.now().UTC()
			session.ObservedState = types.SessionRunning
			session.ReadyAt = &now
			session.LastActivity = now
			for _, c := range session.Containers {
				c.ObservedState = types.SessionRunning
			}
			if err := m.store.Sessions.Update(ctx, session); err != nil {
				return err
			}
			metrics.SessionStarts.WithLabelValues("ready").Inc()
			metrics.SessionReadyDuration.Observe(now.Sub(session.CreatedAt).Seconds())
			events.Publish(events.EventSessionReady, sandbox.Owner, map[string]string{
				"sandbox_id": sandbox.ID, "session_id": session.ID,
			})
			return nil
		}

		if !errors.Is(err, adapter.ErrConnection) && bayerr.CodeOf(err) != bayerr.CodeTimeout &&
			bayerr.CodeOf(err) != bayerr.CodeShipError && bayerr.CodeOf(err) != bayerr.CodeRuntimeError {
			return m.failSession(ctx, session, "readiness probe failed", err)
		}

		if m.now().After(deadline) {
			if uerr := m.store.Sessions.Update(ctx, session); uerr != nil {
				return uerr
			}
			return bayerr.SessionNotReady(sandbox.ID, retryAfterStartingMS)
		}

		select {
		case <-ctx.Done():
			return bayerr.SessionNotReady(sandbox.ID, retryAfterStartingMS)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.readiness.MaxBackoff {
			backoff = m.readiness.MaxBackoff
		}
	}
}

// validateMeta checks a runtime's self-description against its profile
// container spec.
func validateMeta(meta *adapter.Meta, spec *types.ContainerSpec) error {
	if meta.MountPath != "" && meta.MountPath != config.WorkspaceMountPath {
		return fmt.Errorf("runtime mounts workspace at %s, want %s", meta.MountPath, config.WorkspaceMountPath)
	}
	if meta.APIVersion != "" && meta.APIVersion != "v1" {
		return fmt.Errorf("runtime api version %s is not compatible", meta.APIVersion)
	}
	if spec != nil && len(meta.Capabilities) > 0 {
		for _, capability := range spec.Capabilities {
			if !meta.HasCapability(capability) {
				return fmt.Errorf("runtime does not declare capability %s", capability)
			}
		}
	}
	return nil
}

// RecoverContainer recreates one non-primary container of a degraded
// session. Called under the sandbox lock when a request needs a capability
// whose container is down.
func (m *SessionManager) RecoverContainer(ctx context.Context, sandbox *types.Sandbox, session *types.Session, name string) error {
	profile := m.profiles.Get(session.ProfileID)
	if profile == nil {
		return bayerr.Newf(bayerr.CodeInternal, "unknown profile %s", session.ProfileID)
	}
	spec := profile.ContainerSpecFor(name)
	if spec == nil {
		return bayerr.Newf(bayerr.CodeInternal, "profile %s has no container %s", session.ProfileID, name)
	}

	target := findByName(session, name)
	if target == nil {
		return bayerr.Newf(bayerr.CodeInternal, "session %s has no container %s", session.ID, name)
	}

	if target.ContainerID != "" {
		if err := m.driver.DestroyContainer(ctx, target.ContainerID); err != nil {
			m.logger.Warn().Err(err).Str("container", name).Msg("Failed to destroy dead container")
		}
		m.pool.Invalidate(target.ContainerID, target.Endpoint)
	}

	cargo, err := m.store.Cargos.Get(ctx, sandbox.CargoID)
	if err != nil {
		return err
	}

	cfg := m.containerConfig(sandbox, session, cargo, spec, session.NetworkID)
	id, err := m.driver.CreateContainer(ctx, cfg)
	if err != nil {
		return bayerr.SessionNotReady(sandbox.ID, retryAfterStartingMS)
	}
	endpoint, err := m.driver.StartContainer(ctx, id)
	if err != nil {
		_ = m.driver.DestroyContainer(context.WithoutCancel(ctx), id)
		return bayerr.SessionNotReady(sandbox.ID, retryAfterStartingMS)
	}

	target.ContainerID = id
	target.Endpoint = endpoint
	target.ObservedState = types.SessionRunning

	degraded := false
	for _, c := range session.Containers {
		if c.ObservedState != types.SessionRunning {
			degraded = true
		}
	}
	if !degraded {
		session.ObservedState = types.SessionRunning
	}
	return m.store.Sessions.Update(ctx, session)
}

// Stop tears down the sandbox's current session: containers, network, and
// adapter cache entries. The cargo is untouched; the next EnsureRunning
// starts a fresh container group over the same volume state.
func (m *SessionManager) Stop(ctx context.Context, sandbox *types.Sandbox) error {
	if sandbox.CurrentSessionID == "" {
		return nil
	}
	session, err := m.store.Sessions.Get(ctx, sandbox.CurrentSessionID)
	if err != nil {
		if bayerr.CodeOf(err) == bayerr.CodeNotFound {
			sandbox.CurrentSessionID = ""
			return nil
		}
		return err
	}

	session.DesiredState = types.SessionStopped
	session.ObservedState = types.SessionStopping
	if err := m.store.Sessions.Update(ctx, session); err != nil {
		return err
	}

	m.destroyContainers(ctx, session.Containers)
	if session.NetworkID != "" {
		m.destroyNetwork(ctx, session.NetworkID)
	}

	session.ObservedState = types.SessionStopped
	session.Endpoint = ""
	for _, c := range session.Containers {
		c.ContainerID = ""
		c.Endpoint = ""
		c.ObservedState = types.SessionStopped
	}
	if err := m.store.Sessions.Update(ctx, session); err != nil {
		return err
	}

	sandbox.CurrentSessionID = ""
	m.logger.Info().Str("session_id", session.ID).Str("sandbox_id", sandbox.ID).Msg("Session stopped")
	return nil
}

// Touch records activity on the session and its sandbox.
func (m *SessionManager) Touch(ctx context.Context, sandboxID, sessionID string) {
	now := m.now().UTC()
	if err := m.store.Sessions.TouchActivity(ctx, sessionID, now); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to touch session activity")
	}
	if err := m.store.Sandboxes.TouchActivity(ctx, sandboxID, now); err != nil {
		m.logger.Warn().Err(err).Str("sandbox_id", sandboxID).Msg("Failed to touch sandbox activity")
	}
}

// cleanup destroys the session's containers and network after the backend
// lost them, resetting the session to pending for recreation.
func (m *SessionManager) cleanup(ctx context.Context, session *types.Session) error {
	m.destroyContainers(ctx, session.Containers)
	if session.NetworkID != "" {
		m.destroyNetwork(ctx, session.NetworkID)
		session.NetworkID = ""
	}
	session.Endpoint = ""
	session.ReadyAt = nil
	for _, c := range session.Containers {
		c.ContainerID = ""
		c.Endpoint = ""
		c.ObservedState = types.SessionPending
	}
	session.ObservedState = types.SessionPending
	return m.store.Sessions.Update(ctx, session)
}

func (m *SessionManager) destroyContainers(ctx context.Context, containers []*types.SessionContainer) {
	for _, c := range containers {
		if c.ContainerID == "" {
			continue
		}
		m.pool.Invalidate(c.ContainerID, c.Endpoint)
		if err := m.driver.StopContainer(ctx, c.ContainerID); err != nil {
			m.logger.Warn().Err(err).Str("container", c.Name).Msg("Failed to stop container")
		}
		if err := m.driver.DestroyContainer(ctx, c.ContainerID); err != nil {
			m.logger.Warn().Err(err).Str("container", c.Name).Msg("Failed to destroy container")
		}
	}
}

func (m *SessionManager) destroyNetwork(ctx context.Context, networkID string) {
	if err := m.driver.DestroyNetwork(ctx, networkID); err != nil {
		m.logger.Warn().Err(err).Str("network_id", networkID).Msg("Failed to destroy network")
	}
}

// failSession marks the session failed, recording the reason, and returns
// the public error. Backend (driver) failures surface as internal_error;
// a runtime that answered but misbehaved surfaces as runtime_error.
func (m *SessionManager) failSession(ctx context.Context, session *types.Session, reason string, cause error) error {
	session.ObservedState = types.SessionFailed
	if cause != nil {
		session.FailedReason = fmt.Sprintf("%s: %v", reason, cause)
	} else {
		session.FailedReason = reason
	}
	if err := m.store.Sessions.Update(ctx, session); err != nil {
		m.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to persist failed session")
	}
	metrics.SessionStarts.WithLabelValues("failed").Inc()
	events.Publish(events.EventSessionFailed, "", map[string]string{
		"sandbox_id": session.SandboxID, "session_id": session.ID, "reason": reason,
	})
	code := bayerr.CodeRuntimeError
	var derr *driver.Error
	if errors.As(cause, &derr) {
		code = bayerr.CodeInternal
	}
	return bayerr.Wrap(code, reason, cause)
}

// ContainerLogs fetches the tail of one session container's output through
// the driver, for diagnosing sessions that failed or degraded after their
// containers came up. An empty name selects the primary container.
func (m *SessionManager) ContainerLogs(ctx context.Context, session *types.Session, name string, tail int) (string, error) {
	var target *types.SessionContainer
	if name == "" {
		target = session.Primary()
	} else {
		target = findByName(session, name)
	}
	if target == nil {
		return "", bayerr.Newf(bayerr.CodeNotFound, "session %s has no container %q", session.ID, name)
	}
	if target.ContainerID == "" {
		return "", bayerr.Newf(bayerr.CodeNotFound, "container %s has no backend instance", target.Name)
	}
	if tail <= 0 {
		tail = 100
	}
	out, err := m.driver.Logs(ctx, target.ContainerID, tail)
	if err != nil {
		return "", bayerr.Wrap(bayerr.CodeInternal, "failed to read container logs", err)
	}
	return out, nil
}

func findByName(session *types.Session, name string) *types.SessionContainer {
	for _, c := range session.Containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}
