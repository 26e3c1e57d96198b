package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/events"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/store"
	"github.com/baylabs/bay/pkg/types"
)

// SandboxManager owns sandbox lifecycle and the per-sandbox lock table that
// serializes mutating operations.
type SandboxManager struct {
	store    *store.Store
	sessions *SessionManager
	cargos   *CargoManager
	profiles *config.ProfileRegistry
	locks    *lockTable
	logger   zerolog.Logger
	now      func() time.Time
}

// NewSandboxManager wires the sandbox manager.
func NewSandboxManager(st *store.Store, sessions *SessionManager, cargos *CargoManager, profiles *config.ProfileRegistry) *SandboxManager {
	return &SandboxManager{
		store:    st,
		sessions: sessions,
		cargos:   cargos,
		profiles: profiles,
		locks:    newLockTable(),
		logger:   log.WithComponent("sandbox-manager"),
		now:      time.Now,
	}
}

// CreateRequest carries the parameters of a sandbox creation.
type CreateRequest struct {
	ProfileID  string
	TTLSeconds *int64 // nil or 0 = no expiry
	CargoID    string // attach an existing external cargo instead of creating one
}

// Create allocates a sandbox in desired-state running with its cargo. No
// containers start until the first capability call.
func (m *SandboxManager) Create(ctx context.Context, owner string, req CreateRequest) (*types.Sandbox, error) {
	profileID := req.ProfileID
	if profileID == "" {
		profileID = "python-default"
	}
	profile := m.profiles.Get(profileID)
	if profile == nil {
		return nil, bayerr.Newf(bayerr.CodeValidation, "unknown profile: %s", profileID)
	}
	if req.TTLSeconds != nil && *req.TTLSeconds < 0 {
		return nil, bayerr.New(bayerr.CodeValidation, "ttl_seconds must not be negative")
	}

	now := m.now().UTC()
	id := types.NewSandboxID()

	cargoID := req.CargoID
	if cargoID != "" {
		cargo, err := m.cargos.Get(ctx, owner, cargoID)
		if err != nil {
			return nil, err
		}
		if cargo.Kind != types.CargoExternal {
			return nil, bayerr.Newf(bayerr.CodeValidation,
				"cargo %s is managed by another sandbox", cargoID)
		}
	} else {
		cargo, err := m.cargos.CreateManaged(ctx, owner, id)
		if err != nil {
			return nil, err
		}
		cargoID = cargo.ID
	}

	sandbox := &types.Sandbox{
		ID:           id,
		Owner:        owner,
		ProfileID:    profileID,
		CargoID:      cargoID,
		DesiredState: types.DesiredRunning,
		LastActivity: now,
		CreatedAt:    now,
		Version:      1,
	}
	if req.TTLSeconds != nil && *req.TTLSeconds > 0 {
		expires := now.Add(time.Duration(*req.TTLSeconds) * time.Second)
		sandbox.ExpiresAt = &expires
	}
	idle := now.Add(profile.IdleTimeout)
	sandbox.IdleExpiresAt = &idle

	if err := m.store.Sandboxes.Create(ctx, sandbox); err != nil {
		if req.CargoID == "" {
			if derr := m.cargos.DeleteManagedFor(context.WithoutCancel(ctx), cargoID); derr != nil {
				m.logger.Warn().Err(derr).Str("cargo_id", cargoID).Msg("Orphaned cargo after failed insert")
			}
		}
		return nil, err
	}

	m.logger.Info().Str("sandbox_id", id).Str("profile", profileID).Msg("Sandbox created")
	events.Publish(events.EventSandboxCreated, owner, map[string]string{
		"sandbox_id": id, "profile": profileID,
	})
	return sandbox, nil
}

// Get returns an owner's sandbox with its computed status. Soft-deleted
// sandboxes are hidden.
func (m *SandboxManager) Get(ctx context.Context, owner, id string) (*types.Sandbox, types.SandboxStatus, error) {
	sandbox, err := m.loadOwned(ctx, owner, id)
	if err != nil {
		return nil, "", err
	}
	status, err := m.statusOf(ctx, sandbox, m.now().UTC())
	if err != nil {
		return nil, "", err
	}
	return sandbox, status, nil
}

// List returns a page of the owner's sandboxes with computed statuses and
// the cursor for the next page.
func (m *SandboxManager) List(ctx context.Context, owner, cursor string, limit int) ([]*types.Sandbox, []types.SandboxStatus, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	sandboxes, err := m.store.Sandboxes.List(ctx, owner, cursor, limit)
	if err != nil {
		return nil, nil, "", err
	}

	// One captured now keeps the page internally consistent.
	now := m.now().UTC()
	statuses := make([]types.SandboxStatus, len(sandboxes))
	for i, s := range sandboxes {
		statuses[i], err = m.statusOf(ctx, s, now)
		if err != nil {
			return nil, nil, "", err
		}
	}

	next := ""
	if len(sandboxes) == limit {
		next = sandboxes[len(sandboxes)-1].ID
	}
	return sandboxes, statuses, next, nil
}

// EnsureRunning converges the sandbox's compute under its lock and returns
// the ready session. This is the lazy-start entry point for every
// capability call.
func (m *SandboxManager) EnsureRunning(ctx context.Context, owner, id string) (*types.Sandbox, *types.Session, error) {
	release := m.locks.acquire(id)
	defer release()

	sandbox, err := m.loadOwned(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	now := m.now().UTC()
	if sandbox.Expired(now) {
		return nil, nil, bayerr.Newf(bayerr.CodeSandboxExpired, "sandbox %s has expired", id)
	}

	prevSession := sandbox.CurrentSessionID
	prevDesired := sandbox.DesiredState
	sandbox.DesiredState = types.DesiredRunning

	session, err := m.sessions.EnsureRunning(ctx, sandbox)
	if err != nil {
		// A synthesized session id must survive even a failed converge so
		// the next call resumes instead of starting over.
		if sandbox.CurrentSessionID != prevSession {
			if uerr := m.store.Sandboxes.Update(ctx, sandbox); uerr != nil {
				m.logger.Warn().Err(uerr).Str("sandbox_id", id).Msg("Failed to persist session reference")
			}
		}
		return nil, nil, err
	}

	if sandbox.CurrentSessionID != prevSession || sandbox.DesiredState != prevDesired {
		idle := m.now().UTC().Add(session.IdleTimeout)
		sandbox.IdleExpiresAt = &idle
		if err := m.store.Sandboxes.Update(ctx, sandbox); err != nil {
			return nil, nil, err
		}
	}
	return sandbox, session, nil
}

// RecoverContainer recreates one failed container of the sandbox's session
// under the sandbox lock.
func (m *SandboxManager) RecoverContainer(ctx context.Context, owner, id, containerName string) (*types.Session, error) {
	release := m.locks.acquire(id)
	defer release()

	sandbox, err := m.loadOwned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if sandbox.CurrentSessionID == "" {
		return nil, bayerr.SessionNotReady(id, retryAfterStartingMS)
	}
	session, err := m.store.Sessions.Get(ctx, sandbox.CurrentSessionID)
	if err != nil {
		return nil, err
	}
	if err := m.sessions.RecoverContainer(ctx, sandbox, session, containerName); err != nil {
		return nil, err
	}
	return session, nil
}

// Keepalive pushes the idle horizon out without touching the hard TTL.
func (m *SandboxManager) Keepalive(ctx context.Context, owner, id string) (*types.Sandbox, error) {
	release := m.locks.acquire(id)
	defer release()

	sandbox, err := m.loadOwned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if sandbox.Expired(now) {
		return nil, bayerr.Newf(bayerr.CodeSandboxExpired, "sandbox %s has expired", id)
	}

	profile := m.profiles.Get(sandbox.ProfileID)
	idleTimeout := 30 * time.Minute
	if profile != nil {
		idleTimeout = profile.IdleTimeout
	}
	idle := now.Add(idleTimeout)
	sandbox.IdleExpiresAt = &idle
	sandbox.LastActivity = now
	if err := m.store.Sandboxes.Update(ctx, sandbox); err != nil {
		return nil, err
	}
	if sandbox.CurrentSessionID != "" {
		if err := m.store.Sessions.TouchActivity(ctx, sandbox.CurrentSessionID, now); err != nil {
			m.logger.Warn().Err(err).Str("sandbox_id", id).Msg("Failed to touch session on keepalive")
		}
	}
	return sandbox, nil
}

// ExtendTTL pushes the hard expiry out by delta. Infinite-TTL sandboxes
// and already-expired sandboxes are refused.
func (m *SandboxManager) ExtendTTL(ctx context.Context, owner, id string, delta time.Duration) (*types.Sandbox, error) {
	if delta <= 0 {
		return nil, bayerr.New(bayerr.CodeValidation, "ttl extension must be positive")
	}

	release := m.locks.acquire(id)
	defer release()

	sandbox, err := m.loadOwned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if sandbox.ExpiresAt == nil {
		return nil, bayerr.Newf(bayerr.CodeSandboxTTLInfinite,
			"sandbox %s has no expiry to extend", id)
	}
	if sandbox.Expired(now) {
		return nil, bayerr.Newf(bayerr.CodeSandboxExpired, "sandbox %s has expired", id)
	}

	base := *sandbox.ExpiresAt
	if now.After(base) {
		base = now
	}
	expires := base.Add(delta)
	sandbox.ExpiresAt = &expires
	if err := m.store.Sandboxes.Update(ctx, sandbox); err != nil {
		return nil, err
	}
	return sandbox, nil
}

// Stop tears down the sandbox's compute, leaving the sandbox idle and its
// cargo intact.
func (m *SandboxManager) Stop(ctx context.Context, owner, id string) error {
	release := m.locks.acquire(id)
	defer release()

	sandbox, err := m.loadOwned(ctx, owner, id)
	if err != nil {
		return err
	}
	return m.stopLocked(ctx, sandbox)
}

func (m *SandboxManager) stopLocked(ctx context.Context, sandbox *types.Sandbox) error {
	if err := m.sessions.Stop(ctx, sandbox); err != nil {
		return err
	}
	sandbox.DesiredState = types.DesiredStopped
	if err := m.store.Sandboxes.Update(ctx, sandbox); err != nil {
		return err
	}
	events.Publish(events.EventSandboxStopped, sandbox.Owner, map[string]string{"sandbox_id": sandbox.ID})
	return nil
}

// Delete stops the sandbox, cascades its managed cargo, and soft-deletes
// the record. Deleting an already-deleted sandbox is a no-op.
func (m *SandboxManager) Delete(ctx context.Context, owner, id string) error {
	release := m.locks.acquire(id)

	sandbox, err := m.store.Sandboxes.Get(ctx, id)
	if err != nil {
		release()
		if bayerr.CodeOf(err) == bayerr.CodeNotFound {
			return nil
		}
		return err
	}
	if sandbox.Owner != owner {
		release()
		return bayerr.NotFound("sandbox", id)
	}
	if sandbox.DeletedAt != nil {
		release()
		return nil
	}

	err = m.deleteLocked(ctx, sandbox)
	release()
	if err == nil {
		// The lock entry is dropped once no waiter holds a reference.
		m.locks.forget(id)
	}
	return err
}

func (m *SandboxManager) deleteLocked(ctx context.Context, sandbox *types.Sandbox) error {
	if err := m.sessions.Stop(ctx, sandbox); err != nil {
		return err
	}
	if err := m.cargos.DeleteManagedFor(ctx, sandbox.CargoID); err != nil {
		return err
	}

	now := m.now().UTC()
	sandbox.DesiredState = types.DesiredDeleted
	sandbox.DeletedAt = &now
	if err := m.store.Sandboxes.Update(ctx, sandbox); err != nil {
		return err
	}
	m.logger.Info().Str("sandbox_id", sandbox.ID).Msg("Sandbox deleted")
	events.Publish(events.EventSandboxDeleted, sandbox.Owner, map[string]string{"sandbox_id": sandbox.ID})
	return nil
}

// StopIfIdle stops a sandbox's session when it is still idle once re-read
// under the sandbox lock. A keepalive that lands before the lock is taken
// wins and the stop is skipped. Used by the idle-session reaper.
func (m *SandboxManager) StopIfIdle(ctx context.Context, sandboxID, sessionID string, now time.Time) (bool, error) {
	release := m.locks.acquire(sandboxID)
	defer release()

	sandbox, err := m.store.Sandboxes.GetLive(ctx, sandboxID)
	if err != nil {
		if bayerr.CodeOf(err) == bayerr.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	if sandbox.CurrentSessionID != sessionID {
		return false, nil
	}
	session, err := m.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		if bayerr.CodeOf(err) == bayerr.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	if session.ObservedState != types.SessionRunning && session.ObservedState != types.SessionDegraded {
		return false, nil
	}
	if session.IdleTimeout <= 0 || now.Sub(session.LastActivity) < session.IdleTimeout {
		return false, nil
	}

	if err := m.stopLocked(ctx, sandbox); err != nil {
		return false, err
	}
	return true, nil
}

// ReapExpired deletes a sandbox whose hard TTL passed, re-checking under
// the lock so a concurrent TTL extension wins. Used by the expired-sandbox
// reaper.
func (m *SandboxManager) ReapExpired(ctx context.Context, sandboxID string, now time.Time) (bool, error) {
	release := m.locks.acquire(sandboxID)
	defer release()

	sandbox, err := m.store.Sandboxes.GetLive(ctx, sandboxID)
	if err != nil {
		if bayerr.CodeOf(err) == bayerr.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	if !sandbox.Expired(now) {
		return false, nil
	}
	if err := m.deleteLocked(ctx, sandbox); err != nil {
		return false, err
	}
	return true, nil
}

// ContainerLogs returns the tail of a session container's output for
// diagnostics, most usefully when the session is failed or degraded. An
// empty container name selects the primary.
func (m *SandboxManager) ContainerLogs(ctx context.Context, owner, id, containerName string, tail int) (string, error) {
	sandbox, err := m.loadOwned(ctx, owner, id)
	if err != nil {
		return "", err
	}
	if sandbox.CurrentSessionID == "" {
		return "", bayerr.Newf(bayerr.CodeNotFound, "sandbox %s has no session", id)
	}
	session, err := m.store.Sessions.Get(ctx, sandbox.CurrentSessionID)
	if err != nil {
		return "", err
	}
	return m.sessions.ContainerLogs(ctx, session, containerName, tail)
}

// Lookup loads a live sandbox without computing status or taking the lock.
func (m *SandboxManager) Lookup(ctx context.Context, owner, id string) (*types.Sandbox, error) {
	return m.loadOwned(ctx, owner, id)
}

// Profile returns a sandbox's profile.
func (m *SandboxManager) Profile(profileID string) *types.Profile {
	return m.profiles.Get(profileID)
}

// loadOwned loads a live sandbox and enforces ownership. Missing ownership
// reads as not-found so ids cannot be probed.
func (m *SandboxManager) loadOwned(ctx context.Context, owner, id string) (*types.Sandbox, error) {
	sandbox, err := m.store.Sandboxes.GetLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if sandbox.Owner != owner {
		return nil, bayerr.NotFound("sandbox", id)
	}
	return sandbox, nil
}

// statusOf computes the externally visible status from the sandbox and its
// session at one captured now.
func (m *SandboxManager) statusOf(ctx context.Context, sandbox *types.Sandbox, now time.Time) (types.SandboxStatus, error) {
	var session *types.Session
	if sandbox.CurrentSessionID != "" {
		var err error
		session, err = m.store.Sessions.Get(ctx, sandbox.CurrentSessionID)
		if err != nil && bayerr.CodeOf(err) != bayerr.CodeNotFound {
			return "", err
		}
	}
	return ComputeStatus(sandbox, session, now), nil
}

// ComputeStatus is the pure status function over a sandbox, its current
// session, and a single captured now.
func ComputeStatus(sandbox *types.Sandbox, session *types.Session, now time.Time) types.SandboxStatus {
	if sandbox.DeletedAt != nil {
		return types.SandboxDeleted
	}
	if sandbox.Expired(now) {
		return types.SandboxExpired
	}
	if session == nil || session.ObservedState == types.SessionStopped ||
		session.ObservedState == types.SessionStopping {
		return types.SandboxIdle
	}
	switch session.ObservedState {
	case types.SessionPending, types.SessionStarting:
		return types.SandboxStarting
	case types.SessionRunning:
		if session.ReadyAt != nil {
			return types.SandboxReady
		}
		return types.SandboxStarting
	case types.SessionDegraded:
		return types.SandboxDegraded
	case types.SessionFailed:
		return types.SandboxFailed
	}
	return types.SandboxIdle
}
