package gc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/driver"
	"github.com/baylabs/bay/pkg/events"
	"github.com/baylabs/bay/pkg/idempotency"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/manager"
	"github.com/baylabs/bay/pkg/metrics"
	"github.com/baylabs/bay/pkg/store"
	"github.com/baylabs/bay/pkg/types"
)

// Task names, also the lease keys in the store.
const (
	TaskIdleSessions     = "idle-sessions"
	TaskExpiredSandboxes = "expired-sandboxes"
	TaskOrphanCargos     = "orphan-cargos"
	TaskOrphanContainers = "orphan-containers"
	TaskIdempotency      = "idempotency-purge"
)

const batchSize = 100

// Collector runs the periodic garbage collection tasks. Every task is
// idempotent and re-checks its precondition under the sandbox lock before
// acting, so a concurrent keepalive or TTL extension wins over the reaper.
// Store-level leases keep multiple instances from running the same task at
// once.
type Collector struct {
	store     *store.Store
	driver    driver.Driver
	sandboxes *manager.SandboxManager
	idem      *idempotency.Service
	cfg       config.GCConfig
	instance  string
	logger    zerolog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the collector.
func New(st *store.Store, drv driver.Driver, sandboxes *manager.SandboxManager, idem *idempotency.Service, cfg config.GCConfig, instance string) *Collector {
	return &Collector{
		store:     st,
		driver:    drv,
		sandboxes: sandboxes,
		idem:      idem,
		cfg:       cfg,
		instance:  instance,
		logger:    log.WithComponent("gc"),
		now:       time.Now,
	}
}

// Start launches one loop per task on its configured interval.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.loop(ctx, TaskIdleSessions, c.cfg.IdleSessionInterval)
	c.loop(ctx, TaskExpiredSandboxes, c.cfg.ExpiredSandboxInterval)
	c.loop(ctx, TaskOrphanCargos, c.cfg.OrphanCargoInterval)
	c.loop(ctx, TaskOrphanContainers, c.cfg.OrphanContainerInterval)
	c.loop(ctx, TaskIdempotency, time.Hour)

	c.logger.Info().Msg("Garbage collector started")
}

// Stop halts all loops and waits for in-flight runs to finish.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Garbage collector stopped")
}

func (c *Collector) loop(ctx context.Context, task string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.RunTask(ctx, task); err != nil {
					c.logger.Error().Err(err).Str("task", task).Msg("GC task failed")
				}
			}
		}
	}()
}

// RunTask runs one task immediately, returning how many resources it
// reclaimed. Also used by the admin trigger endpoint.
func (c *Collector) RunTask(ctx context.Context, task string) (int, error) {
	now := c.now().UTC()
	acquired, err := c.store.Leases.Acquire(ctx, task, c.instance, now, now.Add(c.cfg.LeaseTTL))
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := c.store.Leases.Release(context.WithoutCancel(ctx), task, c.instance); err != nil {
			c.logger.Warn().Err(err).Str("task", task).Msg("Failed to release GC lease")
		}
	}()

	var reclaimed int
	switch task {
	case TaskIdleSessions:
		reclaimed, err = c.reapIdleSessions(ctx, now)
	case TaskExpiredSandboxes:
		reclaimed, err = c.reapExpiredSandboxes(ctx, now)
	case TaskOrphanCargos:
		reclaimed, err = c.reapOrphanCargos(ctx)
	case TaskOrphanContainers:
		reclaimed, err = c.reapOrphanContainers(ctx)
	case TaskIdempotency:
		var n int64
		n, err = c.idem.PurgeExpired(ctx)
		reclaimed = int(n)
	default:
		return 0, bayerr.Newf(bayerr.CodeValidation, "unknown gc task: %s", task)
	}
	if err != nil {
		return reclaimed, err
	}

	metrics.GCRuns.WithLabelValues(task).Inc()
	if reclaimed > 0 {
		metrics.GCReclaimed.WithLabelValues(task).Add(float64(reclaimed))
		events.Publish(events.EventGCReclaimed, "", map[string]string{"task": task})
	}
	return reclaimed, nil
}

// reapIdleSessions stops compute whose idle timeout passed. Sandboxes stay;
// only their containers go.
func (c *Collector) reapIdleSessions(ctx context.Context, now time.Time) (int, error) {
	sessions, err := c.store.Sessions.ListIdle(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}
	stopped := 0
	for _, session := range sessions {
		ok, err := c.sandboxes.StopIfIdle(ctx, session.SandboxID, session.ID, now)
		if err != nil {
			c.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to stop idle session")
			continue
		}
		if ok {
			stopped++
			c.logger.Info().Str("session_id", session.ID).
				Str("sandbox_id", session.SandboxID).Msg("Idle session stopped")
		}
	}
	return stopped, nil
}

func (c *Collector) reapExpiredSandboxes(ctx context.Context, now time.Time) (int, error) {
	sandboxes, err := c.store.Sandboxes.ListExpired(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, sandbox := range sandboxes {
		ok, err := c.sandboxes.ReapExpired(ctx, sandbox.ID, now)
		if err != nil {
			c.logger.Warn().Err(err).Str("sandbox_id", sandbox.ID).Msg("Failed to reap expired sandbox")
			continue
		}
		if ok {
			reaped++
			c.logger.Info().Str("sandbox_id", sandbox.ID).Msg("Expired sandbox deleted")
		}
	}

	if live, err := c.store.Sandboxes.ListLiveIDs(ctx); err == nil {
		metrics.SandboxesLive.Set(float64(len(live)))
	}
	return reaped, nil
}

// reapOrphanCargos destroys managed volumes whose owning sandbox is gone.
func (c *Collector) reapOrphanCargos(ctx context.Context) (int, error) {
	orphans, err := c.store.Cargos.ListOrphans(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, cargo := range orphans {
		if err := c.driver.DestroyVolume(ctx, cargo.BackendHandle); err != nil {
			c.logger.Warn().Err(err).Str("cargo_id", cargo.ID).Msg("Failed to destroy orphan volume")
			continue
		}
		if err := c.store.Cargos.MarkDeleted(ctx, cargo.ID, c.now().UTC()); err != nil {
			c.logger.Warn().Err(err).Str("cargo_id", cargo.ID).Msg("Failed to mark orphan cargo deleted")
			continue
		}
		reaped++
		c.logger.Info().Str("cargo_id", cargo.ID).Msg("Orphan cargo reclaimed")
	}
	return reaped, nil
}

// reapOrphanContainers destroys backend containers labeled by this
// instance whose session no longer lives. This recovers from crashes
// mid-orchestration.
func (c *Collector) reapOrphanContainers(ctx context.Context) (int, error) {
	containers, err := c.driver.ListLabeled(ctx, map[string]string{
		driver.LabelManaged:  "true",
		driver.LabelInstance: c.instance,
	})
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, container := range containers {
		sessionID := container.Labels[driver.LabelSessionID]
		if sessionID == "" {
			continue
		}
		if c.sessionLive(ctx, sessionID) {
			continue
		}
		if err := c.driver.DestroyContainer(ctx, container.ID); err != nil {
			c.logger.Warn().Err(err).Str("container_id", container.ID).Msg("Failed to destroy orphan container")
			continue
		}
		reaped++
		c.logger.Info().Str("container_id", container.ID).
			Str("session_id", sessionID).Msg("Orphan container reclaimed")
	}
	return reaped, nil
}

func (c *Collector) sessionLive(ctx context.Context, sessionID string) bool {
	session, err := c.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	switch session.ObservedState {
	case types.SessionStopped, types.SessionFailed:
		return false
	}
	return true
}
