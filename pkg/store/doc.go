/*
Package store persists Bay state through GORM on SQLite or PostgreSQL.

Each resource gets a repository with explicit methods; nothing exposes
raw *gorm.DB to callers. Errors are translated at the boundary into the
public taxonomy, so a missing row surfaces as a not_found error and a
unique violation as a conflict.

# Repositories

  - SandboxRepo: sandboxes with soft delete, cursor pagination, and
    optimistic versioned updates
  - SessionRepo: sessions with their container groups serialized as a
    JSON column, plus the idle-session listing the reaper consumes
  - CargoRepo: workspace volumes, attachment refcounts, orphan listing
  - ExecutionRepo: append-mostly execution history with filtered lists
  - SkillRepo: candidates plus the transactional promote and rollback
    of versioned releases
  - IdempotencyRepo: request deduplication records with TTL expiry
  - LeaseRepo: named leases that fence garbage-collection tasks across
    instances

# Optimistic concurrency

Sandbox and session updates carry a version column; an UPDATE guarded
by the old version that matches zero rows reports a conflict and the
caller re-reads. Skill promotion allocates the next version and
deactivates the superseded release inside one transaction.

# Testing

NewTest() opens an in-memory SQLite store with migrations applied,
which keeps repository tests fast and hermetic:

	st, err := store.NewTest()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
*/
package store
