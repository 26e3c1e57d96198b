/*
Package gc reclaims resources the normal lifecycle left behind.

The Collector runs five periodic tasks, each also triggerable through
the admin API:

  - idle-sessions: stops compute whose idle timeout passed
  - expired-sandboxes: deletes sandboxes past their TTL
  - orphan-cargos: destroys managed volumes whose sandbox is gone
  - orphan-containers: destroys labeled backend containers whose
    session no longer lives
  - idempotency-purge: drops expired request-deduplication records

# Safety

Every reaper re-checks its precondition under the per-sandbox lock
before acting, so a keepalive or TTL extension that lands between the
listing and the reap wins. Store-level leases fence each task across
instances: if another holder owns the lease the run is skipped
silently.

# Scheduling

Each task loops on its configured interval; a zero interval disables
the loop. Stop cancels all loops and waits for in-flight runs.
*/
package gc
