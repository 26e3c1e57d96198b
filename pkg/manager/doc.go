/*
Package manager implements the Bay control plane: sandbox, session, and
cargo lifecycle over a pluggable container driver.

The managers converge declared state (a sandbox the user wants running)
with observed state (what the backend actually reports), so every
operation re-checks reality before acting and tolerates being retried.

# Components

SandboxManager:
  - Create/Get/List/Delete for the durable sandbox resource
  - EnsureRunning: the lazy-start converge loop
  - Keepalive, ExtendTTL, Stop for lifecycle control
  - StopIfIdle and ReapExpired, the hooks the garbage collector calls

SessionManager:
  - Starts and tears down the container group behind a sandbox
  - Polls runtime /meta until ready, with exponential backoff
  - Refreshes per-container observed state and degrades sessions
  - RecoverContainer recreates a single dead non-primary container

CargoManager:
  - Creates and destroys workspace volumes
  - Refcounts external cargos before allowing deletion

# Converge model

Creating a sandbox allocates only rows and a volume; no containers
start. The first capability call (or an explicit EnsureRunning) starts
a session:

	sandbox, _ := sandboxes.Create(ctx, owner, manager.CreateRequest{})
	// ... later ...
	sandbox, session, err := sandboxes.EnsureRunning(ctx, owner, sandbox.ID)

Stopping a sandbox destroys its compute but keeps the sandbox and its
cargo; the next EnsureRunning gets a fresh session over the same
volume.

# Concurrency

All mutating paths serialize per sandbox through an in-process lock
table, so a keepalive racing the idle reaper resolves deterministically:
whoever acquires the lock second re-reads state and yields if the first
already won.
*/
package manager
