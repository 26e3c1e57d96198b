/*
Package types defines the core data structures used throughout Bay.

This package contains the domain model: sandboxes, sessions, cargos,
execution records, skill candidates and releases, plus the profile and
capability vocabulary that ties them together. All other packages build
on these types for state management, API translation, and orchestration
logic.

# Core types

Sandbox lifecycle:
  - Sandbox: the durable, user-facing environment handle
  - SandboxStatus: computed external status (idle, starting, ready,
    degraded, failed, expired, deleted)
  - DesiredState: what the control loop converges toward

Compute:
  - Session: one container-group incarnation of a sandbox
  - SessionContainer: a single container within a session
  - SessionState: pending, starting, running, degraded, stopping,
    stopped, failed

Storage:
  - Cargo: a persistent volume mounted at the workspace path
  - CargoKind: managed (dies with its sandbox) or external (shared by
    reference)

Profiles:
  - Profile: a named container-group template with capability routing
  - ContainerSpec: image, resources, runtime kind, capabilities
  - Capability: python, shell, filesystem, browser

History:
  - ExecutionRecord: one capability invocation with its outcome
  - SkillCandidate: a draft skill distilled from executions
  - SkillRelease: a versioned, promotable snapshot of a skill

A sandbox survives its sessions: stopping tears down containers while
the sandbox row and its cargo persist, and the next capability call
starts a fresh session over the same volume.

# Identifiers

Every resource id is a typed prefix plus twelve hex characters
(sandbox-a1b2c3d4e5f6). Constructors live in id.go; nothing else
generates ids.
*/
package types
