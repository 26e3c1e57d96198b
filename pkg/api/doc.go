/*
Package api serves the Bay REST surface with Gin.

The server translates HTTP into manager, router, and history calls and
back into wire types; no handler touches the store directly. All
resource routes live under /v1 and are owner-scoped by the auth
middleware.

# Surface

  - /v1/sandboxes: create, list, get, keepalive, extend_ttl, stop, delete
  - /v1/sandboxes/:id/{python,shell,browser}/exec: capability execution
  - /v1/sandboxes/:id/filesystem/...: workspace file operations
  - /v1/cargos: persistent volume management
  - /v1/history/...: execution records and annotations
  - /v1/skills/...: candidate evaluation, promotion, rollback
  - /v1/profiles, /v1/admin/gc/:task
  - /healthz and /metrics outside the authenticated group

# Errors

Every failure renders one envelope:

	{"error": {"code": "not_found", "message": "...", "retry_after_ms": 2000}}

The code maps deterministically to the HTTP status, and retryable
errors also set a Retry-After header.

# Middleware

Requests pass through request-id assignment, Prometheus instrumentation,
CORS, bearer-token auth (or the X-Bay-Owner development mode), and an
optional per-owner token-bucket rate limit. Mutating endpoints that
create resources honor the Idempotency-Key header.
*/
package api
