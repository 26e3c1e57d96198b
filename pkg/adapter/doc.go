/*
Package adapter speaks the runtime wire protocols inside sandbox
containers.

Two runtime kinds exist: ship, the workspace runtime serving python,
shell, and filesystem capabilities, and helm, the browser automation
runtime. Both expose a small JSON-over-HTTP API on their container
port; the adapters wrap it behind Go methods and translate transport
and protocol failures into the public error taxonomy.

# Meta

Every runtime answers GET /meta with its name, API version, workspace
mount path, and capability map. Adapters cache the meta after the first
probe; InvalidateMeta forces a re-read after a container restart.

# Pool

Pool caches adapters keyed by container id with TTL and LRU bounds, so
repeated calls against the same container reuse one client:

	a := pool.Get(containerID, endpoint, types.RuntimeKindShip)
	ship := a.(*adapter.ShipAdapter)
	result, err := ship.ExecPython(ctx, code, timeout)

# Failure classes

Connection-level failures (refused, reset, timeout) return ErrConnection
so callers can distinguish "runtime not up yet" from a runtime-reported
error. HTTP 404 on file operations becomes file_not_found; other non-2xx
responses become ship_error or runtime_error depending on the kind.
*/
package adapter
