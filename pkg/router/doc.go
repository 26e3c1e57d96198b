/*
Package router dispatches capability invocations to the right runtime
container.

One call does the whole journey: verify the sandbox's profile declares
the capability, converge the session through the manager (starting it
lazily if stopped), pick the container that serves the capability, run
the operation through its adapter, record the execution in history, and
touch activity so the idle reaper stays away.

# Path validation

All filesystem paths are relative to the workspace mount. ValidatePath
rejects empty paths, absolute paths, and any path containing a `..`
segment, even one that would resolve inside the workspace, before a
request ever reaches a runtime.

# Timeouts

Caller-supplied execution timeouts clamp into [DefaultTimeout,
MaxTimeout]; zero or negative means the default.

# Failure translation

A connection-level adapter failure right after converge means the
runtime process is still booting, so it surfaces as session_not_ready
with a retry hint rather than an internal error.
*/
package router
