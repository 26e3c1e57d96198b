/*
Package driver abstracts the container backend behind one interface.

The Driver interface covers the operations the managers need: volumes,
per-session networks, container create/start/stop/destroy, status
probes, and labeled listings for orphan recovery. Two implementations
exist: a Docker driver for single-host deployments and a Kubernetes
driver that maps sessions onto pods.

# Labels

Every managed resource carries bay.* labels (owner, sandbox id, session
id, role, instance) so a restarted server can find and reap containers
its database no longer references.

# States

Status reports one of running, exited, not-found, or unknown. Callers
treat not-found as a normal outcome, never an error; teardown paths are
idempotent against resources that already disappeared.

# Errors

Backend failures wrap into a driver error with the failed operation
attached, and mark whether the failure is retryable. The managers map
them into the public taxonomy at the API boundary.
*/
package driver
