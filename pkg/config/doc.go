/*
Package config loads and validates Bay configuration and sandbox
profiles.

Configuration comes from bay.yaml via Viper, searched in the working
directory and /etc/bay, with BAY_* environment variable overrides. The
loaded struct validates with struct tags before anything starts, so a
bad database type or port fails fast at boot.

# Sections

  - server: listen host and port
  - database: sqlite or postgres plus connection pool bounds
  - driver: docker or kube backend selection and options
  - auth: bearer token map and the anonymous development mode
  - gc: reaper intervals and the task lease TTL
  - readiness: session readiness polling backoff and deadline
  - idempotency, rate_limit, log

# Profiles

Profiles name container-group templates: images, resources, runtime
kinds, capability routing, and idle timeout. LoadProfiles reads a YAML
manifest, or serves the built-in python-default and browser-default
profiles when no manifest is given. A manifest replaces the built-ins
rather than merging with them.
*/
package config
