/*
Package bayerr defines the error taxonomy shared by every Bay layer.

An Error carries a stable machine-readable code, a human message,
optional structured details, and an optional retry hint. Codes map
deterministically onto HTTP statuses at the API boundary, so internal
layers never reason about status codes.

# Usage

Construct errors at the point of failure:

	bayerr.Newf(bayerr.CodeValidation, "unknown profile: %s", id)
	bayerr.NotFound("sandbox", id)
	bayerr.Wrap(err, bayerr.CodeInternal, "query failed")

Inspect them by code, not by message:

	if bayerr.CodeOf(err) == bayerr.CodeConflict { ... }

AsError normalizes any error into *Error, defaulting unknown causes to
the internal code so unclassified failures never leak details to
clients.

# Retry hints

Errors for transient conditions (session still starting, rate limit
exceeded) carry RetryAfterMS; the API layer renders it both in the JSON
envelope and as a Retry-After header.
*/
package bayerr
