/*
Package history manages execution records and the skill distillation
workflow built on them.

Execution records are written by the capability router; this package
serves reads, annotation, and the candidate pipeline that turns
successful executions into versioned skill releases.

# Candidate lifecycle

	draft -> evaluating -> evaluated -> promoted
	                    \-> rejected

A candidate references execution records the same owner produced.
Evaluation settles it as evaluated or rejected; only evaluated
candidates promote. Promotion allocates the next version for the skill
key and deactivates the superseded release in the same stage.

# Stages and rollback

Releases target the canary or stable stage independently. Rollback
deactivates the current active release, marks it rolled back so it can
never be restored, and reactivates the highest earlier version that was
not itself rolled back; rolling back the only version leaves the stage
empty.
*/
package history
