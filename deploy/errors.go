package deploy

import "errors"

var (
	// ErrNoTargets indicates a deployment was created against an empty
	// target set. It is raised before any target mutation.
	ErrNoTargets = errors.New("no deployment targets")

	// ErrAlreadyStarted indicates Start was called on a deployment that
	// already left the Pending state.
	ErrAlreadyStarted = errors.New("deployment already started")

	// ErrStateConflict indicates an operation is not valid for the
	// deployment's current status. The operation has no side effect.
	ErrStateConflict = errors.New("operation not valid in current deployment state")

	// ErrNotFound indicates the requested deployment does not exist.
	ErrNotFound = errors.New("deployment not found")

	// ErrValidation indicates caller-provided configuration violates a
	// precondition. Validation failures never cause partial mutation.
	ErrValidation = errors.New("invalid deployment configuration")

	// ErrNotApproved indicates the approval gate rejected a gated
	// deployment at Start.
	ErrNotApproved = errors.New("deployment not approved")
)
