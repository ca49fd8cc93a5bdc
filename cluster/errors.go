package cluster

import "errors"

// Error kinds surfaced by cluster operations. Wrap sites attach context with
// fmt.Errorf and %w; callers classify with errors.Is. Nonzero remote or
// build-tool exits are not sentinels, they are *process.ExitError values
// carrying the exit code and both captured streams.
var (
	// ErrInvalidArgument marks caller mistakes detected before any side
	// effect, such as a missing local source file or an installer file
	// destination outside the installer mount root.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflictingResource marks a container name collision that persisted
	// through the create retries.
	ErrConflictingResource = errors.New("conflicting resource")

	// ErrAuthenticationFailure marks an SSH handshake the member rejected.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrUnreachableHost marks a member or daemon that could not be
	// contacted at all.
	ErrUnreachableHost = errors.New("unreachable host")

	// ErrInconsistentState marks a provisioning postcondition that did not
	// hold, such as an expected container that never appeared.
	ErrInconsistentState = errors.New("inconsistent state")
)
