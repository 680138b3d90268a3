package lock

import "errors"

// ErrLockTimeout is returned when a lock could not be acquired within
// the configured AcquireTimeout. Cancellation of the caller's context
// is reported as that context's own error instead. The guarded
// operation was not started; retrying is always safe.
var ErrLockTimeout = errors.New("arbor: lock acquisition timed out")
