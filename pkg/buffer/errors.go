package buffer

import "errors"

// ErrOutOfBuffers is the transient condition returned by Acquire when the
// pool's capacity is currently exhausted. Callers either back off and
// retry or, per §4.1, mark the data task that needed the buffer as
// expired instead of emitting.
var ErrOutOfBuffers = errors.New("buffer: out of buffers")

// ErrTooManyChildren is returned when a parent buffer has already reached
// its configured child-buffer budget (K) and cannot retain another.
var ErrTooManyChildren = errors.New("buffer: child buffer budget exceeded")

// ErrPoolClosed is returned by Acquire/AcquireBlocking once the pool has
// been shut down.
var ErrPoolClosed = errors.New("buffer: pool is closed")
