package pulse

import (
	"errors"

	"github.com/pgvanniekerk/pulse/internal/thread"
)

// ErrorCode is the numeric status of a pool operation. It implements error so
// that ErrMaxThreadsReached can be returned and matched with errors.Is while
// still being convertible back to a code with CodeOf.
type ErrorCode int32

const (
	// ErrorUnknown is reported by CodeOf for errors that carry no ErrorCode.
	ErrorUnknown ErrorCode = -1

	// ErrorNone means the operation succeeded.
	ErrorNone ErrorCode = 0

	// ErrorMaxThreadsReached means Spawn found no free slot. No worker was
	// started; retrying is up to the caller.
	ErrorMaxThreadsReached ErrorCode = 1
)

// Describe returns the human-readable text for code. It never fails; codes it
// does not know map to a generic message.
func Describe(code ErrorCode) string {
	switch code {
	case ErrorNone:
		return "No error"
	case ErrorMaxThreadsReached:
		return "Pool reached maximum number of threads"
	}
	return "unknown error!"
}

// Error implements error.
func (c ErrorCode) Error() string {
	return Describe(c)
}

// CodeOf maps err to its ErrorCode: nil is ErrorNone, anything wrapping an
// ErrorCode yields that code, and every other error is ErrorUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorNone
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrorUnknown
}

// ErrMaxThreadsReached is returned by Spawn when every slot is occupied.
var ErrMaxThreadsReached error = ErrorMaxThreadsReached

// ErrInvalidHandle is returned by Join, Detach and Cancel when the handle does
// not refer to a live worker: it is the zero Handle, its slot has been
// released (and possibly reused), or another terminal operation already
// claimed it. Nothing is changed when it is returned.
var ErrInvalidHandle = errors.New("invalid or released worker handle")

// ErrNotFound is returned by the ByName helpers when no live worker has the name.
var ErrNotFound = errors.New("no worker with that name")

// ErrNilPool is returned by Spawn on a nil *Pool.
var ErrNilPool = errors.New("pool is nil")

// ErrNilWork is returned by Spawn when the work function is nil.
var ErrNilWork = errors.New("work function is nil")

// ErrWorkPanicked wraps the panic value of a work function, as returned by Join.
var ErrWorkPanicked = thread.ErrPanicked
