package blockscheduler

import (
	"fmt"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/foxxll-go/logger"
)

// Sentinel errors returned by Scheduler operations. Contract violations (calling an
// operation on a block in the wrong state, exhausting every resource the
// scheduler has no way to recover from) are fatal and never reach these —
// see logAndAbort below. These sentinels cover conditions a caller can
// reasonably handle: a bad ID, I/O failure, or an unknown block at lookup.
var (
	ErrUnknownBlock  = jerrors.New("blockscheduler: unknown swappable block id")
	ErrIOFailed      = jerrors.New("blockscheduler: external I/O failed")
	ErrNoTrace       = jerrors.New("blockscheduler: no prediction trace attached")
	ErrNotSimulating = jerrors.New("blockscheduler: current strategy is not simulating")
)

// SchedulerError wraps an operation name around an underlying cause.
type SchedulerError struct {
	Op  string
	Err error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("blockscheduler: %s: %v", e.Op, e.Err)
}

func (e *SchedulerError) Unwrap() error {
	return e.Err
}

func IsUnknownBlock(err error) bool {
	return jerrors.Cause(err) == ErrUnknownBlock
}

func IsIOFailure(err error) bool {
	return jerrors.Cause(err) == ErrIOFailed
}

// logAndAbort reports a violated invariant or an exhausted resource the
// scheduler has no recovery path for, and terminates the process. Every
// precondition check in scheduler.go routes through here.
func logAndAbort(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}
