// Package errs defines the domain error kinds shared by every component
// (§7): BadExpression, InvalidTransition, NotReady, StoreFailure,
// CacheFailure, QueueFailure and DuplicateTask.
package errs

import "github.com/friendsofgo/errors"

var (
	// ErrBadExpression: a param inliner failed to evaluate or referenced
	// an unknown name.
	ErrBadExpression = errors.New("bad expression")
	// ErrInvalidTransition: an operation was attempted in a disallowed
	// state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotReady: predecessors not yet terminal. Not a true error; §7
	// calls this benign, returned as a plain false by the state machine,
	// but it is still useful as a sentinel for callers that want to
	// distinguish it from a hard failure.
	ErrNotReady = errors.New("not ready")
	// ErrStoreFailure: a database error.
	ErrStoreFailure = errors.New("store failure")
	// ErrCacheFailure: cache unreachable or update collision budget
	// exceeded.
	ErrCacheFailure = errors.New("cache failure")
	// ErrQueueFailure: task submission rejected for reasons other than a
	// duplicate name.
	ErrQueueFailure = errors.New("queue failure")
	// ErrDuplicateTask: the queue rejected a duplicate task name; treated
	// as success by the caller (see dispatch.RedisQueue.Enqueue).
	ErrDuplicateTask = errors.New("duplicate task")
)

func WrapBadExpression(cause error, expr string) error {
	return errors.Wrapf(ErrBadExpression, "%s: %s", expr, cause.Error())
}

// WrapStoreFailure wraps cause as ErrStoreFailure, passing nil through
// unchanged so callers may use it directly on a just-returned error.
func WrapStoreFailure(cause error) error {
	if cause == nil {
		return nil
	}
	return errors.Wrap(ErrStoreFailure, cause.Error())
}

func WrapCacheFailure(cause error) error {
	if cause == nil {
		return nil
	}
	return errors.Wrap(ErrCacheFailure, cause.Error())
}

func WrapQueueFailure(cause error) error {
	if cause == nil {
		return nil
	}
	return errors.Wrap(ErrQueueFailure, cause.Error())
}
