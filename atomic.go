package multirepo

import "context"

// AtomicOp accumulates rollback steps as a multi-step operation succeeds,
// and executes them in reverse order if the operation is abandoned without
// being committed. Registry.Open uses it to drop a newly registered child
// from the outer Children map and the registry cache; it does not delete
// anything on disk, and a failing open hook is not rolled back.
type AtomicOp struct {
	undoSteps []func(ctx context.Context) error
	committed bool
}

// NewAtomicOp starts a fresh rollback accumulator.
func NewAtomicOp() *AtomicOp {
	return &AtomicOp{}
}

// AddUndo registers a rollback step. Steps run in reverse (most-recent-first)
// order on Rollback.
func (op *AtomicOp) AddUndo(fn func(ctx context.Context) error) {
	op.undoSteps = append(op.undoSteps, fn)
}

// Commit marks the operation successful; Rollback becomes a no-op after this.
func (op *AtomicOp) Commit() {
	op.committed = true
}

// Rollback executes every undo step in reverse order, continuing past
// individual failures and returning the first error encountered. A no-op
// if Commit was already called.
func (op *AtomicOp) Rollback(ctx context.Context) error {
	if op.committed {
		return nil
	}
	var firstErr error
	for i := len(op.undoSteps) - 1; i >= 0; i-- {
		if err := op.undoSteps[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
