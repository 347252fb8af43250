package multirepo

import (
	"errors"
	"fmt"
)

// UserError is an expected, fully recoverable failure. It renders as its
// message alone -- no stack, no wrapped internals -- because the cause is
// something the caller can act on: a dirty tree, an unresolvable commit-ish,
// a missing remote, an invalid path argument.
type UserError struct {
	msg string
}

func NewUserError(format string, args ...any) *UserError {
	return &UserError{msg: fmt.Sprintf(format, args...)}
}

func (e *UserError) Error() string { return e.msg }

// InvalidRepoShape reports a violated AST constructor precondition (§3 of
// the spec). It is only ever raised by the AST/Bridge layer.
type InvalidRepoShape struct {
	Detail string
}

func (e *InvalidRepoShape) Error() string {
	return fmt.Sprintf("invalid repo shape: %s", e.Detail)
}

// InvalidShorthand reports a shorthand-grammar parse failure, with the byte
// offset of the failure and a human-readable reason.
type InvalidShorthand struct {
	Position int
	Reason   string
}

func (e *InvalidShorthand) Error() string {
	return fmt.Sprintf("invalid shorthand at %d: %s", e.Position, e.Reason)
}

// StoreError wraps a failure from the underlying object store (go-git, or a
// shelled-out git/gh process). Nothing reclassifies it: the orchestrator
// returns non-conflict errors unchanged, and the CLI's pull wraps a failed
// fetch as a StoreError, so it renders as an internal failure.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConflictError is a structured, non-terminal signal: the cross-repo
// operation has paused with conflicts recorded at the given outer paths.
// The caller persists SequencerState and exits non-zero; it is not a
// terminal failure of the process.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict at: %v", e.Paths)
}

// Sentinel errors for common, specifically-checked conditions, in the
// teacher's style (worktree.go's ErrRepoNotInitialized et al.).
var (
	ErrChildNotFound       = errors.New("child repository not declared")
	ErrChildClosed         = errors.New("child repository is closed")
	ErrChildAlreadyOpen    = errors.New("child repository already open")
	ErrNoSequencer         = errors.New("no sequencer in progress")
	ErrSequencerInProgress = errors.New("a sequencer is already in progress")
	ErrDirtyTree           = errors.New("outer or child tree is not clean")
	ErrFastForwardOnly     = errors.New("merge requires fast-forward and cannot fast-forward")
)

// AsConflict reports whether err is (or wraps) a *ConflictError.
func AsConflict(err error) (*ConflictError, bool) {
	var c *ConflictError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// AsStoreError reports whether err is (or wraps) a *StoreError.
func AsStoreError(err error) (*StoreError, bool) {
	var s *StoreError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
