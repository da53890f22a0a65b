package database

import (
	"errors"
	"fmt"
)

// Sentinel errors every higher-level package (alter, grid, search,
// workers) wraps its own failures around, so callers can branch on
// errors.Is regardless of which component produced the error.
var (
	// ErrParse marks a failure to parse stored or supplied SQL.
	ErrParse = errors.New("sql parse error")
	// ErrLockConflict marks an operation refused because the target (or
	// something in its dependency closure) is already locked.
	ErrLockConflict = errors.New("schema item is locked")
	// ErrExecution marks a failure executing SQL against the database.
	ErrExecution = errors.New("sql execution error")
	// ErrIntegrity marks a foreign-key or NOT NULL/CHECK constraint
	// violation surfaced during a rebuild or a grid commit.
	ErrIntegrity = errors.New("integrity constraint violation")
	// ErrCancelled marks a long-running operation (a background worker, a
	// bulk grid commit) stopped by caller request rather than failure.
	ErrCancelled = errors.New("operation cancelled")
)

// WrapParse wraps err with ErrParse and sql/name context.
func WrapParse(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", name, ErrParse, err)
}

// WrapExecution wraps err with ErrExecution and statement context.
func WrapExecution(stmt string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("executing %q: %w: %w", stmt, ErrExecution, err)
}

// WrapIntegrity wraps err with ErrIntegrity.
func WrapIntegrity(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", context, ErrIntegrity, err)
}

// LockConflictError reports which item is already locked and by whom.
type LockConflictError struct {
	Category, Name string
	HeldBy         string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("%s %q is locked by %s", e.Category, e.Name, e.HeldBy)
}

func (e *LockConflictError) Unwrap() error { return ErrLockConflict }
