package assess

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// Session usage errors returned by the action methods.
var (
	ErrNotInProgress  = errors.New("attempt is not in progress")
	ErrNotStartable   = errors.New("assessment cannot be started right now")
	ErrNotVisited     = errors.New("question has not been visited yet")
	ErrNotRetryable   = errors.New("nothing to retry")
	ErrSessionClosed  = errors.New("session is closed")
	ErrWrongPhase     = errors.New("operation not allowed in the current phase")
	ErrNotCurrentItem = errors.New("only the current question can be answered")
)

// ValidationError reports malformed assessment data or an invalid selection.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NetworkError is a transient transport failure. Answer persistence retries it; finalize
// surfaces it as a retryable ERRORED phase.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConflictError means the server already holds a different state (attempt completed or
// finalized concurrently). It is resolved by adopting the server's state.
type ConflictError struct {
	AttemptID uuid.UUID
	Summary   *model.ResultSummary
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on attempt %s: %s", e.AttemptID, e.Reason)
}

// NotFoundError is terminal: the assessment or attempt no longer exists.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// AsConflict unwraps a ConflictError.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
