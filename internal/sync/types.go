package sync

import (
	"errors"
	"fmt"

	"github.com/dxtools/dxsync/internal/authoring"
)

// ItemError records one failed item in a run.
type ItemError struct {
	Path      string
	Err       error
	Retryable bool
}

// Summary is the authoritative result of a bulk run. Per-item errors
// aggregate here; they never fail the run as a whole.
type Summary struct {
	Kind      authoring.Kind
	Direction Direction
	Succeeded []string
	Failed    []ItemError
}

// Direction of a bulk run.
type Direction int

const (
	// DirectionPull transfers remote artifacts to the working directory.
	DirectionPull Direction = iota
	// DirectionPush transfers local artifacts to the service.
	DirectionPush
)

func (d Direction) String() string {
	if d == DirectionPush {
		return "pushed"
	}

	return "pulled"
}

// Merge folds another summary into s.
func (s *Summary) Merge(other *Summary) {
	s.Succeeded = append(s.Succeeded, other.Succeeded...)
	s.Failed = append(s.Failed, other.Failed...)
}

// Format renders the user-visible partial-success line.
func (s *Summary) Format() string {
	return fmt.Sprintf("%d artifacts successfully %s, %d errors",
		len(s.Succeeded), s.Direction, len(s.Failed))
}

// retryableError marks an item error the bulk driver may re-enqueue
// for a later pass within the same run.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// markRetryable wraps err so IsRetryable reports true.
func markRetryable(err error) error {
	if err == nil {
		return nil
	}

	return &retryableError{err: err}
}

// IsRetryable reports whether an item error was marked for a deferred
// retry pass.
func IsRetryable(err error) bool {
	var re *retryableError

	return errors.As(err, &re)
}
