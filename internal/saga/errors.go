package saga

import (
	"errors"
	"fmt"
	"strings"
)

type ValidationKind string

const (
	MalformedMetadata ValidationKind = "MalformedMetadata"
	CountMismatch     ValidationKind = "CountMismatch"
	MissingTitle      ValidationKind = "MissingTitle"
	TooManySegments   ValidationKind = "TooManySegments"
)

// The rejection of a creation request before anything was written.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

var (
	// The uniform failure reported for every run that did not commit.
	ErrStoryNotCreated = errors.New("story could not be created")
	// A run with the same idempotency key has not finished yet.
	ErrRunInProgress = errors.New("story creation already in progress")
)

// The failure of a saga run. It matches ErrStoryNotCreated and unwraps to the
// step error that aborted the run.
type Error struct {
	FailedAt Phase   // Phase the run was in when the step failed.
	Phase    Phase   // Terminal phase after compensation.
	History  []Phase // Every phase the run went through, in order.
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: failed while %s, ended %s: %v", ErrStoryNotCreated, e.FailedAt, e.Phase, e.Cause)
}

func (e *Error) Unwrap() []error { return []error{ErrStoryNotCreated, e.Cause} }

// A cleanup step that did not succeed during compensation.
type CompensationFailure struct {
	Step    string
	StoryID string
	Keys    []string
	Err     error
}

func (f *CompensationFailure) Error() string {
	if len(f.Keys) > 0 {
		return fmt.Sprintf("compensation step %s failed for story %s (keys %s): %v", f.Step, f.StoryID, strings.Join(f.Keys, ","), f.Err)
	}
	return fmt.Sprintf("compensation step %s failed for story %s: %v", f.Step, f.StoryID, f.Err)
}

func (f *CompensationFailure) Unwrap() error { return f.Err }

// Compensation finished without restoring a consistent state. Objects or the
// story row may be left behind and need manual remediation.
type SagaFatal struct {
	StoryID     string
	OrphanKeys  []string
	OrphanStory bool
}

func (e *SagaFatal) Error() string {
	return fmt.Sprintf("saga for story %s left %d orphaned objects (story row left: %t)", e.StoryID, len(e.OrphanKeys), e.OrphanStory)
}
