package db

import (
	"fmt"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

// JobState is the lifecycle state of a SyncJob.
//
// State transitions:
//
//	Pending -> Claimed:    claim
//	Claimed -> Completed:  complete
//	Claimed -> Failed:     fail
//	Claimed -> Pending:    reclaim (stale claim timeout)
//
// Completed and Failed are terminal.
type JobState string

const (
	JobPending   JobState = "pending"
	JobClaimed   JobState = "claimed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobEvent drives a JobState transition.
type JobEvent string

const (
	EventClaim    JobEvent = "claim"
	EventComplete JobEvent = "complete"
	EventFail     JobEvent = "fail"
	EventReclaim  JobEvent = "reclaim"
)

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	switch s {
	case JobPending, JobClaimed, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Next returns the state reached by applying e to s.
func (s JobState) Next(e JobEvent) (JobState, error) {
	switch s {
	case JobPending:
		switch e {
		case EventClaim:
			return JobClaimed, nil
		}
	case JobClaimed:
		switch e {
		case EventComplete:
			return JobCompleted, nil
		case EventFail:
			return JobFailed, nil
		case EventReclaim:
			return JobPending, nil
		}
	case JobCompleted, JobFailed:
	default:
		return "", fmt.Errorf("%w: unknown job state %q", apperr.ErrInvalidTransition, s)
	}
	return "", fmt.Errorf("%w: %s on %s job", apperr.ErrInvalidTransition, e, s)
}

// EventFor maps a reported outcome to its transition event.
func EventFor(outcome JobState) (JobEvent, error) {
	switch outcome {
	case JobCompleted:
		return EventComplete, nil
	case JobFailed:
		return EventFail, nil
	}
	return "", apperr.Validation(fmt.Sprintf("outcome must be %q or %q", JobCompleted, JobFailed))
}
