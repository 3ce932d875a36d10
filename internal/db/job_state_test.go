package db

import (
	"errors"
	"testing"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

func TestJobStateNext(t *testing.T) {
	tests := []struct {
		from  JobState
		event JobEvent
		want  JobState
		ok    bool
	}{
		{JobPending, EventClaim, JobClaimed, true},
		{JobPending, EventComplete, "", false},
		{JobPending, EventFail, "", false},
		{JobPending, EventReclaim, "", false},
		{JobClaimed, EventClaim, "", false},
		{JobClaimed, EventComplete, JobCompleted, true},
		{JobClaimed, EventFail, JobFailed, true},
		{JobClaimed, EventReclaim, JobPending, true},
		{JobCompleted, EventClaim, "", false},
		{JobCompleted, EventFail, "", false},
		{JobFailed, EventComplete, "", false},
		{JobFailed, EventReclaim, "", false},
		{JobState("processing"), EventClaim, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := tt.from.Next(tt.event)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tt.want {
					t.Errorf("Next() = %s, want %s", got, tt.want)
				}
				return
			}
			if !errors.Is(err, apperr.ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestEventFor(t *testing.T) {
	if e, err := EventFor(JobCompleted); err != nil || e != EventComplete {
		t.Errorf("EventFor(completed) = %s, %v", e, err)
	}
	if e, err := EventFor(JobFailed); err != nil || e != EventFail {
		t.Errorf("EventFor(failed) = %s, %v", e, err)
	}
	if _, err := EventFor(JobClaimed); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestJobStateTerminal(t *testing.T) {
	if JobPending.Terminal() || JobClaimed.Terminal() {
		t.Error("pending/claimed must not be terminal")
	}
	if !JobCompleted.Terminal() || !JobFailed.Terminal() {
		t.Error("completed/failed must be terminal")
	}
}
