package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"blocked is valid", TaskStatusBlocked, true},
		{"assigned is valid", TaskStatusAssigned, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"cancelled is valid", TaskStatusCancelled, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"pending to assigned", TaskStatusPending, TaskStatusAssigned, true},
		{"pending to blocked", TaskStatusPending, TaskStatusBlocked, true},
		{"pending to in_progress skips assignment", TaskStatusPending, TaskStatusInProgress, false},
		{"blocked to pending", TaskStatusBlocked, TaskStatusPending, true},
		{"blocked to failed", TaskStatusBlocked, TaskStatusFailed, true},
		{"assigned to in_progress", TaskStatusAssigned, TaskStatusInProgress, true},
		{"assigned back to pending on requeue", TaskStatusAssigned, TaskStatusPending, true},
		{"in_progress to completed", TaskStatusInProgress, TaskStatusCompleted, true},
		{"in_progress to failed", TaskStatusInProgress, TaskStatusFailed, true},
		{"in_progress to pending on retry", TaskStatusInProgress, TaskStatusPending, true},
		{"any non-terminal to cancelled", TaskStatusAssigned, TaskStatusCancelled, true},
		{"completed is terminal", TaskStatusCompleted, TaskStatusPending, false},
		{"failed is terminal", TaskStatusFailed, TaskStatusPending, false},
		{"cancelled is terminal", TaskStatusCancelled, TaskStatusAssigned, false},
		{"completed cannot be cancelled", TaskStatusCompleted, TaskStatusCancelled, false},
		{"invalid target rejected", TaskStatusPending, TaskStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []TaskStatus{TaskStatusPending, TaskStatusBlocked, TaskStatusAssigned, TaskStatusInProgress}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTask_Clone(t *testing.T) {
	now := time.Now()
	task := &Task{
		ID:                 "t1",
		RequiredCapability: CapabilityCode,
		DependsOn:          []string{"t0"},
		Input:              []byte(`{"complexity":3}`),
		AssignedAt:         &now,
	}

	clone := task.Clone()
	clone.DependsOn[0] = "other"
	clone.Input[2] = 'x'

	if task.DependsOn[0] != "t0" {
		t.Error("Clone should deep-copy DependsOn")
	}
	if string(task.Input) != `{"complexity":3}` {
		t.Error("Clone should deep-copy Input")
	}
	if clone.AssignedAt == task.AssignedAt {
		t.Error("Clone should copy AssignedAt pointer")
	}
}
