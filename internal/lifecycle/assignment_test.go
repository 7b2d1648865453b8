package lifecycle

import (
	"errors"
	"testing"

	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

func activeAssignment(completed int) models.PackageAssignment {
	a := models.PackageAssignment{
		ID:     "PA-001",
		Status: models.AssignmentStatusActive,
		Services: []models.PackageService{
			{ServiceID: "S1"}, {ServiceID: "S2"}, {ServiceID: "S3"}, {ServiceID: "S4"}, {ServiceID: "S5"},
		},
	}
	for i := 0; i < completed; i++ {
		a.CompletedServices = append(a.CompletedServices, models.CompletedService{ServiceID: a.Services[i].ServiceID})
	}
	return a
}

func TestTransitionAssignmentCancelRequiresVerification(t *testing.T) {
	e := testEngine()
	a := activeAssignment(3)

	tests := []struct {
		name    string
		fields  Fields
		missing []Field
	}{
		{"nothing supplied", Fields{}, []Field{FieldCancellationReason, FieldVerifiedCancellation}},
		{"reason only", Fields{Reason: "customer request"}, []Field{FieldVerifiedCancellation}},
		{"verified without reason", Fields{Reason: "  ", CancellationVerified: true}, []Field{FieldCancellationReason}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.TransitionAssignment(a, models.AssignmentStatusCancelled, "", tt.fields)
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FieldError", err)
			}
			if len(fe.Missing) != len(tt.missing) {
				t.Fatalf("missing = %v, want %v", fe.Missing, tt.missing)
			}
			for i := range tt.missing {
				if fe.Missing[i] != tt.missing[i] {
					t.Errorf("missing[%d] = %s, want %s", i, fe.Missing[i], tt.missing[i])
				}
			}
		})
	}

	next, err := e.TransitionAssignment(a, models.AssignmentStatusCancelled, "", Fields{Reason: "customer request", CancellationVerified: true})
	if err != nil {
		t.Fatalf("verified cancel: %v", err)
	}
	if next.Status != models.AssignmentStatusCancelled || next.CancellationReason != "customer request" {
		t.Errorf("assignment = %+v", next)
	}
	if len(next.StatusHistory) != 1 || next.StatusHistory[0].Note != "customer request" {
		t.Errorf("history = %+v", next.StatusHistory)
	}
	if a.Status != models.AssignmentStatusActive {
		t.Error("input assignment mutated")
	}
}

func TestTransitionAssignmentRefusesCancelWhenComplete(t *testing.T) {
	e := testEngine()
	_, err := e.TransitionAssignment(activeAssignment(5), models.AssignmentStatusCancelled, "", Fields{Reason: "x", CancellationVerified: true})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionAssignmentTerminal(t *testing.T) {
	e := testEngine()
	for _, s := range []models.AssignmentStatus{models.AssignmentStatusCompleted, models.AssignmentStatusCancelled, models.AssignmentStatusExpired} {
		a := activeAssignment(1)
		a.Status = s
		for _, target := range models.AssignmentStatuses {
			_, err := e.TransitionAssignment(a, target, "", Fields{Reason: "x", CancellationVerified: true})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: err = %v, want ErrInvalidTransition", s, target, err)
			}
		}
	}
}

func TestTransitionAssignmentComplete(t *testing.T) {
	e := testEngine()
	next, err := e.TransitionAssignment(activeAssignment(5), models.AssignmentStatusCompleted, "", Fields{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.StatusHistory[0].Note != "Status updated to Completed" {
		t.Errorf("note = %q", next.StatusHistory[0].Note)
	}

	if _, err := e.TransitionAssignment(activeAssignment(1), models.AssignmentStatusActive, "", Fields{}); !errors.Is(err, ErrNoChange) {
		t.Errorf("err = %v, want ErrNoChange", err)
	}
}

func TestCompletionPercentage(t *testing.T) {
	tests := []struct {
		completed int
		want      int
	}{
		{0, 0}, {1, 20}, {3, 60}, {5, 100},
	}
	for _, tt := range tests {
		if got := activeAssignment(tt.completed).CompletionPercentage(); got != tt.want {
			t.Errorf("completion with %d done = %d, want %d", tt.completed, got, tt.want)
		}
	}
	if got := (models.PackageAssignment{}).CompletionPercentage(); got != 0 {
		t.Errorf("empty package completion = %d, want 0", got)
	}
}
