package order

import (
	"errors"
	"testing"

	"ridecore/internal/apperr"
)

func TestTransitionTableExhaustive(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusRequested, StatusAccepted}:  true,
		{StatusRequested, StatusCancelled}: true,
		{StatusAccepted, StatusArrived}:    true,
		{StatusAccepted, StatusCancelled}:  true,
		{StatusArrived, StatusStarted}:     true,
		{StatusArrived, StatusCancelled}:   true,
		{StatusStarted, StatusCompleted}:   true,
		{StatusStarted, StatusCancelled}:   true,
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			err := ValidateTransition(from, to)
			if want && err != nil {
				t.Errorf("ValidateTransition(%s, %s) = %v", from, to, err)
			}
			if !want {
				var te *apperr.TransitionError
				if !errors.As(err, &te) || te.From != string(from) || te.To != string(to) {
					t.Errorf("ValidateTransition(%s, %s) = %v, want TransitionError", from, to, err)
				}
				if !errors.Is(err, apperr.ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition for %s -> %s", from, to)
				}
			}
		}
	}
}

func TestNextStatus(t *testing.T) {
	chain := []Status{StatusRequested, StatusAccepted, StatusArrived, StatusStarted, StatusCompleted}
	for i := 0; i < len(chain)-1; i++ {
		got, err := NextStatus(chain[i])
		if err != nil || got != chain[i+1] {
			t.Fatalf("NextStatus(%s) = %s, %v", chain[i], got, err)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if _, err := NextStatus(s); !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("NextStatus(%s) expected invalid transition, got %v", s, err)
		}
	}
}

func TestBoundStatuses(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusAccepted || s == StatusArrived || s == StatusStarted || s == StatusCompleted
		if s.Bound() != want {
			t.Errorf("%s.Bound() = %v", s, s.Bound())
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	d := "d1"
	o := &Order{ID: "o1", DriverID: idPtr(d)}
	c := o.Clone()
	*c.DriverID = "d2"
	if *o.DriverID != "d1" {
		t.Fatalf("clone shares driver pointer")
	}
}

func TestInvalidTransitionSentinel(t *testing.T) {
	err := ValidateTransition(StatusCompleted, StatusArrived)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("invalid transition must not read as a conflict: %v", err)
	}
}
