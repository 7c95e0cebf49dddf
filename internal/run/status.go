package run

import (
	"fmt"
	"slices"
	"strings"
)

// Status is the lifecycle state of a run record.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// transitions lists the legal edges of the state machine.
//
// Pending -> Failure exists only for the cases where recording the
// Running state itself failed or the launcher panicked, so no child
// process was attempted.
// A run observed as Running always had a spawn attempt in flight.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailure},
	StatusRunning: {StatusSuccess, StatusFailure},
}

// CanTransition reports whether moving from s to to is a legal edge.
func (s Status) CanTransition(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// Sources returns every status that may legally move to s.
func (s Status) Sources() []Status {
	var from []Status
	for src, dsts := range transitions {
		if slices.Contains(dsts, s) {
			from = append(from, src)
		}
	}
	slices.Sort(from)
	return from
}

// Terminal reports whether s is Success or Failure.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Code is the one letter status code used by status payloads.
func (s Status) Code() string {
	switch s {
	case StatusPending:
		return "P"
	case StatusRunning:
		return "R"
	case StatusSuccess:
		return "S"
	case StatusFailure:
		return "F"
	default:
		return "?"
	}
}

// Display is the human readable status name.
func (s Status) Display() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	default:
		return string(s)
	}
}

// ParseStatus accepts a status name in any case or its one-letter code.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusPending, StatusRunning, StatusSuccess, StatusFailure} {
		if strings.EqualFold(s, string(st)) || strings.EqualFold(s, st.Code()) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown run status %q", s)
}

// TransitionError is returned when an update would take a record along
// an edge the state machine does not allow.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("run %s cannot move from %s to %s", e.ID, e.From, e.To)
}

var _ error = (*TransitionError)(nil)
