package run

import (
	"slices"
	"time"

	"github.com/glizzus/cmdcron/internal/command"
)

// Record is one execution attempt of a command and its outcome.
type Record struct {
	ID          string
	CommandName string
	AppName     string
	// Arguments is the snapshot the run was launched with, which may
	// differ from the schedule's current arguments.
	Arguments command.Arguments
	StartedAt time.Time
	EndedAt   *time.Time
	Status    Status
	Output    string
}

// New returns a pending record started at now.
func New(id, commandName, appName string, args command.Arguments, now time.Time) Record {
	return Record{
		ID:          id,
		CommandName: commandName,
		AppName:     appName,
		Arguments:   args,
		StartedAt:   now,
		Status:      StatusPending,
	}
}

// Duration is EndedAt - StartedAt, or nil while the run is not terminal.
func (r Record) Duration() *time.Duration {
	if r.EndedAt == nil || !r.Status.Terminal() {
		return nil
	}
	d := r.EndedAt.Sub(r.StartedAt)
	if d < 0 {
		d = 0
	}
	return &d
}

// Update is a partial change to a record, applied by the repository in a
// single write. From restricts which current statuses the update may be
// applied to; an empty From applies regardless of status.
type Update struct {
	Status  *Status
	Output  *string
	EndedAt *time.Time
	From    []Status
}

// Start moves a pending record to Running with an initial output line.
func Start(output string) Update {
	st := StatusRunning
	return Update{Status: &st, Output: &output, From: st.Sources()}
}

// Progress replaces the output of a running record.
func Progress(output string) Update {
	return Update{Output: &output, From: []Status{StatusRunning}}
}

// Finish moves a record into a terminal status, stamping the end time.
// The status must be Success or Failure.
func Finish(status Status, output string, now time.Time) Update {
	return Update{Status: &status, Output: &output, EndedAt: &now, From: status.Sources()}
}

// Guard returns the statuses u may be applied to, or nil for any.
// A status change without an explicit From is guarded by the target's
// legal sources.
func (u Update) Guard() []Status {
	if len(u.From) > 0 || u.Status == nil {
		return u.From
	}
	return append(u.Status.Sources(), *u.Status)
}

// Apply returns r with u applied. It returns a *TransitionError if the
// record's current status is not allowed by u.Guard, or the status change
// is not a legal edge.
func (r Record) Apply(u Update) (Record, error) {
	if guard := u.Guard(); len(guard) > 0 && !slices.Contains(guard, r.Status) {
		to := r.Status
		if u.Status != nil {
			to = *u.Status
		}
		return r, &TransitionError{ID: r.ID, From: r.Status, To: to}
	}
	if u.Status != nil && *u.Status != r.Status && !r.Status.CanTransition(*u.Status) {
		return r, &TransitionError{ID: r.ID, From: r.Status, To: *u.Status}
	}

	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Output != nil {
		r.Output = *u.Output
	}
	if u.EndedAt != nil {
		end := *u.EndedAt
		if end.Before(r.StartedAt) {
			end = r.StartedAt
		}
		r.EndedAt = &end
	}
	return r, nil
}
