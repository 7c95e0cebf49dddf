package presenters

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/run"
)

const NoRunsFound = "No runs found"

type RunResponse struct {
	ID          string            `json:"id"`
	CommandName string            `json:"command_name"`
	AppName     string            `json:"app_name,omitempty"`
	Arguments   command.Arguments `json:"arguments"`
	Status      string            `json:"status"`
	StatusCode  string            `json:"status_code"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	Duration    string            `json:"duration,omitempty"`
	Output      string            `json:"output"`
}

func BuildRunResponse(r run.Record) RunResponse {
	args := r.Arguments
	if args == nil {
		args = command.Arguments{}
	}
	resp := RunResponse{
		ID:          r.ID,
		CommandName: r.CommandName,
		AppName:     r.AppName,
		Arguments:   args,
		Status:      r.Status.Display(),
		StatusCode:  r.Status.Code(),
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Output:      r.Output,
	}
	if d := r.Duration(); d != nil {
		resp.Duration = d.String()
	}
	return resp
}

// BuildListRunsResponse omits output; it is fetched per run.
func BuildListRunsResponse(runs []run.Record) []RunResponse {
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		resp := BuildRunResponse(r)
		resp.Output = ""
		out = append(out, resp)
	}
	return out
}

func WriteRunsTable(w io.Writer, runs []run.Record) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, NoRunsFound)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMMAND\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if d := r.Duration(); d != nil {
			duration = d.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.CommandName,
			r.Status.Display(),
			r.StartedAt.Format(time.DateTime),
			duration,
		)
	}
	return tw.Flush()
}

// WriteStatus renders a status payload the way an operator polls it.
func WriteStatus(w io.Writer, p run.StatusPayload) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s\n", p.ID)
	fmt.Fprintf(&b, "Command:  %s\n", p.CommandName)
	fmt.Fprintf(&b, "Status:   %s (%s)\n", p.Status, p.StatusCode)
	fmt.Fprintf(&b, "Started:  %s\n", p.StartedAt.Format(time.DateTime))
	if p.EndedAt != nil {
		fmt.Fprintf(&b, "Ended:    %s\n", p.EndedAt.Format(time.DateTime))
	}
	if p.DurationText != "" {
		fmt.Fprintf(&b, "Duration: %s\n", p.DurationText)
	}
	if p.HasOutput {
		fmt.Fprintf(&b, "\n%s\n", p.OutputPreview)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
