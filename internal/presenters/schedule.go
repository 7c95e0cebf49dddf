package presenters

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/repository"
)

const NoSchedulesFound = "No schedules found"

type ScheduleResponse struct {
	CommandName string            `json:"command_name"`
	AppName     string            `json:"app_name"`
	Minute      string            `json:"minute"`
	Hour        string            `json:"hour"`
	Day         string            `json:"day"`
	Cron        string            `json:"cron"`
	Active      bool              `json:"active"`
	Arguments   command.Arguments `json:"arguments"`
	NextRuns    []time.Time       `json:"next_runs,omitempty"`
}

func BuildScheduleResponse(s repository.Schedule, nextRuns []time.Time) ScheduleResponse {
	args := s.Arguments
	if args == nil {
		args = command.Arguments{}
	}
	return ScheduleResponse{
		CommandName: s.CommandName,
		AppName:     s.AppName,
		Minute:      s.Minute,
		Hour:        s.Hour,
		Day:         s.Day,
		Cron:        s.Expression(),
		Active:      s.Active,
		Arguments:   args,
		NextRuns:    nextRuns,
	}
}

func BuildListSchedulesResponse(schedules []repository.Schedule) []ScheduleResponse {
	out := make([]ScheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, BuildScheduleResponse(s, nil))
	}
	return out
}

// WriteSchedulesTable renders schedules as an aligned text table.
func WriteSchedulesTable(w io.Writer, schedules []repository.Schedule) error {
	if len(schedules) == 0 {
		_, err := fmt.Fprintln(w, NoSchedulesFound)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMAND\tAPP\tCRON\tACTIVE\tARGUMENTS")
	for _, s := range schedules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.CommandName,
			dash(s.AppName),
			s.Expression(),
			yesNo(s.Active),
			dash(strings.Join(command.Build(s.CommandName, s.Arguments)[1:], " ")),
		)
	}
	return tw.Flush()
}

// WriteArgumentSchema renders the arguments a command accepts.
func WriteArgumentSchema(w io.Writer, name string, specs []command.ArgumentSpec) error {
	if len(specs) == 0 {
		_, err := fmt.Fprintf(w, "%s takes no arguments\n", name)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARGUMENT\tTYPE\tREQUIRED\tDEFAULT\tHELP")
	for _, a := range specs {
		def := "-"
		if a.Default != nil {
			def = fmt.Sprint(a.Default)
		}
		help := a.Help
		if len(a.Choices) > 0 {
			help = strings.TrimSpace(help + " (one of " + strings.Join(a.Choices, ", ") + ")")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Name, dash(a.Type), yesNo(a.Required), def, dash(help))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
