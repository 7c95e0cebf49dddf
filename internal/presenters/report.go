package presenters

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/glizzus/cmdcron/internal/engine"
)

func WriteSyncReport(w io.Writer, r engine.SyncReport, createMissing bool) error {
	var b strings.Builder
	if len(r.Missing) == 0 {
		b.WriteString("Every catalog command has a schedule.\n")
	} else {
		fmt.Fprintf(&b, "Commands without a schedule (%d):\n", len(r.Missing))
		for _, name := range r.Missing {
			fmt.Fprintf(&b, "  %s\n", name)
		}
		if createMissing {
			fmt.Fprintf(&b, "Created %d inactive schedule(s).\n", len(r.Created))
		} else {
			b.WriteString("Run with --create-missing to create them.\n")
		}
	}
	if len(r.Obsolete) > 0 {
		fmt.Fprintf(&b, "Schedules whose command left the catalog (%d):\n", len(r.Obsolete))
		for _, name := range r.Obsolete {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func WritePruneReport(w io.Writer, r engine.PruneReport, dryRun bool) error {
	var b strings.Builder
	cutoff := r.Cutoff.Format(time.DateTime)
	switch {
	case r.Matched == 0:
		fmt.Fprintf(&b, "No finished runs started before %s.\n", cutoff)
	case dryRun:
		fmt.Fprintf(&b, "Would delete %d run(s) started before %s.\n", r.Matched, cutoff)
		for _, s := range r.Samples {
			fmt.Fprintf(&b, "  %s  %s  %s  %s\n", s.ID, s.CommandName, s.Status.Display(), s.StartedAt.Format(time.DateTime))
		}
		if r.Matched > len(r.Samples) {
			fmt.Fprintf(&b, "  ... and %d more\n", r.Matched-len(r.Samples))
		}
	default:
		fmt.Fprintf(&b, "Deleted %d run(s) started before %s.\n", r.Deleted, cutoff)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
