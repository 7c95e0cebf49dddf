package run

import "time"

// PreviewLimit is the number of output characters in a status preview.
const PreviewLimit = 500

// StatusPayload is the polling view of a run record.
type StatusPayload struct {
	ID            string         `json:"id"`
	CommandName   string         `json:"command_name"`
	Status        string         `json:"status"`
	StatusCode    string         `json:"status_code"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Duration      *time.Duration `json:"-"`
	DurationText  string         `json:"duration,omitempty"`
	HasOutput     bool           `json:"has_output"`
	OutputPreview string         `json:"output_preview,omitempty"`
}

// NewStatusPayload summarizes r for status queries.
func NewStatusPayload(r Record) StatusPayload {
	p := StatusPayload{
		ID:            r.ID,
		CommandName:   r.CommandName,
		Status:        r.Status.Display(),
		StatusCode:    r.Status.Code(),
		StartedAt:     r.StartedAt,
		HasOutput:     r.Output != "",
		OutputPreview: Preview(r.Output),
	}
	if r.Status.Terminal() {
		p.EndedAt = r.EndedAt
		p.Duration = r.Duration()
		if p.Duration != nil {
			p.DurationText = p.Duration.String()
		}
	}
	return p
}

// Preview returns the first PreviewLimit characters of output, suffixed
// with "..." when anything was cut.
func Preview(output string) string {
	runes := []rune(output)
	if len(runes) <= PreviewLimit {
		return output
	}
	return string(runes[:PreviewLimit]) + "..."
}
