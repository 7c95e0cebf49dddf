package handler

import (
	"errors"
	"net/http"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/schedule"
)

// UserError is an error type that is used to represent
// an error that should be displayed to the user.
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

var _ error = (*UserError)(nil)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		runNotFound      *repository.RunNotFoundError
		scheduleNotFound *repository.ScheduleNotFoundError
		unknownCommand   *command.UnknownCommandError
		validation       *schedule.ValidationError
		userErr          *UserError
	)
	// A ValidationError may wrap a lookup miss; it stays a bad request.
	switch {
	case errors.As(err, &validation), errors.As(err, &userErr):
		return http.StatusBadRequest
	case errors.As(err, &runNotFound), errors.As(err, &scheduleNotFound), errors.As(err, &unknownCommand):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
