package schedule

import (
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"
)

// NextRunTimesAfter returns the next N run times after a specific time.
// It returns an error if the cron expression is invalid or if count is less than 1.
func NextRunTimesAfter(cron string, after time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, fmt.Errorf("count must be greater than 0")
	}
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return nil, err
	}
	return expr.NextN(after, uint(n)), nil
}

// ValidateCron checks a full cron line.
func ValidateCron(cron string) error {
	_, err := cronexpr.Parse(cron)
	if err != nil {
		return &ValidationError{Field: "expression", Value: cron, Reason: err.Error()}
	}
	return nil
}

// Validate parses the three schedule fields and cross-checks the composed
// line, returning a *ValidationError (or several joined) on failure.
func Validate(minute, hour, day string) (Spec, error) {
	spec, err := ParseSpec(minute, hour, day)
	if err != nil {
		return Spec{}, err
	}
	if err := ValidateCron(spec.CronLine()); err != nil {
		return Spec{}, err
	}
	return spec, nil
}
