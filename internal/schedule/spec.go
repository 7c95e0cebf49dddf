package schedule

import (
	"errors"
	"fmt"
	"time"
)

// maxLookbackDays bounds the due instant search. A day-of-month field
// always matches at least once within two months, so a year is plenty.
const maxLookbackDays = 366

// Spec is the parsed minute/hour/day-of-month triple of a schedule.
// Month and day-of-week are always "*".
type Spec struct {
	Minute Field
	Hour   Field
	Day    Field
}

// ParseSpec parses and validates the three cron fields of a schedule.
// All invalid fields are reported, joined into one error.
func ParseSpec(minute, hour, day string) (Spec, error) {
	m, merr := ParseField(Minute, minute)
	h, herr := ParseField(Hour, hour)
	d, derr := ParseField(DayOfMonth, day)
	if err := errors.Join(merr, herr, derr); err != nil {
		return Spec{}, err
	}
	return Spec{Minute: m, Hour: h, Day: d}, nil
}

// Matches reports whether all three fields match t, truncated to the minute.
func (s Spec) Matches(t time.Time) bool {
	return s.Minute.Matches(t.Minute()) &&
		s.Hour.Matches(t.Hour()) &&
		s.Day.Matches(t.Day())
}

// IsDue reports whether the schedule fires in the minute containing now.
func (s Spec) IsDue(now time.Time) bool {
	return s.Matches(now)
}

// DueInstant returns the latest minute at or before now for which all
// fields match. The boolean is false if no such minute exists within
// the lookback window.
func (s Spec) DueInstant(now time.Time) (time.Time, bool) {
	now = TruncateMinute(now)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for i := 0; i <= maxLookbackDays; i++ {
		if s.Day.Matches(day.Day()) {
			startHour := 23
			if i == 0 {
				startHour = now.Hour()
			}
			for h := startHour; h >= 0; h-- {
				if !s.Hour.Matches(h) {
					continue
				}
				startMinute := 59
				if i == 0 && h == now.Hour() {
					startMinute = now.Minute()
				}
				for m := startMinute; m >= 0; m-- {
					if s.Minute.Matches(m) {
						return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), true
					}
				}
			}
		}
		day = day.AddDate(0, 0, -1)
	}
	return time.Time{}, false
}

// Expression renders the schedule as a five-field cron line using the
// fields as written.
func (s Spec) Expression() string {
	return fmt.Sprintf("%s %s %s * *", s.Minute, s.Hour, s.Day)
}

// CronLine renders the schedule as a five-field cron line with every
// field expanded to explicit values, so other cron implementations
// agree with Matches on step semantics.
func (s Spec) CronLine() string {
	return fmt.Sprintf("%s %s %s * *", s.Minute.canonical(), s.Hour.canonical(), s.Day.canonical())
}

// NextRunTimes returns the next n fire times strictly after after.
func (s Spec) NextRunTimes(after time.Time, n int) ([]time.Time, error) {
	return NextRunTimesAfter(s.CronLine(), after, n)
}

// TruncateMinute zeroes seconds and sub-second precision in t's own location.
func TruncateMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}
