package schedule_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glizzus/cmdcron/internal/schedule"
	"github.com/google/go-cmp/cmp"
)

func matchingValues(t *testing.T, kind schedule.FieldKind, expr string, lo, hi int) []int {
	t.Helper()
	f, err := schedule.ParseField(kind, expr)
	if err != nil {
		t.Fatalf("ParseField(%v, %q) returned error: %v", kind, expr, err)
	}
	var got []int
	for v := lo; v <= hi; v++ {
		if f.Matches(v) {
			got = append(got, v)
		}
	}
	return got
}

func TestParseField_Values(t *testing.T) {
	tests := []struct {
		name string
		kind schedule.FieldKind
		expr string
		want []int
	}{
		{name: "step minutes", kind: schedule.Minute, expr: "*/15", want: []int{0, 15, 30, 45}},
		{name: "hour range", kind: schedule.Hour, expr: "9-17", want: []int{9, 10, 11, 12, 13, 14, 15, 16, 17}},
		{name: "list", kind: schedule.Minute, expr: "0,30", want: []int{0, 30}},
		{name: "exact", kind: schedule.Hour, expr: "7", want: []int{7}},
		{name: "range with step", kind: schedule.Minute, expr: "10-30/10", want: []int{10, 20, 30}},
		{name: "start with step", kind: schedule.Hour, expr: "18/2", want: []int{18, 20, 22}},
		{name: "mixed list", kind: schedule.DayOfMonth, expr: "1,15-17,*/30", want: []int{1, 15, 16, 17, 30}},
		{name: "day step is modulo", kind: schedule.DayOfMonth, expr: "*/7", want: []int{7, 14, 21, 28}},
		{name: "surrounding whitespace", kind: schedule.Minute, expr: " 5 ", want: []int{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchingValues(t, tt.kind, tt.expr, 0, 59)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseField(%q) values mismatch (-want +got):\n%s", tt.expr, diff)
			}
		})
	}
}

func TestParseField_Wildcard(t *testing.T) {
	got := matchingValues(t, schedule.DayOfMonth, "*", 0, 40)
	if len(got) != 31 || got[0] != 1 || got[30] != 31 {
		t.Errorf("wildcard day matched %v, want 1..31", got)
	}
}

func TestParseField_Invalid(t *testing.T) {
	tests := []struct {
		kind schedule.FieldKind
		expr string
	}{
		{kind: schedule.Minute, expr: "60"},
		{kind: schedule.Hour, expr: "25"},
		{kind: schedule.Minute, expr: "invalid"},
		{kind: schedule.DayOfMonth, expr: "0"},
		{kind: schedule.Minute, expr: ""},
		{kind: schedule.Minute, expr: "*/0"},
		{kind: schedule.Minute, expr: "*/x"},
		{kind: schedule.Hour, expr: "17-9"},
		{kind: schedule.Minute, expr: "1,,2"},
		{kind: schedule.Minute, expr: "-5"},
		{kind: schedule.DayOfMonth, expr: "*/32"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.expr, func(t *testing.T) {
			_, err := schedule.ParseField(tt.kind, tt.expr)
			var verr *schedule.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ParseField(%q) error = %v, want *ValidationError", tt.expr, err)
			}
			if verr.Field != tt.kind.String() {
				t.Errorf("error field = %q, want %q", verr.Field, tt.kind.String())
			}
			if !strings.Contains(err.Error(), tt.kind.String()) {
				t.Errorf("error %q does not name the %s field", err, tt.kind)
			}
		})
	}
}

func TestSpecMatches_EveryFifteenMinutesAcrossHoursAndDays(t *testing.T) {
	spec, err := schedule.ParseSpec("*/15", "*", "*")
	if err != nil {
		t.Fatalf("ParseSpec returned error: %v", err)
	}

	start := time.Date(2024, 1, 30, 22, 0, 0, 0, time.UTC)
	for i := range 3 * 24 * 60 {
		ts := start.Add(time.Duration(i) * time.Minute)
		want := ts.Minute()%15 == 0
		if got := spec.Matches(ts); got != want {
			t.Fatalf("Matches(%v) = %v, want %v", ts, got, want)
		}
	}
}

func TestSpecMatches_WorkingHours(t *testing.T) {
	spec, err := schedule.ParseSpec("0", "9-17", "*")
	if err != nil {
		t.Fatalf("ParseSpec returned error: %v", err)
	}

	for h := range 24 {
		ts := time.Date(2024, 5, 6, h, 0, 0, 0, time.UTC)
		want := h >= 9 && h <= 17
		if got := spec.Matches(ts); got != want {
			t.Errorf("Matches(hour %d) = %v, want %v", h, got, want)
		}
	}
}

func TestSpecIsDue_StableWithinMinute(t *testing.T) {
	spec, err := schedule.ParseSpec("30", "12", "15")
	if err != nil {
		t.Fatalf("ParseSpec returned error: %v", err)
	}

	minute := time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, time.Second, 30 * time.Second, 59*time.Second + 999*time.Millisecond} {
		if !spec.IsDue(minute.Add(offset)) {
			t.Errorf("IsDue(%v) = false, want true", minute.Add(offset))
		}
	}
	if spec.IsDue(minute.Add(time.Minute)) {
		t.Errorf("IsDue one minute later = true, want false")
	}
}

func TestSpecDueInstant(t *testing.T) {
	tests := []struct {
		name   string
		fields [3]string
		now    time.Time
		want   time.Time
	}{
		{
			name:   "current minute matches",
			fields: [3]string{"*/15", "*", "*"},
			now:    time.Date(2024, 6, 15, 12, 30, 42, 0, time.UTC),
			want:   time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC),
		},
		{
			name:   "earlier in the hour",
			fields: [3]string{"*/15", "*", "*"},
			now:    time.Date(2024, 6, 15, 12, 44, 59, 0, time.UTC),
			want:   time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC),
		},
		{
			name:   "previous day",
			fields: [3]string{"0", "9", "*"},
			now:    time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC),
			want:   time.Date(2024, 6, 14, 9, 0, 0, 0, time.UTC),
		},
		{
			name:   "skips short months",
			fields: [3]string{"0", "0", "31"},
			now:    time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			want:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "latest hour and minute of a previous day",
			fields: [3]string{"5,50", "1-3", "10"},
			now:    time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC),
			want:   time.Date(2024, 6, 10, 3, 50, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := schedule.ParseSpec(tt.fields[0], tt.fields[1], tt.fields[2])
			if err != nil {
				t.Fatalf("ParseSpec returned error: %v", err)
			}
			got, ok := spec.DueInstant(tt.now)
			if !ok {
				t.Fatalf("DueInstant(%v) found nothing", tt.now)
			}
			if !got.Equal(tt.want) {
				t.Errorf("DueInstant(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestSpecExpression(t *testing.T) {
	spec, err := schedule.ParseSpec("*/15", "9-17", "1,15")
	if err != nil {
		t.Fatalf("ParseSpec returned error: %v", err)
	}
	if got, want := spec.Expression(), "*/15 9-17 1,15 * *"; got != want {
		t.Errorf("Expression() = %q, want %q", got, want)
	}
	if got, want := spec.CronLine(), "0,15,30,45 9,10,11,12,13,14,15,16,17 1,15 * *"; got != want {
		t.Errorf("CronLine() = %q, want %q", got, want)
	}
}
