package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldKind identifies which component of a timestamp a cron field matches.
type FieldKind int

const (
	Minute FieldKind = iota
	Hour
	DayOfMonth
)

func (k FieldKind) String() string {
	switch k {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case DayOfMonth:
		return "day"
	default:
		return "unknown"
	}
}

func (k FieldKind) bounds() (int, int) {
	switch k {
	case Minute:
		return 0, 59
	case Hour:
		return 0, 23
	default:
		return 1, 31
	}
}

// ValidationError is returned when a schedule field is rejected.
// It is meant to surface to the operator when a schedule is saved.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s field %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var _ error = (*ValidationError)(nil)

// Field is a single parsed cron field. The set of matching values is
// stored as a bitmask; every supported range fits in 64 bits.
type Field struct {
	kind FieldKind
	expr string
	bits uint64
}

// ParseField parses one standalone cron field. Supported syntax:
// "*", "*/N", "a", "a-b", "a-b/N", "a/N" and comma separated lists of those.
func ParseField(kind FieldKind, expr string) (Field, error) {
	expr = strings.TrimSpace(expr)
	fail := func(reason string) (Field, error) {
		return Field{}, &ValidationError{Field: kind.String(), Value: expr, Reason: reason}
	}
	if expr == "" {
		return fail("expression is empty")
	}

	lo, hi := kind.bounds()
	var bits uint64
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fail("empty list element")
		}

		base, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n < 1 {
				return fail(fmt.Sprintf("step %q must be a positive integer", stepStr))
			}
			step = n
		}

		if base == "*" {
			// "*/N" matches components divisible by N.
			for v := lo; v <= hi; v++ {
				if v%step == 0 {
					bits |= 1 << uint(v)
				}
			}
			continue
		}

		start, end := 0, 0
		if a, b, isRange := strings.Cut(base, "-"); isRange {
			var err error
			if start, err = parseValue(a, lo, hi); err != nil {
				return fail(err.Error())
			}
			if end, err = parseValue(b, lo, hi); err != nil {
				return fail(err.Error())
			}
			if start > end {
				return fail(fmt.Sprintf("range start %d is after end %d", start, end))
			}
		} else {
			v, err := parseValue(base, lo, hi)
			if err != nil {
				return fail(err.Error())
			}
			start, end = v, v
			if hasStep {
				end = hi
			}
		}

		for v := start; v <= end; v += step {
			bits |= 1 << uint(v)
		}
	}
	if bits == 0 {
		return fail(fmt.Sprintf("matches no %s in %d-%d", kind, lo, hi))
	}

	return Field{kind: kind, expr: expr, bits: bits}, nil
}

func parseValue(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, lo, hi)
	}
	return v, nil
}

// Matches reports whether v is one of the field's values.
func (f Field) Matches(v int) bool {
	if v < 0 || v > 63 {
		return false
	}
	return f.bits&(1<<uint(v)) != 0
}

// Kind returns the component this field applies to.
func (f Field) Kind() FieldKind {
	return f.kind
}

// String returns the expression the field was parsed from.
func (f Field) String() string {
	return f.expr
}

// canonical renders the field as an explicit value list, or "*" when it
// matches the whole range.
func (f Field) canonical() string {
	lo, hi := f.kind.bounds()
	var values []string
	for v := lo; v <= hi; v++ {
		if f.Matches(v) {
			values = append(values, strconv.Itoa(v))
		}
	}
	if len(values) == hi-lo+1 {
		return "*"
	}
	return strings.Join(values, ",")
}
