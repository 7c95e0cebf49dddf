package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/glizzus/cmdcron/internal/util"
)

const (
	// PositionalKey holds the ordered positional arguments of a command.
	PositionalKey = "_positional"
	// ArgsKey is an older spelling of PositionalKey; it may hold a single value.
	ArgsKey = "_args"
)

// Arguments maps argument names to JSON values. Numbers are kept as
// json.Number when decoded so large integers survive untouched.
type Arguments map[string]any

func (a *Arguments) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*a = m
	return nil
}

// Clone returns a shallow copy of a, or nil if a is nil.
func (a Arguments) Clone() Arguments {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Positional returns the positional argument strings in order.
func (a Arguments) Positional() []string {
	raw, ok := a[PositionalKey]
	if !ok {
		raw, ok = a[ArgsKey]
	}
	if !ok || raw == nil {
		return nil
	}

	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(v)}
	}
}

// Validate checks that the positional entry, if present, is a scalar or a
// list of scalars.
func (a Arguments) Validate() error {
	for _, key := range []string{PositionalKey, ArgsKey} {
		raw, ok := a[key]
		if !ok {
			continue
		}
		items, isList := raw.([]any)
		if !isList {
			items = []any{raw}
		}
		for _, item := range items {
			switch item.(type) {
			case map[string]any, []any:
				return fmt.Errorf("%s must contain only scalar values", key)
			}
		}
	}
	return nil
}

// Build turns a command name and its arguments into an argument vector.
// Positional values follow the name in order; every other key becomes a
// long flag, in sorted key order, with underscores replaced by hyphens.
// true emits a bare flag, false and null are omitted, anything else is
// emitted as --key=value. The result never passes through a shell.
func Build(name string, args Arguments) []string {
	argv := []string{name}
	if len(args) == 0 {
		return argv
	}

	argv = append(argv, args.Positional()...)
	for _, key := range util.SortedKeys(args) {
		if key == PositionalKey || key == ArgsKey {
			continue
		}
		flag := "--" + strings.ReplaceAll(key, "_", "-")
		switch v := args[key].(type) {
		case nil:
		case bool:
			if v {
				argv = append(argv, flag)
			}
		default:
			argv = append(argv, flag+"="+stringify(v))
		}
	}
	return argv
}

// Quote renders argv as a single shell-escaped line. Splitting the result
// with a POSIX shell yields argv again; it is used for display only.
func Quote(argv []string) string {
	return shellquote.Join(argv...)
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
