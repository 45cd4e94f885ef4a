package expr

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-research/stacgen/api"
)

type options map[string]any

// helper is one entry of the closed registry.
type helper struct {
	name    string
	minArgs int
	maxArgs int // -1 for variadic
	options map[string][]string
	// lenient helpers receive nil for arguments that resolved to nothing
	// instead of propagating the miss.
	lenient bool
	fn      func(args []any, opts options) (any, error)
}

func (h *helper) check(c *call) error {
	n := len(c.args)
	if n < h.minArgs || (h.maxArgs >= 0 && n > h.maxArgs) {
		return fmt.Errorf("%s: got %d arguments, want %s", h.name, n, h.arity())
	}
	for name, n := range c.opts {
		allowed, ok := h.options[name]
		if !ok {
			return fmt.Errorf("%s: unknown option %s", h.name, name)
		}
		lit, isLit := n.(literal)
		if !isLit || len(allowed) == 0 {
			continue
		}
		s, _ := lit.value.(string)
		if !contains(allowed, s) {
			return fmt.Errorf("%s: option %s must be one of %s", h.name, name, strings.Join(allowed, ", "))
		}
	}
	return nil
}

func (h *helper) arity() string {
	switch {
	case h.maxArgs < 0:
		return fmt.Sprintf("at least %d", h.minArgs)
	case h.minArgs == h.maxArgs:
		return strconv.Itoa(h.minArgs)
	default:
		return fmt.Sprintf("%d to %d", h.minArgs, h.maxArgs)
	}
}

var registry map[string]*helper

func init() {
	registry = make(map[string]*helper)
	for _, h := range []*helper{
		{name: "WKT", minArgs: 1, maxArgs: 1, options: map[string][]string{"input_mode": {InputLatLon, InputLonLat}}, fn: wktHelper},
		{name: "upper", minArgs: 1, maxArgs: 1, fn: stringFn(strings.ToUpper)},
		{name: "lower", minArgs: 1, maxArgs: 1, fn: stringFn(strings.ToLower)},
		{name: "strip", minArgs: 1, maxArgs: 1, fn: stringFn(strings.TrimSpace)},
		{name: "basename", minArgs: 1, maxArgs: 1, fn: stringFn(path.Base)},
		{name: "replace", minArgs: 3, maxArgs: 3, fn: replaceHelper},
		{name: "split", minArgs: 2, maxArgs: 3, fn: splitHelper},
		{name: "concat", minArgs: 1, maxArgs: -1, fn: concatHelper},
		{name: "join", minArgs: 2, maxArgs: 2, fn: joinHelper},
		{name: "regex", minArgs: 2, maxArgs: 3, fn: regexHelper},
		{name: "first", minArgs: 1, maxArgs: 1, fn: pickHelper(true)},
		{name: "last", minArgs: 1, maxArgs: 1, fn: pickHelper(false)},
		{name: "count", minArgs: 1, maxArgs: 1, lenient: true, fn: countHelper},
		{name: "map", minArgs: 0, maxArgs: -1, fn: mapHelper},
		{name: "list", minArgs: 0, maxArgs: -1, fn: listHelper},
		{name: "date_format", minArgs: 2, maxArgs: 2, fn: dateFormatHelper},
		{name: "date_diff", minArgs: 2, maxArgs: 2, options: map[string][]string{"unit": {"seconds", "minutes", "hours", "days"}}, fn: dateDiffHelper},
		{name: "gdal_to_affine", minArgs: 1, maxArgs: 1, fn: gdalToAffineHelper},
	} {
		registry[h.name] = h
	}
}

func lookupHelper(name string) (*helper, bool) {
	h, ok := registry[name]
	return h, ok
}

// Helpers lists the registered helper names in sorted order.
func Helpers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stringFn(f func(string) string) func([]any, options) (any, error) {
	return func(args []any, _ options) (any, error) {
		switch v := args[0].(type) {
		case []string, []any:
			items, err := asStrings(v)
			if err != nil {
				return nil, err
			}
			out := make([]string, len(items))
			for i, s := range items {
				out[i] = f(s)
			}
			return out, nil
		default:
			s, err := asString(v)
			if err != nil {
				return nil, err
			}
			return f(s), nil
		}
	}
}

func replaceHelper(args []any, _ options) (any, error) {
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	old, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	repl, err := asString(args[2])
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(s, old, repl), nil
}

func splitHelper(args []any, _ options) (any, error) {
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	sep, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	var parts []string
	if sep == "" {
		parts = strings.Fields(s)
	} else {
		parts = strings.Split(s, sep)
	}
	if len(args) == 2 {
		return parts, nil
	}
	idx, err := asInt(args[2])
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		idx += len(parts)
	}
	if idx < 0 || idx >= len(parts) {
		return nil, &api.MissError{Query: fmt.Sprintf("split index %d of %q", idx, s)}
	}
	return parts[idx], nil
}

func concatHelper(args []any, _ options) (any, error) {
	var b strings.Builder
	for _, a := range args {
		s, err := asString(a)
		if err != nil {
			return nil, err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func joinHelper(args []any, _ options) (any, error) {
	items, err := asStrings(args[0])
	if err != nil {
		return nil, err
	}
	sep, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	return strings.Join(items, sep), nil
}

func regexHelper(args []any, _ options) (any, error) {
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	pattern, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, api.Configf("regex", "invalid pattern %q: %v", pattern, err)
	}
	group := 0
	if re.NumSubexp() > 0 {
		group = 1
	}
	if len(args) == 3 {
		if group, err = asInt(args[2]); err != nil {
			return nil, err
		}
	}
	if group > re.NumSubexp() {
		return nil, api.Configf("regex", "pattern %q has no group %d", pattern, group)
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil, &api.MissError{Query: fmt.Sprintf("regex %q on %q", pattern, s)}
	}
	return m[group], nil
}

func pickHelper(first bool) func([]any, options) (any, error) {
	return func(args []any, _ options) (any, error) {
		items := asSlice(args[0])
		if len(items) == 0 {
			return nil, &api.MissError{Query: "empty sequence"}
		}
		if first {
			return items[0], nil
		}
		return items[len(items)-1], nil
	}
}

func countHelper(args []any, _ options) (any, error) {
	if args[0] == nil {
		return int64(0), nil
	}
	return int64(len(asSlice(args[0]))), nil
}

func mapHelper(args []any, _ options) (any, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("odd number of arguments")
	}
	out := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		k, err := asString(args[i])
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i/2, err)
		}
		out[k] = args[i+1]
	}
	return out, nil
}

func listHelper(args []any, _ options) (any, error) {
	out := make([]any, len(args))
	copy(out, args)
	return out, nil
}

func dateFormatHelper(args []any, _ options) (any, error) {
	t, err := asTime(args[0])
	if err != nil {
		return nil, err
	}
	layout, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	return FormatTime(layout, t), nil
}

func dateDiffHelper(args []any, opts options) (any, error) {
	start, err := asTime(args[0])
	if err != nil {
		return nil, err
	}
	end, err := asTime(args[1])
	if err != nil {
		return nil, err
	}
	unit := "seconds"
	if u, ok := opts["unit"]; ok {
		if unit, err = asString(u); err != nil {
			return nil, err
		}
	}
	d := end.Sub(start)
	switch unit {
	case "seconds":
		return d.Seconds(), nil
	case "minutes":
		return d.Minutes(), nil
	case "hours":
		return d.Hours(), nil
	case "days":
		return d.Hours() / 24, nil
	}
	return nil, api.Configf("date_diff", "unknown unit %q", unit)
}

// gdalToAffineHelper reorders a GDAL geotransform (c, a, b, f, d, e) into
// the affine coefficients (a, b, c, d, e, f) used by proj:transform.
func gdalToAffineHelper(args []any, _ options) (any, error) {
	gt, err := asFloats(args[0])
	if err != nil {
		return nil, err
	}
	if len(gt) != 6 {
		return nil, fmt.Errorf("geotransform needs 6 coefficients, got %d", len(gt))
	}
	return []any{gt[1], gt[2], gt[0], gt[4], gt[5], gt[3]}, nil
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []string:
		if len(t) == 1 {
			return t[0], nil
		}
	case []any:
		if len(t) == 1 {
			return asString(t[0])
		}
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	case nil:
		return "", fmt.Errorf("no value")
	}
	return "", fmt.Errorf("expected a single string, got %T", v)
}

func asStrings(v any) ([]string, error) {
	items := asSlice(v)
	out := make([]string, len(items))
	for i, item := range items {
		s, err := asString(item)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func asSlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out
	}
	return []any{v}
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case int64:
		return int(t), nil
	case float64:
		if t == float64(int(t)) {
			return int(t), nil
		}
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	}
	return 0, fmt.Errorf("expected an integer, got %#v", v)
}

// asFloats flattens numbers, numeric strings and whitespace or comma
// separated number lists into one slice.
func asFloats(v any) ([]float64, error) {
	var out []float64
	for _, item := range asSlice(v) {
		switch t := item.(type) {
		case float64:
			out = append(out, t)
		case int64:
			out = append(out, float64(t))
		case string:
			for _, field := range strings.FieldsFunc(t, func(r rune) bool {
				return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
			}) {
				f, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, fmt.Errorf("not a number: %q", field)
				}
				out = append(out, f)
			}
		default:
			return nil, fmt.Errorf("not a number: %#v", item)
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
