// Package coerce casts raw evaluated values to declared rule datatypes.
// Casts are exact: nothing is truncated, defaulted or guessed.
package coerce

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-research/stacgen/api"
	"github.com/ohler55/ojg/oj"
	"github.com/paulmach/orb/encoding/wkt"
)

// Value casts raw to dt. The returned error describes why the cast is not
// possible; callers attach key and rule context with api.CoercionError.
func Value(raw any, dt api.Datatype) (any, error) {
	if dt.IsList() {
		return list(raw, dt.Elem())
	}
	switch dt {
	case api.String:
		return toString(raw)
	case api.Int64:
		return toInt64(raw)
	case api.Double:
		return toDouble(raw)
	case api.Boolean:
		return toBool(raw)
	case api.DateTimeOffset:
		return toTime(raw)
	case api.JSON:
		return toJSON(raw)
	case api.WKT:
		return toWKT(raw)
	}
	return nil, fmt.Errorf("unknown datatype %q", dt)
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	}
	return "", fmt.Errorf("%T is not a scalar", raw)
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is not an exact 64-bit integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a base-10 integer", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%T is not an integer", raw)
}

func toDouble(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		f := float64(v)
		if int64(f) != v {
			return 0, fmt.Errorf("%d cannot be represented as a double", v)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%T is not a number", raw)
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", v)
		}
		return b, nil
	}
	return false, fmt.Errorf("%T is not a boolean", raw)
}

// toTime only accepts timestamps with an explicit offset. Zone-less values
// are ambiguous and must be made explicit by the rule (date_format).
func toTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp with offset", v)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%T is not a timestamp", raw)
}

func toJSON(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		out, err := oj.ParseString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON text: %w", err)
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case map[string]any, []any, int64, float64, bool:
		return v, nil
	}
	return nil, fmt.Errorf("%T is not JSON-representable", raw)
}

func toWKT(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%T is not WKT text", raw)
	}
	if _, err := wkt.Unmarshal(s); err != nil {
		return "", fmt.Errorf("invalid WKT: %w", err)
	}
	return s, nil
}

// list coerces every element. A scalar string is split on whitespace and
// commas first, which is how coordinate and band lists appear in manifests.
func list(raw any, elem api.Datatype) (any, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case string:
		for _, f := range strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
		}) {
			items = append(items, f)
		}
	default:
		items = []any{raw}
	}

	switch elem {
	case api.String:
		out := make([]string, len(items))
		for i, item := range items {
			s, err := toString(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	case api.Int64:
		out := make([]int64, len(items))
		for i, item := range items {
			n, err := toInt64(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case api.Double:
		out := make([]float64, len(items))
		for i, item := range items {
			f, err := toDouble(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported list element type %q", elem)
}
