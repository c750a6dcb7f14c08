// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/commissiontracker/underwriter/internal/types"
)

/*
 * Type coercion for fact values.
 *
 * Facts arrive from JSON (float64, string, []any), from YAML, or from Go
 * callers (int, time.Time, []string). Each coercer accepts the shapes a fact
 * of that type realistically takes and rejects the rest with
 * ErrCoercionFailed. A present but non-coercible value makes the condition
 * false; it never defers to null handling.
 *
 * Modes:
 *   - numeric: strict; numbers and numeric strings, never booleans
 *   - boolean: strict; booleans and "true"/"false" strings
 *   - text: lenient; any scalar rendered as a string
 *   - date: time.Time, RFC 3339, "2006-01-02", or "2006-01" strings
 *   - list: []string, or []any of scalars rendered as text
 */

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01"}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, types.ErrCoercionFailed
		}
		return f, nil
	case string:
		// Whitespace-only strings are not numbers.
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, types.ErrCoercionFailed
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, types.ErrCoercionFailed
		}
		return f, nil
	}
	return 0, types.ErrCoercionFailed
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, types.ErrCoercionFailed
}

func toText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case []any, map[string]any:
		return "", types.ErrCoercionFailed
	}
	return fmt.Sprintf("%v", value), nil
}

func toDate(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v != nil {
			return *v, nil
		}
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, types.ErrCoercionFailed
}

func toStringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			s, err := toText(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, types.ErrCoercionFailed
}
