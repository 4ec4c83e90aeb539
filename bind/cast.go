package bind

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/query"
)

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// castValue converts a raw value into the driver-ready representation for
// the variable's effective type. Cast failures produce InvalidValue with
// the type name in the message.
func castValue(name string, typ query.VarType, value any, dialectName string) (any, error) {
	switch typ {
	case query.TypeText, "":
		return value, nil

	case query.TypeInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, nil
			}
		}
		return nil, qerror.InvalidValue(name, "integer", value, "")

	case query.TypeNumber:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
		}
		return nil, qerror.InvalidValue(name, "number", value, "")

	case query.TypeBoolean:
		b, ok := parseBool(value)
		if !ok {
			return nil, qerror.InvalidValue(name, "boolean", value, "")
		}
		// SQLite has no boolean affinity; bind 0/1.
		if dialectName == "sqlite" {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return b, nil

	case query.TypeDate:
		if t, ok := value.(time.Time); ok {
			return t, nil
		}
		s := fmt.Sprintf("%v", value)
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t, nil
		}
		return nil, qerror.InvalidValue(name, "date", value, "(expected ISO-8601 YYYY-MM-DD)")

	case query.TypeDateTime:
		if t, ok := value.(time.Time); ok {
			return t, nil
		}
		s := fmt.Sprintf("%v", value)
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, qerror.InvalidValue(name, "datetime", value, "(expected ISO-8601)")

	case query.TypeTime:
		s := fmt.Sprintf("%v", value)
		if t, err := time.Parse("15:04:05", s); err == nil {
			return t.Format("15:04:05"), nil
		}
		if t, err := time.Parse("15:04", s); err == nil {
			return t.Format("15:04:05"), nil
		}
		return nil, qerror.InvalidValue(name, "time", value, "(expected HH:MM[:SS])")

	case query.TypeJSON:
		if s, ok := value.(string); ok && json.Valid([]byte(s)) {
			return s, nil
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, qerror.InvalidValue(name, "json", value, "")
		}
		return string(encoded), nil

	case query.TypeUUID:
		s, ok := value.(string)
		if !ok {
			return nil, qerror.InvalidValue(name, "UUID", value, "")
		}
		u, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, qerror.InvalidValue(name, "UUID", value, "")
		}
		return u.String(), nil

	case query.TypeArray:
		return castArray(name, value, dialectName)

	default:
		return value, nil
	}
}

// castArray accepts a Go slice, a JSON array string, or PostgreSQL's
// native {a,b} text form, and renders the engine's array literal. Arrays
// are a PostgreSQL feature.
func castArray(name string, value any, dialectName string) (any, error) {
	if dialectName != "postgres" {
		return nil, qerror.InvalidValue(name, "array", value, "(arrays are PostgreSQL-only)")
	}

	var elems []string
	switch v := value.(type) {
	case []string:
		elems = v
	case []any:
		for _, e := range v {
			elems = append(elems, fmt.Sprintf("%v", e))
		}
	case string:
		s := strings.TrimSpace(v)
		switch {
		case strings.HasPrefix(s, "["):
			var parsed []any
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, qerror.InvalidValue(name, "array", value, "")
			}
			for _, e := range parsed {
				elems = append(elems, fmt.Sprintf("%v", e))
			}
		case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
			body := s[1 : len(s)-1]
			if body != "" {
				elems = strings.Split(body, ",")
			}
		default:
			return nil, qerror.InvalidValue(name, "array", value, "")
		}
	default:
		return nil, qerror.InvalidValue(name, "array", value, "")
	}

	quoted := make([]string, len(elems))
	for i, e := range elems {
		e = strings.ReplaceAll(e, `\`, `\\`)
		e = strings.ReplaceAll(e, `"`, `\"`)
		quoted[i] = `"` + e + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

func parseBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case int64:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "on":
			return true, true
		case "false", "no", "0", "off":
			return false, true
		}
	}
	return false, false
}
