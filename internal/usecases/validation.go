package usecases

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
)

// ValidateArguments checks args against schema and returns a copy with values
// coerced to their declared types. Numeric strings become numbers and
// "true"/"false" become booleans. A JSON null is treated as absent. Fields
// not declared in the schema are dropped, or rejected when strict is set.
func ValidateArguments(schema domain.InputSchema, args domain.Arguments, strict bool) (domain.Arguments, error) {
	out := make(domain.Arguments, len(args))

	for _, name := range schema.Required {
		if v, ok := args[name]; !ok || v == nil {
			return nil, domain.NewValidationError(argPath(name), "required")
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := args[name]
		prop, declared := schema.Properties[name]
		if !declared {
			if strict {
				return nil, domain.NewValidationError(argPath(name), "unknown field")
			}
			continue
		}
		if value == nil {
			continue
		}
		coerced, err := coerce(prop.Type, value)
		if err != nil {
			return nil, domain.NewValidationError(argPath(name), err.Error())
		}
		out[name] = coerced
	}

	return out, nil
}

func argPath(name string) string {
	return "arguments." + name
}

type constraintError string

func (e constraintError) Error() string { return string(e) }

func expected(kind string) error {
	return constraintError("expected " + kind)
}

// coerce converts value to the JSON schema type typ.
func coerce(typ string, value interface{}) (interface{}, error) {
	switch typ {
	case "":
		return value, nil
	case "string":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, expected("string")
	case "number":
		f, ok := toFloat(value)
		if !ok {
			return nil, expected("number")
		}
		return f, nil
	case "integer":
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, expected("integer")
		}
		return int64(f), nil
	case "boolean":
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
		return nil, expected("boolean")
	case "object":
		if m, ok := value.(map[string]interface{}); ok {
			return m, nil
		}
		return nil, expected("object")
	case "array":
		if a, ok := value.([]interface{}); ok {
			return a, nil
		}
		return nil, expected("array")
	default:
		return value, nil
	}
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
