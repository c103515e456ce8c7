package schema

import (
	"math"
	"strconv"
)

// jsonType names the JSON type of a decoded value. Whole numbers report
// "integer".
func jsonType(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return "integer"
		}
		return "number"
	case float32:
		return jsonType(float64(val))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return "unknown"
}

func typeMatches(expected, actual string) bool {
	if expected == actual {
		return true
	}
	return expected == "number" && actual == "integer"
}

// stringList reads a keyword holding either a string or a list of strings.
func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	}
	return nil
}

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func indexPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}
