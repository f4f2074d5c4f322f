package discovery

import (
	"encoding/json"

	"github.com/ccos-run/ccos/pkg/manifest"
)

// synthesizeSafeDefaults builds a minimal-but-valid argument map for a tool's
// input schema, per spec.md §4.F's default-value synthesis table: enum
// strings use the first variant, numbers use `minimum` or 0, arrays/objects
// use empty values, everything else is omitted.
func synthesizeSafeDefaults(schema *manifest.JSONSchema) map[string]interface{} {
	args := make(map[string]interface{})
	if schema == nil || schema.Type != "object" {
		return args
	}
	for key, prop := range schema.Properties {
		args[key] = defaultValueFor(prop)
	}
	return args
}

func defaultValueFor(s *manifest.JSONSchema) interface{} {
	if s == nil {
		return nil
	}
	if len(s.Enum) > 0 {
		return s.Enum[0]
	}
	switch s.Type {
	case "string":
		return ""
	case "integer", "number":
		if s.Minimum != nil {
			return *s.Minimum
		}
		return 0
	case "boolean":
		return false
	case "array":
		return []interface{}{}
	case "object":
		return map[string]interface{}{}
	default:
		return nil
	}
}

// inferOutputType calls a read-only-looking tool once with synthesized safe
// default inputs and converts its JSON result shape into a TypeExpr,
// implementing spec.md §4.F's output-schema introspection probe. Returns nil
// (leave output type absent) on any failure — introspection is best-effort.
func inferOutputType(rawResult json.RawMessage) *manifest.TypeExpr {
	if len(rawResult) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(rawResult, &v); err != nil {
		return nil
	}
	return typeExprFromValue(v)
}

func typeExprFromValue(v interface{}) *manifest.TypeExpr {
	switch t := v.(type) {
	case nil:
		return manifest.Any()
	case bool:
		return manifest.Primitive("boolean")
	case float64, json.Number:
		return manifest.Primitive("number")
	case string:
		return manifest.Primitive("string")
	case []interface{}:
		if len(t) == 0 {
			return manifest.Vector(manifest.Any())
		}
		return manifest.Vector(typeExprFromValue(t[0]))
	case map[string]interface{}:
		entries := make([]manifest.MapEntry, 0, len(t))
		for k, val := range t {
			entries = append(entries, manifest.MapEntry{Key: k, Type: typeExprFromValue(val), Optional: false})
		}
		return manifest.Map(entries)
	default:
		return manifest.Any()
	}
}
