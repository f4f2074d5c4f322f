package manifest

import (
	"fmt"
	"sort"
)

// TypeExprKind enumerates the structured type-expression language used for
// capability input/output contracts: primitive, vector, map (with keyed
// entries and optional flags), array (with a fixed shape), union, literal,
// and refinement predicates.
type TypeExprKind string

const (
	TypeKindPrimitive  TypeExprKind = "primitive"
	TypeKindVector     TypeExprKind = "vector"
	TypeKindMap        TypeExprKind = "map"
	TypeKindArray      TypeExprKind = "array"
	TypeKindUnion      TypeExprKind = "union"
	TypeKindLiteral    TypeExprKind = "literal"
	TypeKindRefinement TypeExprKind = "refinement"
	TypeKindAny        TypeExprKind = "any"
)

// MapEntry is one keyed field of a TypeKindMap type expression.
type MapEntry struct {
	Key      string    `json:"key"`
	Type     *TypeExpr `json:"type"`
	Optional bool      `json:"optional"`
}

// TypeExpr is a node in the structured type-expression language. Only the
// fields relevant to Kind are meaningful; this mirrors the manifest
// Provider's tagged-union shape rather than a Go interface hierarchy, so
// the type survives a JSON round-trip without custom (un)marshalers.
type TypeExpr struct {
	Kind TypeExprKind `json:"kind"`

	// primitive: one of "string", "integer", "number", "boolean"
	Primitive string `json:"primitive,omitempty"`

	// vector: homogeneous element type
	Element *TypeExpr `json:"element,omitempty"`

	// map: keyed entries
	Entries []MapEntry `json:"entries,omitempty"`

	// array: fixed-shape element types, positional
	Shape []*TypeExpr `json:"shape,omitempty"`

	// union: alternative types
	Variants []*TypeExpr `json:"variants,omitempty"`

	// literal: exact value (stored as its JSON-native Go type)
	Literal interface{} `json:"literal,omitempty"`

	// refinement: a base type plus a named predicate, e.g. "non-empty",
	// "positive". The predicate is informational only at this layer; the
	// RTFS evaluator (out of scope) enforces it at runtime.
	Base      *TypeExpr `json:"base,omitempty"`
	Predicate string    `json:"predicate,omitempty"`
}

// Any is the permissive top type, used when a schema is absent or its shape
// is unknown (e.g. unrecognized JSON-Schema `type` values).
func Any() *TypeExpr { return &TypeExpr{Kind: TypeKindAny} }

// Primitive constructs a primitive type expression.
func Primitive(name string) *TypeExpr { return &TypeExpr{Kind: TypeKindPrimitive, Primitive: name} }

// Vector constructs a homogeneous vector type expression.
func Vector(elem *TypeExpr) *TypeExpr { return &TypeExpr{Kind: TypeKindVector, Element: elem} }

// Map constructs a keyed map type expression. Entries are sorted by key so
// two maps built from the same property set serialize identically,
// regardless of input ordering — required for schema-inference idempotence.
func Map(entries []MapEntry) *TypeExpr {
	sorted := make([]MapEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return &TypeExpr{Kind: TypeKindMap, Entries: sorted}
}

// JSONSchema is the minimal subset of JSON Schema this converter accepts:
// `type`, `properties`, `required`, `items`.
type JSONSchema struct {
	Type       string                 `json:"type,omitempty"`
	Properties map[string]*JSONSchema `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
	Items      *JSONSchema            `json:"items,omitempty"`
	Enum       []interface{}          `json:"enum,omitempty"`
	Minimum    *float64               `json:"minimum,omitempty"`
}

// FromJSONSchema converts a JSON-Schema document into this package's
// structured type-expression language, per spec.md §4.D's conversion rules:
// string/integer/number/boolean -> primitive; array -> vector with element
// type; object -> map with per-property entries (optional unless listed in
// required[]); anything unrecognized -> any.
func FromJSONSchema(s *JSONSchema) *TypeExpr {
	if s == nil {
		return Any()
	}
	switch s.Type {
	case "string", "integer", "number", "boolean":
		return Primitive(s.Type)
	case "array":
		return Vector(FromJSONSchema(s.Items))
	case "object":
		required := make(map[string]bool, len(s.Required))
		for _, r := range s.Required {
			required[r] = true
		}
		entries := make([]MapEntry, 0, len(s.Properties))
		for key, propSchema := range s.Properties {
			entries = append(entries, MapEntry{
				Key:      key,
				Type:     FromJSONSchema(propSchema),
				Optional: !required[key],
			})
		}
		return Map(entries)
	default:
		return Any()
	}
}

// ToJSONSchema renders a TypeExpr back into the JSON-Schema subset
// FromJSONSchema understands, so that FromJSONSchema(ToJSONSchema(t))
// reproduces t (schema-inference idempotence, spec.md §8 property 4).
func ToJSONSchema(t *TypeExpr) *JSONSchema {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case TypeKindPrimitive:
		return &JSONSchema{Type: t.Primitive}
	case TypeKindVector:
		return &JSONSchema{Type: "array", Items: ToJSONSchema(t.Element)}
	case TypeKindMap:
		required := make([]string, 0, len(t.Entries))
		props := make(map[string]*JSONSchema, len(t.Entries))
		for _, e := range t.Entries {
			props[e.Key] = ToJSONSchema(e.Type)
			if !e.Optional {
				required = append(required, e.Key)
			}
		}
		sort.Strings(required)
		return &JSONSchema{Type: "object", Properties: props, Required: required}
	default:
		return &JSONSchema{}
	}
}

// Equal reports whether two type expressions are semantically equal,
// ignoring map-entry ordering (entries are always stored sorted by Map, but
// callers may hand-construct a TypeExpr out of order).
func Equal(a, b *TypeExpr) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case TypeKindPrimitive:
		return a.Primitive == b.Primitive
	case TypeKindVector:
		return Equal(a.Element, b.Element)
	case TypeKindMap:
		if len(a.Entries) != len(b.Entries) {
			return false
		}
		ae := append([]MapEntry{}, a.Entries...)
		be := append([]MapEntry{}, b.Entries...)
		sort.Slice(ae, func(i, j int) bool { return ae[i].Key < ae[j].Key })
		sort.Slice(be, func(i, j int) bool { return be[i].Key < be[j].Key })
		for i := range ae {
			if ae[i].Key != be[i].Key || ae[i].Optional != be[i].Optional || !Equal(ae[i].Type, be[i].Type) {
				return false
			}
		}
		return true
	case TypeKindArray:
		if len(a.Shape) != len(b.Shape) {
			return false
		}
		for i := range a.Shape {
			if !Equal(a.Shape[i], b.Shape[i]) {
				return false
			}
		}
		return true
	case TypeKindUnion:
		if len(a.Variants) != len(b.Variants) {
			return false
		}
		for i := range a.Variants {
			if !Equal(a.Variants[i], b.Variants[i]) {
				return false
			}
		}
		return true
	case TypeKindLiteral:
		return fmt.Sprintf("%v", a.Literal) == fmt.Sprintf("%v", b.Literal)
	case TypeKindRefinement:
		return a.Predicate == b.Predicate && Equal(a.Base, b.Base)
	default: // any
		return true
	}
}
