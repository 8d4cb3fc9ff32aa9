package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"unicode/utf8"
)

// Tool description length bounds, in runes, inclusive.
const (
	MinToolDescription = 10
	MaxToolDescription = 500
)

// MaxSchemaDepth bounds how deeply tool parameter schemas may nest. Top-level
// properties sit at depth 1; each step into object properties or array items
// adds one level.
const MaxSchemaDepth = 10

var toolNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Tool validation errors. [NewTool] wraps one of these.
var (
	ErrInvalidToolName    = errors.New("tool name must match ^[a-z][a-z0-9_]*$")
	ErrInvalidDescription = fmt.Errorf("tool description must be %d to %d characters", MinToolDescription, MaxToolDescription)
	ErrUnknownRequired    = errors.New("required property is not defined")
	ErrSchemaTooDeep      = fmt.Errorf("parameter schema nests deeper than %d levels", MaxSchemaDepth)
	ErrInvalidSchema      = errors.New("invalid parameter schema")
)

// Tool describes a callable function offered to the model. The zero value is
// not usable; construct tools with [NewTool] or [NewToolFromSchema].
type Tool struct {
	name        string
	description string
	params      ToolParameters
}

// NewTool validates its inputs and returns an immutable Tool.
//
// It fails when name does not match ^[a-z][a-z0-9_]*$, when description is
// outside [MinToolDescription, MaxToolDescription] runes, when a required name
// is missing from the properties, or when the schema nests deeper than
// [MaxSchemaDepth].
func NewTool(name, description string, params ToolParameters) (Tool, error) {
	if !toolNameRE.MatchString(name) {
		return Tool{}, fmt.Errorf("llm: tool %q: %w", name, ErrInvalidToolName)
	}
	if n := utf8.RuneCountInString(description); n < MinToolDescription || n > MaxToolDescription {
		return Tool{}, fmt.Errorf("llm: tool %q: %w (got %d)", name, ErrInvalidDescription, n)
	}
	if err := validateObject(params.Properties, params.Required, 1); err != nil {
		return Tool{}, fmt.Errorf("llm: tool %q: %w", name, err)
	}
	return Tool{
		name:        name,
		description: description,
		params:      params.clone(),
	}, nil
}

// MustTool is like [NewTool] but panics on error. Intended for package-level
// tool tables.
func MustTool(name, description string, params ToolParameters) Tool {
	t, err := NewTool(name, description, params)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the tool name.
func (t Tool) Name() string { return t.name }

// Description returns the tool description.
func (t Tool) Description() string { return t.description }

// Parameters returns a copy of the parameter schema.
func (t Tool) Parameters() ToolParameters { return t.params.clone() }

// Schema renders the parameter schema as a JSON Schema object.
func (t Tool) Schema() map[string]any { return t.params.Schema() }

func validateObject(props map[string]ToolProperty, required []string, depth int) error {
	for _, r := range required {
		if _, ok := props[r]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownRequired, r)
		}
	}
	for name, p := range props {
		if err := validateProperty(p, depth); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}
	return nil
}

func validateProperty(p ToolProperty, depth int) error {
	if depth > MaxSchemaDepth {
		return ErrSchemaTooDeep
	}
	switch v := p.(type) {
	case nil:
		return fmt.Errorf("%w: nil property", ErrInvalidSchema)
	case StringProperty, NumberProperty, IntegerProperty, BooleanProperty:
		return nil
	case ArrayProperty:
		if v.Items == nil {
			return fmt.Errorf("%w: array without items", ErrInvalidSchema)
		}
		return validateProperty(v.Items, depth+1)
	case ObjectProperty:
		return validateObject(v.Properties, v.Required, depth+1)
	case *ArrayProperty:
		if v == nil {
			return fmt.Errorf("%w: nil array property", ErrInvalidSchema)
		}
		return validateProperty(*v, depth)
	case *ObjectProperty:
		if v == nil {
			return fmt.Errorf("%w: nil object property", ErrInvalidSchema)
		}
		return validateProperty(*v, depth)
	case *StringProperty:
		if v == nil {
			return fmt.Errorf("%w: nil string property", ErrInvalidSchema)
		}
	case *NumberProperty:
		if v == nil {
			return fmt.Errorf("%w: nil number property", ErrInvalidSchema)
		}
	case *IntegerProperty:
		if v == nil {
			return fmt.Errorf("%w: nil integer property", ErrInvalidSchema)
		}
	case *BooleanProperty:
		if v == nil {
			return fmt.Errorf("%w: nil boolean property", ErrInvalidSchema)
		}
	default:
		return fmt.Errorf("%w: unsupported property type %T", ErrInvalidSchema, p)
	}
	return nil
}

// ToolParameters is the top-level parameter schema of a tool. Its JSON
// Schema type is always "object".
type ToolParameters struct {
	Properties map[string]ToolProperty
	Required   []string
}

// Schema renders p as a JSON Schema object.
func (p ToolParameters) Schema() map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": propertiesSchema(p.Properties),
	}
	if len(p.Required) > 0 {
		s["required"] = slices.Clone(p.Required)
	}
	return s
}

// MarshalJSON implements json.Marshaler.
func (p ToolParameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Schema())
}

func (p ToolParameters) clone() ToolParameters {
	props := make(map[string]ToolProperty, len(p.Properties))
	for k, v := range p.Properties {
		props[k] = v
	}
	return ToolParameters{Properties: props, Required: slices.Clone(p.Required)}
}

func propertiesSchema(props map[string]ToolProperty) map[string]any {
	out := make(map[string]any, len(props))
	for name, p := range props {
		out[name] = p.schema()
	}
	return out
}

// ToolProperty is one node of a parameter schema. The set of implementations
// is closed: [StringProperty], [NumberProperty], [IntegerProperty],
// [BooleanProperty], [ArrayProperty] and [ObjectProperty], or pointers to
// them. Nil pointers are rejected by [NewTool]. Pointer cycles are cut off by
// [MaxSchemaDepth].
type ToolProperty interface {
	schema() map[string]any
}

// StringProperty is a string parameter, optionally restricted to Enum.
type StringProperty struct {
	Description string
	Enum        []string
}

// NumberProperty is a floating-point parameter.
type NumberProperty struct {
	Description string
}

// IntegerProperty is an integral parameter.
type IntegerProperty struct {
	Description string
}

// BooleanProperty is a true/false parameter.
type BooleanProperty struct {
	Description string
}

// ArrayProperty is a list whose elements all match Items.
type ArrayProperty struct {
	Items       ToolProperty
	Description string
}

// ObjectProperty is a nested object.
type ObjectProperty struct {
	Properties  map[string]ToolProperty
	Required    []string
	Description string
}

func (p StringProperty) schema() map[string]any {
	s := typed("string", p.Description)
	if len(p.Enum) > 0 {
		s["enum"] = slices.Clone(p.Enum)
	}
	return s
}

func (p NumberProperty) schema() map[string]any { return typed("number", p.Description) }
func (p IntegerProperty) schema() map[string]any { return typed("integer", p.Description) }
func (p BooleanProperty) schema() map[string]any { return typed("boolean", p.Description) }

func (p ArrayProperty) schema() map[string]any {
	s := typed("array", p.Description)
	if p.Items != nil {
		s["items"] = p.Items.schema()
	}
	return s
}

func (p ObjectProperty) schema() map[string]any {
	s := typed("object", p.Description)
	s["properties"] = propertiesSchema(p.Properties)
	if len(p.Required) > 0 {
		s["required"] = slices.Clone(p.Required)
	}
	return s
}

func typed(t, description string) map[string]any {
	s := map[string]any{"type": t}
	if description != "" {
		s["description"] = description
	}
	return s
}

// NewToolFromSchema builds a Tool from a JSON Schema object such as the
// input schemas advertised by MCP servers. Only the subset expressible as
// [ToolProperty] is accepted; the result goes through the same validation
// as [NewTool].
func NewToolFromSchema(name, description string, schema json.RawMessage) (Tool, error) {
	params, err := ParseToolParameters(schema)
	if err != nil {
		return Tool{}, fmt.Errorf("llm: tool %q: %w", name, err)
	}
	return NewTool(name, description, params)
}

// jsonSchema is the subset of JSON Schema understood by [ParseToolParameters].
type jsonSchema struct {
	Type        json.RawMessage        `json:"type"`
	Description string                 `json:"description"`
	Enum        []json.RawMessage      `json:"enum"`
	Items       *jsonSchema            `json:"items"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Required    []string               `json:"required"`
}

// ParseToolParameters converts a JSON Schema object into ToolParameters.
// An empty document yields an object without properties.
func ParseToolParameters(raw json.RawMessage) (ToolParameters, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return ToolParameters{Properties: map[string]ToolProperty{}}, nil
	}
	var s jsonSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return ToolParameters{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if t := schemaType(s.Type); t != "" && t != "object" {
		return ToolParameters{}, fmt.Errorf("%w: top-level type %q, want object", ErrInvalidSchema, t)
	}
	props, err := parseProperties(s.Properties, 1)
	if err != nil {
		return ToolParameters{}, err
	}
	return ToolParameters{Properties: props, Required: s.Required}, nil
}

func parseProperties(in map[string]*jsonSchema, depth int) (map[string]ToolProperty, error) {
	out := make(map[string]ToolProperty, len(in))
	for name, s := range in {
		p, err := parseProperty(s, depth)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func parseProperty(s *jsonSchema, depth int) (ToolProperty, error) {
	// Parsing stops at the same bound validation enforces so hostile schemas
	// cannot recurse without limit.
	if depth > MaxSchemaDepth {
		return nil, ErrSchemaTooDeep
	}
	if s == nil {
		return nil, fmt.Errorf("%w: null schema", ErrInvalidSchema)
	}
	switch t := schemaType(s.Type); t {
	case "string":
		var enum []string
		for _, e := range s.Enum {
			var v string
			if err := json.Unmarshal(e, &v); err != nil {
				return nil, fmt.Errorf("%w: non-string enum value %s", ErrInvalidSchema, e)
			}
			enum = append(enum, v)
		}
		return StringProperty{Description: s.Description, Enum: enum}, nil
	case "number":
		return NumberProperty{Description: s.Description}, nil
	case "integer":
		return IntegerProperty{Description: s.Description}, nil
	case "boolean":
		return BooleanProperty{Description: s.Description}, nil
	case "array":
		if s.Items == nil {
			return nil, fmt.Errorf("%w: array without items", ErrInvalidSchema)
		}
		items, err := parseProperty(s.Items, depth+1)
		if err != nil {
			return nil, err
		}
		return ArrayProperty{Items: items, Description: s.Description}, nil
	case "object", "":
		props, err := parseProperties(s.Properties, depth+1)
		if err != nil {
			return nil, err
		}
		return ObjectProperty{Properties: props, Required: s.Required, Description: s.Description}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidSchema, t)
	}
}

// schemaType reads a JSON Schema "type" that may be a string or a list such
// as ["string","null"]. The first non-null entry wins.
func schemaType(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		for _, v := range list {
			if v != "null" {
				return v
			}
		}
	}
	return ""
}
