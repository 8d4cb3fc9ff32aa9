package llm

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"testing"
)

const validDescription = "Returns the current weather for a location."

// nestedObject returns a property whose deepest leaf sits at the given depth
// when used as a top-level property.
func nestedObject(depth int) ToolProperty {
	if depth <= 1 {
		return StringProperty{}
	}
	return ObjectProperty{Properties: map[string]ToolProperty{"inner": nestedObject(depth - 1)}}
}

// nestedObjectPtr is nestedObject built from pointer properties.
func nestedObjectPtr(depth int) ToolProperty {
	if depth <= 1 {
		return &StringProperty{}
	}
	return &ObjectProperty{Properties: map[string]ToolProperty{"inner": nestedObjectPtr(depth - 1)}}
}

func TestNewTool_Valid(t *testing.T) {
	tool, err := NewTool("get_weather", validDescription, ToolParameters{
		Properties: map[string]ToolProperty{
			"location": StringProperty{Description: "City name"},
			"unit":     StringProperty{Enum: []string{"celsius", "fahrenheit"}},
		},
		Required: []string{"location"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.Name() != "get_weather" {
		t.Errorf("Name() = %q, want get_weather", tool.Name())
	}
	schema := tool.Schema()
	if schema["type"] != "object" {
		t.Errorf("schema type = %v, want object", schema["type"])
	}
	req, _ := schema["required"].([]string)
	if len(req) != 1 || req[0] != "location" {
		t.Errorf("required = %v, want [location]", schema["required"])
	}
}

func TestNewTool_Names(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"get_weather", true},
		{"a", true},
		{"tool2", true},
		{"a_1_b", true},
		{"", false},
		{"GetWeather", false},
		{"get-weather", false},
		{"get weather", false},
		{"1tool", false},
		{"_tool", false},
		{"toolé", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTool(tt.name, validDescription, ToolParameters{})
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidToolName) {
				t.Fatalf("err = %v, want ErrInvalidToolName", err)
			}
		})
	}
}

func TestNewTool_DescriptionBounds(t *testing.T) {
	tests := []struct {
		length int
		ok     bool
	}{
		{0, false},
		{9, false},
		{10, true},
		{250, true},
		{500, true},
		{501, false},
	}
	for _, tt := range tests {
		_, err := NewTool("tool", strings.Repeat("x", tt.length), ToolParameters{})
		if tt.ok && err != nil {
			t.Errorf("length %d: unexpected error: %v", tt.length, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidDescription) {
			t.Errorf("length %d: err = %v, want ErrInvalidDescription", tt.length, err)
		}
	}
}

func TestNewTool_DescriptionCountsRunes(t *testing.T) {
	// Ten runes, twenty bytes.
	if _, err := NewTool("tool", strings.Repeat("é", 10), ToolParameters{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewTool_UnknownRequired(t *testing.T) {
	_, err := NewTool("tool", validDescription, ToolParameters{
		Properties: map[string]ToolProperty{"a": StringProperty{}},
		Required:   []string{"a", "b"},
	})
	if !errors.Is(err, ErrUnknownRequired) {
		t.Fatalf("err = %v, want ErrUnknownRequired", err)
	}
}

func TestNewTool_NestedUnknownRequired(t *testing.T) {
	_, err := NewTool("tool", validDescription, ToolParameters{
		Properties: map[string]ToolProperty{
			"obj": ObjectProperty{Properties: map[string]ToolProperty{}, Required: []string{"missing"}},
		},
	})
	if !errors.Is(err, ErrUnknownRequired) {
		t.Fatalf("err = %v, want ErrUnknownRequired", err)
	}
}

func TestNewTool_Depth(t *testing.T) {
	builders := map[string]func(int) ToolProperty{
		"values":   nestedObject,
		"pointers": nestedObjectPtr,
	}
	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			for depth := 1; depth <= MaxSchemaDepth+5; depth++ {
				_, err := NewTool("tool", validDescription, ToolParameters{
					Properties: map[string]ToolProperty{"p": build(depth)},
				})
				if depth <= MaxSchemaDepth && err != nil {
					t.Errorf("depth %d: unexpected error: %v", depth, err)
				}
				if depth > MaxSchemaDepth && !errors.Is(err, ErrSchemaTooDeep) {
					t.Errorf("depth %d: err = %v, want ErrSchemaTooDeep", depth, err)
				}
			}
		})
	}
}

func TestNewTool_InvalidProperties(t *testing.T) {
	cyclic := &ObjectProperty{}
	cyclic.Properties = map[string]ToolProperty{"self": cyclic}

	tests := []struct {
		name string
		prop ToolProperty
		want error
	}{
		{"nil interface", nil, ErrInvalidSchema},
		{"nil array pointer", (*ArrayProperty)(nil), ErrInvalidSchema},
		{"nil object pointer", (*ObjectProperty)(nil), ErrInvalidSchema},
		{"nil string pointer", (*StringProperty)(nil), ErrInvalidSchema},
		{"nil number pointer", (*NumberProperty)(nil), ErrInvalidSchema},
		{"nil integer pointer", (*IntegerProperty)(nil), ErrInvalidSchema},
		{"nil boolean pointer", (*BooleanProperty)(nil), ErrInvalidSchema},
		{"array without items", ArrayProperty{}, ErrInvalidSchema},
		{"array pointer without items", &ArrayProperty{}, ErrInvalidSchema},
		{"array of nil pointer", ArrayProperty{Items: (*ObjectProperty)(nil)}, ErrInvalidSchema},
		{"object with nil property", &ObjectProperty{Properties: map[string]ToolProperty{"x": nil}}, ErrInvalidSchema},
		{"object pointer unknown required", &ObjectProperty{Required: []string{"x"}}, ErrUnknownRequired},
		{"self reference", cyclic, ErrSchemaTooDeep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTool("tool", validDescription, ToolParameters{
				Properties: map[string]ToolProperty{"p": tt.prop},
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewTool_PointerPropertiesRender(t *testing.T) {
	tool, err := NewTool("tool", validDescription, ToolParameters{
		Properties: map[string]ToolProperty{
			"tags": &ArrayProperty{Items: &StringProperty{Enum: []string{"a"}}},
			"opts": &ObjectProperty{Properties: map[string]ToolProperty{"n": &IntegerProperty{}}},
		},
	})
	if err != nil {
		t.Fatalf("NewTool: %v", err)
	}
	props := tool.Schema()["properties"].(map[string]any)
	tags := props["tags"].(map[string]any)
	if tags["type"] != "array" {
		t.Errorf("tags type = %v, want array", tags["type"])
	}
	if items := tags["items"].(map[string]any); items["type"] != "string" {
		t.Errorf("tags items type = %v, want string", items["type"])
	}
	if opts := props["opts"].(map[string]any); opts["type"] != "object" {
		t.Errorf("opts type = %v, want object", opts["type"])
	}
}

func TestNewTool_ArrayItemsCountTowardsDepth(t *testing.T) {
	var p ToolProperty = StringProperty{}
	for range MaxSchemaDepth {
		p = ArrayProperty{Items: p}
	}
	// MaxSchemaDepth arrays around a leaf put the leaf one level too deep.
	_, err := NewTool("tool", validDescription, ToolParameters{Properties: map[string]ToolProperty{"p": p}})
	if !errors.Is(err, ErrSchemaTooDeep) {
		t.Fatalf("err = %v, want ErrSchemaTooDeep", err)
	}
}

// TestNewTool_Property generates random (name, description, schema) triples
// and checks construction succeeds exactly when every rule holds.
func TestNewTool_Property(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	nameRE := regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	alphabet := []rune("abcxyz019_-A Zé")

	for i := range 2000 {
		nameLen := rng.IntN(8)
		name := make([]rune, nameLen)
		for j := range name {
			name[j] = alphabet[rng.IntN(len(alphabet))]
		}
		descLen := rng.IntN(520)
		depth := 1 + rng.IntN(MaxSchemaDepth+3)
		required := []string{"p"}
		if rng.IntN(4) == 0 {
			required = append(required, "ghost")
		}
		build := nestedObject
		if rng.IntN(2) == 0 {
			build = nestedObjectPtr
		}
		props := map[string]ToolProperty{"p": build(depth)}
		broken := rng.IntN(6) == 0
		if broken {
			props["q"] = &ArrayProperty{}
		}

		_, err := NewTool(string(name), strings.Repeat("d", descLen), ToolParameters{
			Properties: props,
			Required:   required,
		})

		want := nameRE.MatchString(string(name)) &&
			descLen >= MinToolDescription && descLen <= MaxToolDescription &&
			len(required) == 1 &&
			depth <= MaxSchemaDepth &&
			!broken
		if got := err == nil; got != want {
			t.Fatalf("case %d (name=%q desc=%d depth=%d required=%v broken=%v): success = %v, want %v (err=%v)",
				i, string(name), descLen, depth, required, broken, got, want, err)
		}
	}
}

func TestToolParameters_MarshalJSON(t *testing.T) {
	params := ToolParameters{
		Properties: map[string]ToolProperty{
			"tags": ArrayProperty{Items: StringProperty{}, Description: "Labels"},
			"n":    IntegerProperty{},
		},
		Required: []string{"n"},
	}
	b, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"properties":{"n":{"type":"integer"},"tags":{"description":"Labels","items":{"type":"string"},"type":"array"}},"required":["n"],"type":"object"}`
	if string(b) != want {
		t.Errorf("got  %s\nwant %s", b, want)
	}
}

func TestNewToolFromSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search text"},
			"limit": {"type": ["integer", "null"]},
			"filters": {
				"type": "object",
				"properties": {"tags": {"type": "array", "items": {"type": "string", "enum": ["a", "b"]}}}
			}
		},
		"required": ["query"]
	}`)
	tool, err := NewToolFromSchema("search_docs", "Searches the documentation index.", schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := tool.Parameters()
	if _, ok := params.Properties["limit"].(IntegerProperty); !ok {
		t.Errorf("limit = %T, want IntegerProperty", params.Properties["limit"])
	}
	filters, ok := params.Properties["filters"].(ObjectProperty)
	if !ok {
		t.Fatalf("filters = %T, want ObjectProperty", params.Properties["filters"])
	}
	tags, ok := filters.Properties["tags"].(ArrayProperty)
	if !ok {
		t.Fatalf("tags = %T, want ArrayProperty", filters.Properties["tags"])
	}
	if s, ok := tags.Items.(StringProperty); !ok || len(s.Enum) != 2 {
		t.Errorf("tags items = %#v, want string enum of 2", tags.Items)
	}
}

func TestNewToolFromSchema_Errors(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		want   error
	}{
		{"not object", `{"type":"string"}`, ErrInvalidSchema},
		{"bad json", `{`, ErrInvalidSchema},
		{"array without items", `{"properties":{"a":{"type":"array"}}}`, ErrInvalidSchema},
		{"unknown type", `{"properties":{"a":{"type":"date"}}}`, ErrInvalidSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewToolFromSchema("tool", validDescription, json.RawMessage(tt.schema))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewToolFromSchema_Empty(t *testing.T) {
	tool, err := NewToolFromSchema("ping", "Checks that the server is alive.", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tool.Parameters().Properties) != 0 {
		t.Errorf("expected no properties, got %v", tool.Parameters().Properties)
	}
}
