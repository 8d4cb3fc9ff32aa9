package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateStructured asks p for a JSON document describing a T and decodes
// it. The JSON Schema of T is derived by reflection and passed to the
// provider as a hint.
//
// A response that does not decode into T fails with [KindDecoding]; the raw
// vendor text is available in the error's Raw field.
func GenerateStructured[T any](ctx context.Context, p Provider, prompt, systemPrompt string, opts GenerationOptions) (T, error) {
	var zero T
	schema, err := SchemaFor[T]()
	if err != nil {
		return zero, err
	}
	raw, err := p.GenerateStructuredOutput(ctx, prompt, systemPrompt, schema, opts)
	if err != nil {
		return zero, err
	}
	return DecodeStructured[T](raw)
}

// DecodeStructured decodes raw into a T, reporting failures as [KindDecoding]
// errors that carry the raw text.
func DecodeStructured[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, DecodingError(fmt.Sprintf("structured output does not match %T: %v", v, err), string(raw), err)
	}
	return v, nil
}

// SchemaFor reflects the JSON Schema of T with all definitions inlined.
func SchemaFor[T any]() (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	b, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("llm: reflect schema: %w", err)
	}
	return b, nil
}

// ValidateJSON returns text as raw JSON, or a [KindDecoding] error carrying
// text when it is not a valid JSON document. Providers call it after their
// vendor-specific cleanup.
func ValidateJSON(text string) (json.RawMessage, error) {
	if !json.Valid([]byte(text)) {
		return nil, DecodingError("structured output is not valid JSON", text, nil)
	}
	return json.RawMessage(text), nil
}
