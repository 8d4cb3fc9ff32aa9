package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 is wrapped by argument decoding errors when the arguments
// are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("arguments are not valid UTF-8")

// ToolCall is a model-issued request to invoke a tool.
type ToolCall struct {
	// ID is the vendor-assigned identifier, unique within one response.
	ID string

	// Name should match the name of a tool offered to the model. It is not
	// checked by this type.
	Name string

	// Arguments is the raw JSON-encoded argument object.
	Arguments string
}

// DecodeArguments unmarshals the call arguments into v.
//
// Failures are [KindDecoding] errors naming the tool and call id. Invalid
// UTF-8 wraps [ErrInvalidUTF8], malformed JSON wraps *json.SyntaxError and a
// type mismatch wraps *json.UnmarshalTypeError, so the three cases can be
// told apart with errors.Is and errors.As.
func (c ToolCall) DecodeArguments(v any) error {
	args := c.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if !utf8.ValidString(args) {
		return DecodingError(c.describe("invalid UTF-8 in arguments"), args, ErrInvalidUTF8)
	}
	dec := json.NewDecoder(strings.NewReader(args))
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			return DecodingError(c.describe(fmt.Sprintf("malformed JSON at offset %d: %v", syntaxErr.Offset, err)), args, err)
		case errors.As(err, &typeErr):
			path := typeErr.Field
			if path == "" {
				path = "(root)"
			}
			return DecodingError(c.describe(fmt.Sprintf("field %s: cannot decode JSON %s into %s", path, typeErr.Value, typeErr.Type)), args, err)
		default:
			// io.ErrUnexpectedEOF for truncated documents lands here.
			return DecodingError(c.describe(fmt.Sprintf("malformed JSON: %v", err)), args, &json.SyntaxError{Offset: int64(len(args))})
		}
	}
	if dec.More() {
		return DecodingError(c.describe("trailing data after JSON arguments"), args, &json.SyntaxError{Offset: dec.InputOffset()})
	}
	return nil
}

func (c ToolCall) describe(msg string) string {
	return fmt.Sprintf("tool %q (call %s): %s", c.Name, c.ID, msg)
}

// DecodeToolArguments decodes the arguments of c into a new T.
func DecodeToolArguments[T any](c ToolCall) (T, error) {
	var v T
	err := c.DecodeArguments(&v)
	return v, err
}

// ToolErrorCategory classifies a tool execution failure.
type ToolErrorCategory string

const (
	ToolErrInvalidArguments     ToolErrorCategory = "invalidArguments"
	ToolErrAuthenticationFailed ToolErrorCategory = "authenticationFailed"
	ToolErrRateLimited          ToolErrorCategory = "rateLimited"
	ToolErrResourceNotFound     ToolErrorCategory = "resourceNotFound"
	ToolErrExecutionTimeout     ToolErrorCategory = "executionTimeout"
	ToolErrNetworkError         ToolErrorCategory = "networkError"
	ToolErrPermissionDenied     ToolErrorCategory = "permissionDenied"
	ToolErrCancelled            ToolErrorCategory = "cancelled"
	ToolErrUnknown              ToolErrorCategory = "unknown"
)

// ToolExecutionError describes why a tool could not produce a result. Tool
// handlers may return one directly to control the category reported to the
// model.
type ToolExecutionError struct {
	Category ToolErrorCategory
	Message  string
	Details  map[string]string
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Category, e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Details)) {
		fmt.Fprintf(&sb, "; %s=%s", k, e.Details[k])
	}
	return sb.String()
}

// ToolResult is the caller-supplied outcome of one tool call.
type ToolResult struct {
	// ToolCallID references the ToolCall.ID this result answers.
	ToolCallID string

	// Content is the success payload, JSON or plain text.
	Content string

	// Err is set when the tool failed. Content is ignored in that case.
	Err *ToolExecutionError
}

// Success returns a successful result for the call with the given id.
func Success(toolCallID, content string) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Content: content}
}

// Failure returns a failed result for the call with the given id.
func Failure(toolCallID string, err ToolExecutionError) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Err: &err}
}

// IsError reports whether the result is a failure.
func (r ToolResult) IsError() bool { return r.Err != nil }

// Text renders the result as the string sent back to the model.
func (r ToolResult) Text() string {
	if r.Err == nil {
		return r.Content
	}
	return "error: " + r.Err.Error()
}

// ToolChoiceMode enumerates the tool selection policies.
type ToolChoiceMode string

const (
	// ToolChoiceAuto lets the model decide. It is the zero value.
	ToolChoiceAuto ToolChoiceMode = "auto"

	// ToolChoiceNone asks for a text-only answer.
	ToolChoiceNone ToolChoiceMode = "none"

	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoiceMode = "required"

	// ToolChoiceTool forces a call to the tool named in ToolChoice.Name.
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ToolChoice is the tool selection policy for one request. The zero value
// means auto. ToolChoice values are comparable with ==.
type ToolChoice struct {
	Mode ToolChoiceMode

	// Name is the forced tool for ToolChoiceTool and empty otherwise.
	Name string
}

// Convenience constructors.
func ChooseAuto() ToolChoice { return ToolChoice{Mode: ToolChoiceAuto} }
func ChooseNone() ToolChoice { return ToolChoice{Mode: ToolChoiceNone} }
func ChooseRequired() ToolChoice { return ToolChoice{Mode: ToolChoiceRequired} }
func ChooseTool(name string) ToolChoice { return ToolChoice{Mode: ToolChoiceTool, Name: name} }

// Normalized maps the zero value to ToolChoiceAuto.
func (c ToolChoice) Normalized() ToolChoice {
	if c.Mode == "" {
		c.Mode = ToolChoiceAuto
	}
	return c
}

// Validate reports malformed choices.
func (c ToolChoice) Validate() error {
	switch c.Normalized().Mode {
	case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		if c.Name != "" {
			return InvalidRequestError(fmt.Sprintf("tool choice %q must not name a tool", c.Mode))
		}
		return nil
	case ToolChoiceTool:
		if c.Name == "" {
			return InvalidRequestError("specific tool choice requires a tool name")
		}
		return nil
	default:
		return InvalidRequestError(fmt.Sprintf("unknown tool choice %q", c.Mode))
	}
}

// String returns "auto", "none", "required" or "tool:<name>".
func (c ToolChoice) String() string {
	c = c.Normalized()
	if c.Mode == ToolChoiceTool {
		return "tool:" + c.Name
	}
	return string(c.Mode)
}

// MarshalJSON encodes auto, none and required as bare strings and a specific
// tool as {"type":"tool","name":...}.
func (c ToolChoice) MarshalJSON() ([]byte, error) {
	c = c.Normalized()
	if c.Mode == ToolChoiceTool {
		return json.Marshal(struct {
			Type string `json:"type"`
			Name string `json:"name"`
		}{"tool", c.Name})
	}
	return json.Marshal(string(c.Mode))
}

// UnmarshalJSON accepts the encodings produced by MarshalJSON.
func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ToolChoice{Mode: ToolChoiceMode(s)}
		return c.Validate()
	}
	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Type != string(ToolChoiceTool) {
		return fmt.Errorf("llm: unknown tool choice type %q", obj.Type)
	}
	*c = ToolChoice{Mode: ToolChoiceTool, Name: obj.Name}
	return c.Validate()
}
