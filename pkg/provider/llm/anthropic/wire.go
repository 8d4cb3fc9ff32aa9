package anthropic

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// ── Request ─────────────────────────────────────────────────────────────────

type messagesRequest struct {
	Model         string      `json:"model"`
	MaxTokens     int         `json:"max_tokens"`
	System        string      `json:"system,omitempty"`
	Messages      []message   `json:"messages"`
	Tools         []toolDef   `json:"tools,omitempty"`
	ToolChoice    *toolChoice `json:"tool_choice,omitempty"`
	Temperature   *float64    `json:"temperature,omitempty"`
	TopP          *float64    `json:"top_p,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
	Stream        bool        `json:"stream,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock covers the text, tool_use and tool_result block types.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ── Response ────────────────────────────────────────────────────────────────

type messagesResponse struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Content      []contentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ── Translation ─────────────────────────────────────────────────────────────

func textMessage(role, text string) message {
	return message{Role: role, Content: []contentBlock{{Type: "text", Text: text}}}
}

// convertConversation maps the unified message log onto the vendor shape.
// Tool results travel as tool_result blocks inside a user message, and
// consecutive messages of the same role are merged because the vendor
// requires strict alternation.
func convertConversation(conv *llm.Conversation) ([]message, error) {
	var out []message
	for _, m := range conv.Messages() {
		var msg message
		switch m.Role {
		case llm.RoleUser:
			// The vendor rejects text blocks without visible text.
			msg.Role = "user"
			if strings.TrimSpace(m.Content) != "" {
				msg.Content = append(msg.Content, contentBlock{Type: "text", Text: m.Content})
			}
		case llm.RoleAssistant:
			msg.Role = "assistant"
			if strings.TrimSpace(m.Content) != "" {
				msg.Content = append(msg.Content, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := strings.TrimSpace(tc.Arguments)
				if input == "" {
					input = "{}"
				}
				if !json.Valid([]byte(input)) {
					return nil, llm.InvalidRequestError(fmt.Sprintf("tool call %s (%s) has invalid JSON arguments", tc.ID, tc.Name))
				}
				msg.Content = append(msg.Content, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(input),
				})
			}
		case llm.RoleTool:
			msg.Role = "user"
			for _, r := range m.ToolResults {
				msg.Content = append(msg.Content, contentBlock{
					Type:      "tool_result",
					ToolUseID: r.ToolCallID,
					Content:   r.Text(),
					IsError:   r.IsError(),
				})
			}
		case llm.RoleSystem:
			// The system prompt travels in its own field.
			continue
		default:
			return nil, llm.InvalidRequestError(fmt.Sprintf("unsupported message role %q", m.Role))
		}
		if len(msg.Content) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == msg.Role {
			out[n-1].Content = append(out[n-1].Content, msg.Content...)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func convertTools(tools []llm.Tool) []toolDef {
	out := make([]toolDef, len(tools))
	for i, t := range tools {
		out[i] = toolDef{Name: t.Name(), Description: t.Description(), InputSchema: t.Schema()}
	}
	return out
}

// applyToolChoice sets tools and tool_choice on req.
//
// none has no place in the auto/any/tool triple. The tools are omitted
// instead, unless the transcript already holds tool blocks: the vendor
// rejects those without tool definitions, so the tools stay and the choice
// is sent as {"type":"none"}.
func applyToolChoice(req *messagesRequest, conv *llm.Conversation, choice llm.ToolChoice) {
	tools := conv.Tools()
	if len(tools) == 0 {
		return
	}
	switch choice = choice.Normalized(); choice.Mode {
	case llm.ToolChoiceNone:
		if !conv.HasToolHistory() {
			return
		}
		req.Tools = convertTools(tools)
		req.ToolChoice = &toolChoice{Type: "none"}
	case llm.ToolChoiceRequired:
		req.Tools = convertTools(tools)
		req.ToolChoice = &toolChoice{Type: "any"}
	case llm.ToolChoiceTool:
		req.Tools = convertTools(tools)
		req.ToolChoice = &toolChoice{Type: "tool", Name: choice.Name}
	default:
		req.Tools = convertTools(tools)
		req.ToolChoice = &toolChoice{Type: "auto"}
	}
}

func convertResponse(resp *messagesResponse) *llm.CompletionResponse {
	out := &llm.CompletionResponse{
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Usage: llm.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Metadata: map[string]string{"id": resp.ID},
	}
	if resp.StopSequence != "" {
		out.Metadata["stop_sequence"] = resp.StopSequence
	}
	var text strings.Builder
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			args := string(b.Input)
			if args == "" || args == "null" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	out.Text = text.String()
	return out
}

var promptTooLongRE = regexp.MustCompile(`prompt is too long: (\d+) tokens > (\d+) maximum`)

// translateError refines the generic status mapping with the vendor's
// context-length message.
func translateError(e *llm.Error) *llm.Error {
	if e.Kind != llm.KindInvalidRequest {
		return e
	}
	m := promptTooLongRE.FindStringSubmatch(e.Message)
	if m == nil {
		return e
	}
	requested, _ := strconv.Atoi(m[1])
	maximum, _ := strconv.Atoi(m[2])
	return llm.ContextLengthError(requested, maximum)
}
