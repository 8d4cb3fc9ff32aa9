package llm

import (
	"errors"
	"slices"
	"sync"
)

// ErrNoToolResults is wrapped by the error returned when a conversation is
// continued without fresh tool results to submit.
var ErrNoToolResults = errors.New("no tool results to continue with")

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ConversationMessage is one entry of a [Conversation].
type ConversationMessage struct {
	Role Role

	// Content is the message text. Empty for assistant turns that only
	// carry tool calls and for tool-result messages.
	Content string

	// ToolCalls is only meaningful on assistant messages.
	ToolCalls []ToolCall

	// ToolResults is only meaningful on tool messages.
	ToolResults []ToolResult
}

func (m ConversationMessage) clone() ConversationMessage {
	m.ToolCalls = slices.Clone(m.ToolCalls)
	m.ToolResults = slices.Clone(m.ToolResults)
	return m
}

// Conversation is the ordered message log of one multi-turn exchange plus
// the tools and system prompt offered on every turn.
//
// A Conversation is a plain value owned by one call site. It is not safe for
// concurrent use; share it through [SafeConversation] instead.
//
// The conversation is Idle until an assistant turn carries tool calls. It
// then awaits tool results, and returns to Idle once [Conversation.AddToolResults]
// appends them. Any number of tool rounds may follow.
type Conversation struct {
	messages     []ConversationMessage
	tools        []Tool
	systemPrompt string
}

// ConversationOption configures a [Conversation].
type ConversationOption func(*Conversation)

// WithTools sets the tools offered on every turn.
func WithTools(tools ...Tool) ConversationOption {
	return func(c *Conversation) {
		c.tools = slices.Clone(tools)
	}
}

// WithSystemPrompt sets the system prompt sent with every turn.
func WithSystemPrompt(prompt string) ConversationOption {
	return func(c *Conversation) {
		c.systemPrompt = prompt
	}
}

// NewConversation starts a conversation with exactly one user message.
func NewConversation(userMessage string, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		messages: []ConversationMessage{{Role: RoleUser, Content: userMessage}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages returns a copy of the message log.
func (c *Conversation) Messages() []ConversationMessage {
	out := make([]ConversationMessage, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// Tools returns the tools offered on every turn.
func (c *Conversation) Tools() []Tool { return slices.Clone(c.tools) }

// SystemPrompt returns the system prompt, or "" when none is set.
func (c *Conversation) SystemPrompt() string { return c.systemPrompt }

// RequiresToolExecution reports whether the most recent message is an
// assistant turn with at least one tool call. Earlier turns are not
// considered.
func (c *Conversation) RequiresToolExecution() bool {
	if len(c.messages) == 0 {
		return false
	}
	last := c.messages[len(c.messages)-1]
	return last.Role == RoleAssistant && len(last.ToolCalls) > 0
}

// PendingToolCalls returns the tool calls awaiting results, or nil when the
// conversation is Idle.
func (c *Conversation) PendingToolCalls() []ToolCall {
	if !c.RequiresToolExecution() {
		return nil
	}
	return slices.Clone(c.messages[len(c.messages)-1].ToolCalls)
}

// AddAssistantResponse appends an assistant turn.
func (c *Conversation) AddAssistantResponse(text string, toolCalls []ToolCall) {
	c.messages = append(c.messages, ConversationMessage{
		Role:      RoleAssistant,
		Content:   text,
		ToolCalls: slices.Clone(toolCalls),
	})
}

// AddResponse appends resp as an assistant turn.
func (c *Conversation) AddResponse(resp *CompletionResponse) {
	c.AddAssistantResponse(resp.Text, resp.ToolCalls)
}

// AddToolResults appends one tool message carrying the whole batch.
func (c *Conversation) AddToolResults(results []ToolResult) {
	c.messages = append(c.messages, ConversationMessage{
		Role:        RoleTool,
		ToolResults: slices.Clone(results),
	})
}

// AddUserMessage appends a user turn. It does not change whether tool
// execution is pending.
func (c *Conversation) AddUserMessage(text string) {
	c.messages = append(c.messages, ConversationMessage{Role: RoleUser, Content: text})
}

// CheckContinuable reports whether the conversation can be re-submitted
// with tool results. Both the Idle state without fresh results and a turn
// whose calls still await results are caller errors wrapping
// [ErrNoToolResults].
func (c *Conversation) CheckContinuable() error {
	if c.RequiresToolExecution() {
		return &Error{Kind: KindInvalidRequest, Message: "tool calls are still awaiting results", Err: ErrNoToolResults}
	}
	if len(c.messages) == 0 || c.messages[len(c.messages)-1].Role != RoleTool {
		return &Error{Kind: KindInvalidRequest, Message: "conversation has no pending tool calls to continue", Err: ErrNoToolResults}
	}
	return nil
}

// HasToolHistory reports whether any message carries tool calls or results.
func (c *Conversation) HasToolHistory() bool {
	for _, m := range c.messages {
		if len(m.ToolCalls) > 0 || len(m.ToolResults) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	return &Conversation{
		messages:     c.Messages(),
		tools:        slices.Clone(c.tools),
		systemPrompt: c.systemPrompt,
	}
}

// SafeConversation serialises access to a [Conversation] shared between
// goroutines. All mutations and reads go through its mutex.
type SafeConversation struct {
	mu   sync.Mutex
	conv *Conversation
}

// NewSafeConversation takes ownership of conv.
func NewSafeConversation(conv *Conversation) *SafeConversation {
	return &SafeConversation{conv: conv}
}

// Do runs fn with exclusive access to the conversation. fn must not retain
// the pointer after returning.
func (s *SafeConversation) Do(fn func(c *Conversation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.conv)
}

// Snapshot returns a deep copy that the caller may use without locking,
// e.g. to hand to a provider while other goroutines keep appending.
func (s *SafeConversation) Snapshot() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Clone()
}

// AddAssistantResponse appends an assistant turn under the lock.
func (s *SafeConversation) AddAssistantResponse(text string, toolCalls []ToolCall) {
	s.Do(func(c *Conversation) { c.AddAssistantResponse(text, toolCalls) })
}

// AddToolResults appends a tool message under the lock.
func (s *SafeConversation) AddToolResults(results []ToolResult) {
	s.Do(func(c *Conversation) { c.AddToolResults(results) })
}

// AddUserMessage appends a user turn under the lock.
func (s *SafeConversation) AddUserMessage(text string) {
	s.Do(func(c *Conversation) { c.AddUserMessage(text) })
}

// RequiresToolExecution reads the awaiting flag under the lock.
func (s *SafeConversation) RequiresToolExecution() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.RequiresToolExecution()
}

// PendingToolCalls returns the calls awaiting results under the lock.
func (s *SafeConversation) PendingToolCalls() []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.PendingToolCalls()
}

// Len returns the message count under the lock.
func (s *SafeConversation) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Len()
}
