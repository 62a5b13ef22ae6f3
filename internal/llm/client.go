// Package llm provides chat-based LLM clients for the interaction discovery
// pipeline.
//
// The package defines a provider-neutral Client interface covering plain chat
// completions and tool calling, with implementations for the OpenAI Chat
// Completions API and the Anthropic Messages API. The discovery pipeline uses
// it to compose literature search queries, judge abstract relevance, and drive
// the tool-calling interaction extraction loop.
//
// Example usage:
//
//	client, err := llm.NewClient(llm.FactoryConfig{
//		Provider: "openai",
//		OpenAI:   llm.OpenAIConfig{APIKey: key},
//	})
//	resp, err := client.Chat(ctx, llm.ChatRequest{
//		Messages: []llm.Message{
//			llm.SystemMessage("You are a terse assistant."),
//			llm.UserMessage("Compose a PubMed query for dopamine and motivation."),
//		},
//	})
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Message roles understood by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Normalized stop reasons. Providers report completion termination in their
// own vocabulary; clients translate to these values.
const (
	// StopEndTurn means the model finished its turn normally.
	StopEndTurn = "end_turn"
	// StopToolUse means the model stopped to request one or more tool calls.
	StopToolUse = "tool_use"
	// StopMaxTokens means generation was cut off by the token limit.
	StopMaxTokens = "max_tokens"
)

// Message is a single turn in a chat conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the text content of the message. May be empty on assistant
	// messages that contain only tool calls.
	Content string

	// ToolCalls carries the tool invocations requested by an assistant
	// message. Empty for all other roles.
	ToolCalls []ToolCall

	// ToolCallID identifies which tool call a RoleTool message answers.
	ToolCallID string
}

// Tool describes a function the model may call during a chat turn.
type Tool struct {
	// Name is the function name the model uses to invoke the tool.
	Name string

	// Description tells the model what the tool does and when to use it.
	Description string

	// Parameters is a JSON Schema object describing the tool's arguments.
	Parameters json.RawMessage
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call. Tool result
	// messages must echo it back via Message.ToolCallID.
	ID string

	// Name is the name of the tool being invoked.
	Name string

	// Arguments is the raw JSON arguments object produced by the model.
	// It may be malformed; callers must validate before use.
	Arguments json.RawMessage
}

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	// Messages is the conversation so far, in order.
	Messages []Message

	// Tools are the functions the model may call. Empty disables tool calling.
	Tools []Tool

	// MaxTokens overrides the client's configured response token limit when
	// greater than zero.
	MaxTokens int
}

// ChatResponse is a provider-neutral chat completion response.
type ChatResponse struct {
	// Content is the concatenated text output of the response.
	Content string

	// ToolCalls are the tool invocations the model requested, if any.
	ToolCalls []ToolCall

	// StopReason is one of the Stop* constants.
	StopReason string

	// Model is the model identifier reported by the provider.
	Model string

	// Usage contains token accounting for the call.
	Usage Usage
}

// Usage contains token usage for a single API call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Client is the interface implemented by provider chat clients.
//
// Implementations should handle provider-specific API calls, retries on
// transient failures, and response parsing while conforming to this unified
// interface.
type Client interface {
	// Chat sends a chat completion request and returns the model's response.
	// The context should be used for cancellation and deadline propagation.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Provider returns the name of the LLM provider (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// Options carries provider-independent tuning parameters shared by all
// client constructors.
type Options struct {
	// Temperature is the sampling temperature for all calls.
	Temperature float64

	// MaxTokens is the default response token limit. Zero selects the
	// provider default.
	MaxTokens int

	// Timeout bounds each HTTP request to the provider.
	Timeout time.Duration

	// MaxRetries is how many times transient failures are retried.
	MaxRetries int
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage converts a model response into the assistant message that
// continues the conversation, preserving any tool calls.
func AssistantMessage(resp *ChatResponse) Message {
	return Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
}

// ToolResultMessage builds the tool-role message answering the given call.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}
