package models

import "strings"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// FunctionCall is a function invocation attached to a chat message.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// ChatCompletionRequest is an OpenAI-compatible chat completion request.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse is an OpenAI-compatible chat completion response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// AnthropicRequest is an Anthropic /v1/messages request.
type AnthropicRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
}

// AnthropicContent represents a content block in an Anthropic response.
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicUsage holds token counts from an Anthropic response.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicResponse is an Anthropic /v1/messages response.
type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	Content    []AnthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      *AnthropicUsage    `json:"usage,omitempty"`
}

// ToUsage converts AnthropicUsage to the standard Usage type.
func (u *AnthropicUsage) ToUsage() *Usage {
	return &Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

// Task types accepted in selection metadata.
const (
	TaskGeneralChat       = "general-chat"
	TaskCreativeWriting   = "creative-writing"
	TaskCodeGeneration    = "code-generation"
	TaskDataAnalysis      = "data-analysis"
	TaskReasoning         = "reasoning"
	TaskSummarization     = "summarization"
	TaskTranslation       = "translation"
	TaskQuestionAnswering = "question-answering"
)

// SelectionMetadata carries routing hints supplied by the caller.
type SelectionMetadata struct {
	TaskType           string `json:"task_type,omitempty"`
	QualityRequirement string `json:"quality_requirement,omitempty"`
	BudgetPriority     string `json:"budget_priority,omitempty"`
}

// SelectionConstraints restrict which models may serve a request.
type SelectionConstraints struct {
	MaxCost              *float64 `json:"max_cost,omitempty"`
	MinQuality           *float64 `json:"min_quality,omitempty"`
	ExcludedModels       []string `json:"excluded_models,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// SelectionRequest is a chat, batch item or estimate request to the gateway.
type SelectionRequest struct {
	RequestID   string               `json:"request_id,omitempty"`
	Messages    []ChatMessage        `json:"messages,omitempty"`
	Prompt      string               `json:"prompt,omitempty"`
	Scope       RequestScope         `json:"scope"`
	Context     map[string]any       `json:"context,omitempty"`
	Metadata    SelectionMetadata    `json:"metadata"`
	Constraints SelectionConstraints `json:"constraints"`
	MaxTokens   *int                 `json:"max_tokens,omitempty"`
}

// PromptText flattens the request content into a single prompt string.
func (r *SelectionRequest) PromptText() string {
	if len(r.Messages) == 0 {
		return r.Prompt
	}
	parts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// ChatMessages returns the request content as chat messages.
func (r *SelectionRequest) ChatMessages() []ChatMessage {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return []ChatMessage{{Role: RoleUser, Content: r.Prompt}}
}
