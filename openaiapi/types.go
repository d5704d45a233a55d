package openaiapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectList                = "list"
	ObjectModel               = "model"

	// DoneSentinel 是 SSE 流结束标记（data: [DONE]）。
	DoneSentinel = "[DONE]"
)

// ChatMessage 聊天消息。Content 兼容字符串与 content parts 数组两种写法。
type ChatMessage struct {
	Role       string `json:"role"`
	Content    any    `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// StreamOptions 对应 stream_options。
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatRequest 聊天请求。
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	Stop          any            `json:"stop,omitempty"`
	N             *int           `json:"n,omitempty"`
	User          string         `json:"user,omitempty"`
}

// Usage token 使用统计。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseMessage 是响应中的 assistant 消息（content 固定为字符串）。
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatChoice 非流式响应选项。
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatCompletion 非流式响应。
type ChatCompletion struct {
	ID                string       `json:"id"`
	Object            string       `json:"object"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	SystemFingerprint string       `json:"system_fingerprint,omitempty"`
	Choices           []ChatChoice `json:"choices"`
	Usage             Usage        `json:"usage"`
}

// Delta 流式响应增量，Content 使用指针以便 omitempty 正确工作。
type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ChunkChoice 流式响应选项。
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatChunk 流式响应块。
type ChatChunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint string        `json:"system_fingerprint,omitempty"`
	Choices           []ChunkChoice `json:"choices"`
	Usage             *Usage        `json:"usage,omitempty"`
}

// ModelCard 模型信息。parent 没有值时序列化为 null。
type ModelCard struct {
	ID      string  `json:"id"`
	Object  string  `json:"object"`
	Created int64   `json:"created"`
	OwnedBy string  `json:"owned_by"`
	Root    string  `json:"root,omitempty"`
	Parent  *string `json:"parent"`
}

// ModelList 模型列表响应。
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

// ErrorDetail 错误详情。
type ErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   any     `json:"param"`
	Code    *string `json:"code"`
}

// ErrorBody OpenAI 错误响应。
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// HealthStatus /health 响应。
type HealthStatus struct {
	Status        string  `json:"status"`
	Model         string  `json:"model,omitempty"`
	Engine        string  `json:"engine,omitempty"`
	Error         string  `json:"error,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewChatCompletionID 生成聊天完成 ID。
func NewChatCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewChunk 创建流式响应块。
func NewChunk(id, model string, created time.Time, delta Delta, finishReason *string) ChatChunk {
	return ChatChunk{
		ID:      id,
		Object:  ObjectChatCompletionChunk,
		Created: created.Unix(),
		Model:   model,
		Choices: []ChunkChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
	}
}

// NewUsageChunk 创建 include_usage 时追加的统计块（choices 为空数组）。
func NewUsageChunk(id, model string, created time.Time, usage Usage) ChatChunk {
	return ChatChunk{
		ID:      id,
		Object:  ObjectChatCompletionChunk,
		Created: created.Unix(),
		Model:   model,
		Choices: []ChunkChoice{},
		Usage:   &usage,
	}
}

// NewCompletion 创建非流式响应。finishReason 为空时按 stop 处理。
func NewCompletion(id, model string, created time.Time, content, finishReason string, usage Usage) ChatCompletion {
	if finishReason == "" {
		finishReason = "stop"
	}
	return ChatCompletion{
		ID:      id,
		Object:  ObjectChatCompletion,
		Created: created.Unix(),
		Model:   model,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: ResponseMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: &finishReason,
			},
		},
		Usage: usage,
	}
}

// NewUsage 根据 prompt/completion 计算 total。
func NewUsage(promptTokens, completionTokens int) Usage {
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// ContentText 将 content（字符串或 parts 数组）展开为纯文本。
func ContentText(content any) (string, error) {
	if content == nil {
		return "", nil
	}
	if text, ok := content.(string); ok {
		return text, nil
	}

	parts, ok := content.([]any)
	if !ok {
		return "", fmt.Errorf("unsupported message content")
	}

	var builder strings.Builder
	for _, part := range parts {
		partMap, ok := part.(map[string]any)
		if !ok {
			continue
		}
		if partType, _ := partMap["type"].(string); partType != "text" {
			continue
		}
		if text, ok := partMap["text"].(string); ok {
			builder.WriteString(text)
		}
	}
	return builder.String(), nil
}

// StopSequences 将 stop（字符串或字符串数组）规范化为切片。
func StopSequences(stop any) ([]string, error) {
	switch v := stop.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("stop must be a string or an array of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("stop must be a string or an array of strings")
	}
}
