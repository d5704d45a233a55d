package client

import "github.com/sashabaranov/go-openai"

// Result 是健康检查与非流式对话的结果。
type Result struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	// Response 失败时收到的原始响应体（没有收到响应时为空）。
	Response *string `json:"response,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

// StreamResult 流式对话结果。
type StreamResult struct {
	Status       string `json:"status"`
	FullContent  string `json:"full_content,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (r StreamResult) OK() bool { return r.Status == StatusSuccess }

// ChatOptions 对话参数；零值字段使用默认值（temperature 0.7，max_tokens 512，客户端默认模型）。
type ChatOptions struct {
	Model       string
	Temperature *float32
	MaxTokens   int
}

func SystemMessage(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: content}
}

func UserMessage(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content}
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Error: err.Error()}
}
