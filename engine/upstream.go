package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/LubyRuffy/vllmpoc/openaiapi"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const maxErrorBodyBytes = 8 << 10

// Engine 是网关依赖的引擎句柄。
type Engine interface {
	einoModel.BaseChatModel
	Health(ctx context.Context) error
}

// StatusError 表示引擎返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine request failed with status %d: %s", e.StatusCode, e.Body)
}

type UpstreamConfig struct {
	// BaseURL 引擎 OpenAI 兼容服务地址，例如 http://127.0.0.1:8000（不含 /v1）。
	BaseURL string
	// Model 请求引擎时使用的模型名，可被 einoModel.WithModel 覆盖。
	Model      string
	APIKey     string
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// UpstreamEngine 是基于引擎 /v1/chat/completions SSE 接口的 ChatModel 实现。
type UpstreamEngine struct {
	config UpstreamConfig
}

var _ Engine = (*UpstreamEngine)(nil)

func NewUpstreamEngine(config UpstreamConfig) (*UpstreamEngine, error) {
	config.BaseURL = strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if config.BaseURL == "" {
		return nil, fmt.Errorf("engine base url is required")
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/v1")
	if strings.TrimSpace(config.Model) == "" {
		return nil, fmt.Errorf("engine model is required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = logger.L()
	}
	config.Logger = config.Logger.Named("engine")
	return &UpstreamEngine{config: config}, nil
}

func (e *UpstreamEngine) BaseURL() string { return e.config.BaseURL }

func (e *UpstreamEngine) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	result, err := e.doStreamRequest(ctx, input, opts, func(string) {})
	if err != nil {
		return nil, err
	}
	msg := schema.AssistantMessage(result.content, nil)
	msg.ResponseMeta = result.meta()
	return msg, nil
}

// Stream 返回增量消息流；最后一条消息内容为空，携带 ResponseMeta（finish_reason/usage）。
func (e *UpstreamEngine) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](64)
	go func() {
		defer sw.Close()
		result, err := e.doStreamRequest(ctx, input, opts, func(delta string) {
			sw.Send(&schema.Message{Role: schema.Assistant, Content: delta}, nil)
		})
		if err != nil {
			sw.Send(nil, err)
			return
		}
		sw.Send(&schema.Message{Role: schema.Assistant, ResponseMeta: result.meta()}, nil)
	}()
	return sr, nil
}

// Health 检查引擎 /health。
func (e *UpstreamEngine) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	e.setAuth(req)
	resp, err := e.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine health request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (e *UpstreamEngine) setAuth(req *http.Request) {
	if key := strings.TrimSpace(e.config.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

type upstreamMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type upstreamStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type upstreamPayload struct {
	Model         string                `json:"model"`
	Messages      []upstreamMessage     `json:"messages"`
	Stream        bool                  `json:"stream"`
	StreamOptions upstreamStreamOptions `json:"stream_options"`
	Temperature   *float32              `json:"temperature,omitempty"`
	TopP          *float32              `json:"top_p,omitempty"`
	MaxTokens     *int                  `json:"max_tokens,omitempty"`
	Stop          []string              `json:"stop,omitempty"`
}

func (e *UpstreamEngine) buildPayload(input []*schema.Message, opts []einoModel.Option) (*upstreamPayload, error) {
	options := einoModel.GetCommonOptions(&einoModel.Options{}, opts...)

	messages := make([]upstreamMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		content := resolveMessageContent(msg)
		if msg.Role != schema.Assistant && content == "" {
			continue
		}
		messages = append(messages, upstreamMessage{Role: string(msg.Role), Content: content})
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no valid messages to send")
	}

	model := e.config.Model
	if options.Model != nil && strings.TrimSpace(*options.Model) != "" {
		model = strings.TrimSpace(*options.Model)
	}

	return &upstreamPayload{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: upstreamStreamOptions{IncludeUsage: true},
		Temperature:   options.Temperature,
		TopP:          options.TopP,
		MaxTokens:     options.MaxTokens,
		Stop:          options.Stop,
	}, nil
}

func resolveMessageContent(msg *schema.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	var builder strings.Builder
	for _, part := range msg.UserInputMultiContent {
		if part.Type == schema.ChatMessagePartTypeText {
			builder.WriteString(part.Text)
		}
	}
	return builder.String()
}

type streamResult struct {
	content      string
	finishReason string
	usage        *openaiapi.Usage
}

func (r *streamResult) meta() *schema.ResponseMeta {
	meta := &schema.ResponseMeta{FinishReason: r.finishReason}
	if r.usage != nil {
		meta.Usage = &schema.TokenUsage{
			PromptTokens:     r.usage.PromptTokens,
			CompletionTokens: r.usage.CompletionTokens,
			TotalTokens:      r.usage.TotalTokens,
		}
	}
	return meta
}

func (e *UpstreamEngine) doStreamRequest(ctx context.Context, input []*schema.Message, opts []einoModel.Option, onDelta func(string)) (*streamResult, error) {
	payload, err := e.buildPayload(input, opts)
	if err != nil {
		return nil, err
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build engine request: %w", err)
	}
	e.setAuth(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set(logger.HeaderRequestID, id)
	}

	resp, err := e.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	result, err := readEngineSSE(ctx, resp.Body, onDelta)
	if err != nil {
		return nil, err
	}
	e.config.Logger.WithContext(ctx).Debug("engine completion finished",
		zap.String("model", payload.Model),
		zap.Int("content_len", len(result.content)),
		zap.String("finish_reason", result.finishReason),
	)
	return result, nil
}

type engineChunk struct {
	Object  string `json:"object"`
	Message string `json:"message"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiapi.Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func readEngineSSE(ctx context.Context, body io.Reader, onDelta func(string)) (*streamResult, error) {
	reader := bufio.NewReader(body)
	result := &streamResult{}
	var content strings.Builder

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == openaiapi.DoneSentinel {
				break
			}
			if data != "" {
				if err := handleEngineChunk(data, result, &content, onDelta); err != nil {
					return nil, err
				}
			}
		}
		if eof {
			break
		}
	}

	result.content = content.String()
	return result, nil
}

func handleEngineChunk(data string, result *streamResult, content *strings.Builder, onDelta func(string)) error {
	var chunk engineChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// 非 JSON 行直接忽略
		return nil
	}
	if chunk.Error != nil {
		return fmt.Errorf("engine stream error: %s", chunk.Error.Message)
	}
	if chunk.Object == "error" {
		return fmt.Errorf("engine stream error: %s", chunk.Message)
	}
	if chunk.Usage != nil {
		usage := *chunk.Usage
		result.usage = &usage
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta.Content
	if delta == "" && choice.Message != nil {
		delta = choice.Message.Content
	}
	if delta != "" {
		content.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		result.finishReason = *choice.FinishReason
	}
	return nil
}
