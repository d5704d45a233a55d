package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

func (c *Client) buildRequest(messages []openai.ChatCompletionMessage, opts ChatOptions, stream bool) openai.ChatCompletionRequest {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = c.model
	}
	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	// Temperature 带 omitempty，显式的 0 会被丢掉
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

// ChatCompletion 非流式对话。成功时 Data 为完整的 chat.completion 响应。
func (c *Client) ChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, opts ChatOptions) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.buildRequest(messages, opts, false)
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("chat completion failed", zap.String("model", req.Model), zap.Error(err))
		result := failed(err)
		raw := rawResponse(err)
		result.Response = &raw
		return result
	}
	return Result{Status: StatusSuccess, Data: resp}
}

// ChatCompletionStream 流式对话：增量内容边收边写到 output，返回拼接后的完整内容。
// 无法解析的数据块会被跳过。
func (c *Client) ChatCompletionStream(ctx context.Context, messages []openai.ChatCompletionMessage, opts ChatOptions) StreamResult {
	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	defer cancel()

	req := c.buildRequest(messages, opts, true)
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		c.logger.Warn("chat completion stream failed", zap.String("model", req.Model), zap.Error(err))
		return StreamResult{Status: StatusFailed, Error: err.Error()}
	}
	defer stream.Close()

	var (
		full         strings.Builder
		finishReason string
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isMalformedChunk(err) {
				c.logger.Debug("skip malformed stream chunk", zap.Error(err))
				continue
			}
			c.logger.Warn("chat completion stream interrupted", zap.Int("received", full.Len()), zap.Error(err))
			return StreamResult{Status: StatusFailed, Error: err.Error()}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		full.WriteString(choice.Delta.Content)
		fmt.Fprint(c.output, choice.Delta.Content)
	}
	fmt.Fprintln(c.output)

	return StreamResult{
		Status:       StatusSuccess,
		FullContent:  full.String(),
		FinishReason: finishReason,
	}
}

func isMalformedChunk(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// rawResponse 尽量还原服务端返回的错误响应体。
func rawResponse(err error) string {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && len(reqErr.Body) > 0 {
		return string(reqErr.Body)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		data, marshalErr := json.Marshal(map[string]any{"error": apiErr})
		if marshalErr == nil {
			return string(data)
		}
	}
	return ""
}
