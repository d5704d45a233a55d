package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	out := &bytes.Buffer{}
	base := []Option{
		WithBaseURL(srv.URL + "/"),
		WithAPIKey("dummy-key"),
		WithHTTPClient(srv.Client()),
		WithLogger(logger.Nop()),
		WithOutput(out),
	}
	return New(append(base, opts...)...), out
}

var sampleMessages = []openai.ChatCompletionMessage{
	SystemMessage("你是一个简洁的AI助手，回答准确、易懂，用中文回复"),
	UserMessage("介绍一下vLLM的核心优势，用3句话概括"),
}

func requireHeaders(t *testing.T, r *http.Request) {
	t.Helper()
	require.Equal(t, "Bearer dummy-key", r.Header.Get("Authorization"))
	require.Equal(t, "application/json", r.Header.Get("Content-Type"))
}

func TestNew_Defaults(t *testing.T) {
	c := New(WithBaseURL("http://localhost:8000/v1/"), WithModel("  "), WithLogger(logger.Nop()))
	require.Equal(t, "http://localhost:8000", c.BaseURL())
	require.Equal(t, vllmpoc.DefaultClientModel, c.Model())

	c = New(WithLogger(logger.Nop()))
	require.Equal(t, vllmpoc.DefaultBaseURL, c.BaseURL())
}

func TestHealthCheck_Success(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		requireHeaders(t, r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","model":"Qwen/Qwen-1.8B-Chat"}`)
	}))

	res := c.HealthCheck(context.Background())
	require.True(t, res.OK())
	require.Equal(t, map[string]any{"status": "ok", "model": "Qwen/Qwen-1.8B-Chat"}, res.Data)
	require.Empty(t, res.Error)
}

func TestHealthCheck_Failures(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"unhealthy"}`)
	}))
	res := c.HealthCheck(context.Background())
	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Error, "503")

	c, _ = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	res = c.HealthCheck(context.Background())
	require.Equal(t, StatusFailed, res.Status)

	c, _ = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}), WithHealthTimeout(20*time.Millisecond))
	res = c.HealthCheck(context.Background())
	require.Equal(t, StatusFailed, res.Status)
	require.NotEmpty(t, res.Error)
}

func TestHealthCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(WithBaseURL(url), WithLogger(logger.Nop()))
	res := c.HealthCheck(context.Background())
	require.Equal(t, StatusFailed, res.Status)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	require.NotContains(t, string(data), `"data"`)
	require.NotContains(t, string(data), `"response"`)
}

func TestListModels(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		require.Equal(t, "Bearer dummy-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"Qwen/Qwen-1.8B-Chat","object":"model","created":1700000000,"owned_by":"vllm","root":"Qwen/Qwen-1.8B-Chat","parent":null}]}`)
	}))

	list := c.ListModels(context.Background())
	require.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	require.Equal(t, "Qwen/Qwen-1.8B-Chat", list.Data[0].ID)
	require.Equal(t, int64(1700000000), list.Data[0].Created)
	require.Nil(t, list.Data[0].Parent)
}

func TestListModels_Fallback(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	before := time.Now().Unix()
	list := c.ListModels(context.Background())
	require.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	card := list.Data[0]
	require.Equal(t, vllmpoc.DefaultClientModel, card.ID)
	require.Equal(t, vllmpoc.DefaultClientModel, card.Root)
	require.Equal(t, "vllm", card.OwnedBy)
	require.Nil(t, card.Parent)
	require.GreaterOrEqual(t, card.Created, before)
}

func TestChatCompletion_Success(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		requireHeaders(t, r)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, vllmpoc.DefaultClientModel, body["model"])
		require.InDelta(t, 0.7, body["temperature"], 1e-6)
		require.Equal(t, float64(512), body["max_tokens"])
		require.Len(t, body["messages"], 2)
		_, hasStream := body["stream"]
		require.False(t, hasStream && body["stream"] == true)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"Qwen/Qwen3-0.6B","choices":[{"index":0,"message":{"role":"assistant","content":"高吞吐、低延迟、易部署。"},"finish_reason":"stop"}],"usage":{"prompt_tokens":20,"completion_tokens":8,"total_tokens":28}}`)
	}))

	res := c.ChatCompletion(context.Background(), sampleMessages, ChatOptions{})
	require.True(t, res.OK(), res.Error)
	resp, ok := res.Data.(openai.ChatCompletionResponse)
	require.True(t, ok)
	require.Equal(t, "高吞吐、低延迟、易部署。", resp.Choices[0].Message.Content)
	require.Equal(t, 28, resp.Usage.TotalTokens)
}

func TestChatCompletion_Options(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "other-model", body["model"])
		require.InDelta(t, 0.2, body["temperature"], 1e-6)
		require.Equal(t, float64(64), body["max_tokens"])
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))

	temp := float32(0.2)
	res := c.ChatCompletion(context.Background(), sampleMessages, ChatOptions{Model: "other-model", Temperature: &temp, MaxTokens: 64})
	require.True(t, res.OK(), res.Error)
}

func TestChatCompletion_ZeroTemperature(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Contains(t, body, "temperature")
		require.InDelta(t, 0, body["temperature"], 1e-6)
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))

	zero := float32(0)
	res := c.ChatCompletion(context.Background(), sampleMessages, ChatOptions{Temperature: &zero})
	require.True(t, res.OK(), res.Error)
}

func TestChatCompletion_ServerError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"engine exploded","type":"api_error","param":null,"code":null}}`)
	}))

	res := c.ChatCompletion(context.Background(), sampleMessages, ChatOptions{})
	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Error, "engine exploded")
	require.NotNil(t, res.Response)
	require.Contains(t, *res.Response, "engine exploded")
}

func TestChatCompletion_NonJSONError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `upstream down`)
	}))

	res := c.ChatCompletion(context.Background(), sampleMessages, ChatOptions{})
	require.Equal(t, StatusFailed, res.Status)
	require.NotNil(t, res.Response)
	require.Equal(t, "upstream down", *res.Response)
}

func sseHandler(t *testing.T, lines ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireHeaders(t, r)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprint(w, line+"\n\n")
		}
	})
}

func TestChatCompletionStream_Success(t *testing.T) {
	c, out := newTestClient(t, sseHandler(t,
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"vLLM "},"finish_reason":null}]}`,
		`data: {not json`,
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"很快"},"finish_reason":null}]}`,
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
		`data: [DONE]`,
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"ignored"}}]}`,
	))

	res := c.ChatCompletionStream(context.Background(), sampleMessages, ChatOptions{})
	require.True(t, res.OK(), res.Error)
	require.Equal(t, "vLLM 很快", res.FullContent)
	require.Equal(t, "stop", res.FinishReason)
	require.Equal(t, "vLLM 很快\n", out.String())
}

func TestChatCompletionStream_MidStreamError(t *testing.T) {
	c, _ := newTestClient(t, sseHandler(t,
		`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"partial"}}]}`,
		`data: {"error":{"message":"engine stream error: overloaded","type":"api_error","param":null,"code":null}}`,
		`data: [DONE]`,
	))

	res := c.ChatCompletionStream(context.Background(), sampleMessages, ChatOptions{})
	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Error, "overloaded")
}

func TestChatCompletionStream_HTTPError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"streaming is not enabled on this server","type":"invalid_request_error"}}`)
	}))

	res := c.ChatCompletionStream(context.Background(), sampleMessages, ChatOptions{})
	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Error, "streaming is not enabled")

	data, err := json.Marshal(res)
	require.NoError(t, err)
	require.NotContains(t, string(data), "full_content")
}
