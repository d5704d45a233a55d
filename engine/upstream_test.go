package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/LubyRuffy/vllmpoc/logger"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

func TestReadEngineSSE_DeltaUsageAndDone(t *testing.T) {
	body := strings.NewReader("" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hel\"},\"finish_reason\":null}]}\n\n" +
		": keep-alive\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ignored\"}}]}\n\n")

	var deltas []string
	result, err := readEngineSSE(context.Background(), body, func(delta string) {
		deltas = append(deltas, delta)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"hel", "lo"}, deltas)
	require.Equal(t, "hello", result.content)
	require.Equal(t, "stop", result.finishReason)
	require.NotNil(t, result.usage)
	require.Equal(t, 7, result.usage.TotalTokens)
}

func TestReadEngineSSE_MessageContentFallback(t *testing.T) {
	body := strings.NewReader("data: {\"choices\":[{\"message\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	result, err := readEngineSSE(context.Background(), body, nil)
	require.NoError(t, err)
	require.Equal(t, "hi", result.content)
}

func TestReadEngineSSE_SkipsMalformedAndStopsAtEOF(t *testing.T) {
	body := strings.NewReader("data: not-json\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}")
	result, err := readEngineSSE(context.Background(), body, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", result.content)
}

func TestReadEngineSSE_ErrorEvent(t *testing.T) {
	body := strings.NewReader("data: {\"error\":{\"message\":\"out of memory\"}}\n\n")
	_, err := readEngineSSE(context.Background(), body, nil)
	require.ErrorContains(t, err, "out of memory")

	body = strings.NewReader("data: {\"object\":\"error\",\"message\":\"bad\"}\n\n")
	_, err = readEngineSSE(context.Background(), body, nil)
	require.ErrorContains(t, err, "bad")
}

func TestReadEngineSSE_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := readEngineSSE(ctx, strings.NewReader("data: [DONE]\n\n"), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func newTestEngine(t *testing.T, handler http.HandlerFunc) *UpstreamEngine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, err := NewUpstreamEngine(UpstreamConfig{
		BaseURL:    srv.URL + "/v1/",
		Model:      "Qwen/Qwen-1.8B-Chat",
		APIKey:     "secret",
		HTTPClient: srv.Client(),
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	return e
}

func writeSSE(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", d)
	}
	fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"length\"}]}\n\n")
	fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestNewUpstreamEngine_Validation(t *testing.T) {
	_, err := NewUpstreamEngine(UpstreamConfig{Model: "m"})
	require.Error(t, err)
	_, err = NewUpstreamEngine(UpstreamConfig{BaseURL: "http://x"})
	require.Error(t, err)

	e, err := NewUpstreamEngine(UpstreamConfig{BaseURL: "http://x/v1", Model: "m", Logger: logger.Nop()})
	require.NoError(t, err)
	require.Equal(t, "http://x", e.BaseURL())
}

func TestGenerate_PayloadAndResponse(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "override", payload["model"])
		require.Equal(t, true, payload["stream"])
		require.Equal(t, map[string]any{"include_usage": true}, payload["stream_options"])
		require.InDelta(t, 0.7, payload["temperature"], 1e-6)
		require.Equal(t, float64(512), payload["max_tokens"])
		require.Equal(t, []any{"###"}, payload["stop"])
		msgs := payload["messages"].([]any)
		require.Len(t, msgs, 2)
		require.Equal(t, map[string]any{"role": "system", "content": "sys"}, msgs[0])

		writeSSE(w, "he", "llo")
	})

	msg, err := e.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("hi"),
		schema.UserMessage(""),
	}, einoModel.WithModel("override"), einoModel.WithTemperature(0.7), einoModel.WithMaxTokens(512), einoModel.WithStop([]string{"###"}))
	require.NoError(t, err)
	require.Equal(t, schema.Assistant, msg.Role)
	require.Equal(t, "hello", msg.Content)
	require.NotNil(t, msg.ResponseMeta)
	require.Equal(t, "length", msg.ResponseMeta.FinishReason)
	require.Equal(t, 5, msg.ResponseMeta.Usage.TotalTokens)
}

func TestGenerate_DefaultModelAndNoOptionalFields(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "Qwen/Qwen-1.8B-Chat", payload["model"])
		_, hasTemp := payload["temperature"]
		require.False(t, hasTemp)
		_, hasMax := payload["max_tokens"]
		require.False(t, hasMax)
		writeSSE(w, "ok")
	})

	msg, err := e.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	require.Equal(t, "ok", msg.Content)
}

func TestGenerate_NoMessages(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("engine should not be called")
	})
	_, err := e.Generate(context.Background(), []*schema.Message{nil, schema.UserMessage("")})
	require.ErrorContains(t, err, "no valid messages")
}

func TestGenerate_StatusError(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"object":"error","message":"max_tokens too large"}`)
	})
	_, err := e.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "max_tokens too large")
}

func TestGenerate_RedirectStatusIsError(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultipleChoices)
		fmt.Fprint(w, "choose one")
	})
	_, err := e.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusMultipleChoices, statusErr.StatusCode)
	require.Equal(t, "choose one", statusErr.Body)
}

func TestStream_DeltasThenMeta(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, "a", "b", "c")
	})

	sr, err := e.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	defer sr.Close()

	var contents []string
	var meta *schema.ResponseMeta
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if msg.Content != "" {
			contents = append(contents, msg.Content)
		}
		if msg.ResponseMeta != nil {
			meta = msg.ResponseMeta
		}
	}
	require.Equal(t, []string{"a", "b", "c"}, contents)
	require.NotNil(t, meta)
	require.Equal(t, "length", meta.FinishReason)
	require.Equal(t, 3, meta.Usage.PromptTokens)
}

func TestStream_PropagatesError(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	sr, err := e.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	defer sr.Close()

	_, err = sr.Recv()
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestHealth(t *testing.T) {
	var unhealthy atomic.Bool
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, e.Health(context.Background()))
	unhealthy.Store(true)
	require.Error(t, e.Health(context.Background()))
}
