package openaihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/engine"
	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/LubyRuffy/vllmpoc/metrics"
	"github.com/LubyRuffy/vllmpoc/openaiapi"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const (
	endpointHealth = "health"
	endpointModels = "models"
	endpointChat   = "chat_completions"

	unknownModel = "unknown"

	maxTemperature = 2.0
)

type httpError struct {
	Status  int
	Message string
	Err     error
}

func (e *httpError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (e *httpError) Unwrap() error { return e.Err }

func badRequest(format string, args ...any) *httpError {
	return &httpError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

type compatConfig struct {
	Now               func() time.Time
	NewChatCompletion func() string
	WriteJSON         func(w http.ResponseWriter, data interface{})
	WriteOpenAIError  func(w http.ResponseWriter, statusCode int, message string)
	SystemFingerprint string
	Engine            engine.Engine
	Models            *vllmpoc.ServedModels
	DisableStreaming  bool
	HealthTimeout     time.Duration
	Logger            *logger.Logger
	Metrics           *metrics.Collector
	TokenCounter      TokenCounter
}

type compatHandler struct {
	now               func() time.Time
	newChatCompletion func() string
	writeJSON         func(w http.ResponseWriter, data interface{})
	writeOpenAIError  func(w http.ResponseWriter, statusCode int, message string)
	systemFingerprint string
	engine            engine.Engine
	models            *vllmpoc.ServedModels
	disableStreaming  bool
	healthTimeout     time.Duration
	logger            *logger.Logger
	metrics           *metrics.Collector
	tokenCounter      TokenCounter
	startedAt         time.Time
}

func newCompatHandler(cfg compatConfig) (*compatHandler, error) {
	if cfg.WriteJSON == nil {
		return nil, fmt.Errorf("WriteJSON is required")
	}
	if cfg.WriteOpenAIError == nil {
		return nil, fmt.Errorf("WriteOpenAIError is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("Engine is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewChatCompletion == nil {
		cfg.NewChatCompletion = openaiapi.NewChatCompletionID
	}
	if strings.TrimSpace(cfg.SystemFingerprint) == "" {
		cfg.SystemFingerprint = defaultSystemFingerprint
	}
	if cfg.Models == nil {
		cfg.Models = vllmpoc.NewServedModels()
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.TokenCounter == nil {
		cfg.TokenCounter = NewTiktokenCounter()
	}
	return &compatHandler{
		now:               cfg.Now,
		newChatCompletion: cfg.NewChatCompletion,
		writeJSON:         cfg.WriteJSON,
		writeOpenAIError:  cfg.WriteOpenAIError,
		systemFingerprint: cfg.SystemFingerprint,
		engine:            cfg.Engine,
		models:            cfg.Models,
		disableStreaming:  cfg.DisableStreaming,
		healthTimeout:     cfg.HealthTimeout,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		tokenCounter:      cfg.TokenCounter,
		startedAt:         cfg.Now(),
	}, nil
}

// modelLabel 只把已注册的模型 ID 作为指标标签，其余一律记为 unknown。
func (h *compatHandler) modelLabel(modelID string) string {
	if served, ok := h.models.Lookup(modelID); ok {
		return served.ID
	}
	return unknownModel
}

func (h *compatHandler) observe(endpoint, model string, status int, start time.Time) {
	h.metrics.ObserveRequest(endpoint, model, strconv.Itoa(status), h.now().Sub(start))
}

func (h *compatHandler) fail(w http.ResponseWriter, r *http.Request, endpoint, model string, start time.Time, err error) {
	status := httpStatusFromError(err)
	message := httpMessageFromError(err)
	log := h.logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("endpoint", endpoint), zap.String("model", model), zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("endpoint", endpoint), zap.String("model", model), zap.Int("status", status), zap.String("message", message))
	}
	h.writeOpenAIError(w, status, message)
	h.observe(endpoint, model, status, start)
}

func (h *compatHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	if r.Method != http.MethodGet {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	status := openaiapi.HealthStatus{
		Status:        "ok",
		Model:         h.models.Default().ID,
		Engine:        vllmpoc.OwnedBy,
		UptimeSeconds: h.now().Sub(h.startedAt).Seconds(),
	}
	if err := h.engine.Health(ctx); err != nil {
		h.logger.WithContext(r.Context()).Warn("engine unhealthy", zap.Error(err))
		h.metrics.SetEngineHealthy(false)
		status.Status = "unhealthy"
		status.Error = err.Error()
		writeJSONStatus(w, http.StatusServiceUnavailable, status)
		h.observe(endpointHealth, status.Model, http.StatusServiceUnavailable, start)
		return
	}
	h.metrics.SetEngineHealthy(true)
	h.writeJSON(w, status)
	h.observe(endpointHealth, status.Model, http.StatusOK, start)
}

func (h *compatHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	if r.Method != http.MethodGet {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	h.writeJSON(w, openaiapi.ModelList{
		Object: openaiapi.ObjectList,
		Data:   h.models.Cards(h.now()),
	})
	h.observe(endpointModels, "", http.StatusOK, start)
}

// chatCall 是解析、校验后的一次 chat 请求。
type chatCall struct {
	id           string
	model        string
	messages     []*schema.Message
	opts         []einoModel.Option
	includeUsage bool
}

func (h *compatHandler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	if r.Method != http.MethodPost {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req openaiapi.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, endpointChat, unknownModel, start, badRequest("invalid request body"))
		return
	}

	call, err := h.prepareChat(req)
	if err != nil {
		h.fail(w, r, endpointChat, h.modelLabel(req.Model), start, err)
		return
	}

	if req.Stream {
		h.handleStreamResponse(w, r, call, start)
		return
	}

	respMsg, err := h.engine.Generate(r.Context(), call.messages, call.opts...)
	if err != nil {
		h.fail(w, r, endpointChat, call.model, start, engineError(err))
		return
	}

	content := ""
	var meta *schema.ResponseMeta
	if respMsg != nil {
		content = respMsg.Content
		meta = respMsg.ResponseMeta
	}
	usage := h.resolveUsage(meta, call.messages, content)
	h.metrics.ObserveTokens(call.model, usage.PromptTokens, usage.CompletionTokens)

	completion := openaiapi.NewCompletion(call.id, call.model, h.now(), content, finishReasonOf(meta), usage)
	completion.SystemFingerprint = h.systemFingerprint
	h.writeJSON(w, completion)
	h.observe(endpointChat, call.model, http.StatusOK, start)
}

func (h *compatHandler) prepareChat(req openaiapi.ChatRequest) (*chatCall, error) {
	messages, err := convertChatMessages(req.Messages)
	if err != nil {
		return nil, &httpError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	}

	served, ok := h.models.Lookup(req.Model)
	if !ok {
		return nil, &httpError{
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("The model `%s` does not exist.", strings.TrimSpace(req.Model)),
		}
	}

	if req.Stream && h.disableStreaming {
		return nil, badRequest("streaming is not enabled on this server")
	}

	opts := []einoModel.Option{einoModel.WithModel(served.ID)}
	if req.Temperature != nil {
		t := *req.Temperature
		if t < 0 || t > maxTemperature {
			return nil, badRequest("temperature must be between 0 and %v", maxTemperature)
		}
		opts = append(opts, einoModel.WithTemperature(float32(t)))
	}
	if req.TopP != nil {
		p := *req.TopP
		if p <= 0 || p > 1 {
			return nil, badRequest("top_p must be in (0, 1]")
		}
		opts = append(opts, einoModel.WithTopP(float32(p)))
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens <= 0 {
			return nil, badRequest("max_tokens must be greater than 0")
		}
		opts = append(opts, einoModel.WithMaxTokens(*req.MaxTokens))
	}
	if req.N != nil && *req.N != 1 {
		return nil, badRequest("only n=1 is supported")
	}
	stop, err := openaiapi.StopSequences(req.Stop)
	if err != nil {
		return nil, &httpError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	}
	if len(stop) > 0 {
		opts = append(opts, einoModel.WithStop(stop))
	}

	return &chatCall{
		id:           h.newChatCompletion(),
		model:        served.ID,
		messages:     messages,
		opts:         opts,
		includeUsage: req.StreamOptions != nil && req.StreamOptions.IncludeUsage,
	}, nil
}

func (h *compatHandler) handleStreamResponse(w http.ResponseWriter, r *http.Request, call *chatCall, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, r, endpointChat, call.model, start, &httpError{Status: http.StatusInternalServerError, Message: "streaming not supported"})
		return
	}

	done := h.metrics.StreamStarted()
	defer done()

	sr, err := h.engine.Stream(r.Context(), call.messages, call.opts...)
	if err != nil {
		h.fail(w, r, endpointChat, call.model, start, engineError(err))
		return
	}
	defer sr.Close()

	// 首条消息之前出错时还没有写出响应头，按普通 500 返回。
	first, err := sr.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, endpointChat, call.model, start, engineError(err))
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	created := h.now()
	chunk := openaiapi.NewChunk(call.id, call.model, created, openaiapi.Delta{Role: "assistant"}, nil)
	chunk.SystemFingerprint = h.systemFingerprint
	writeSSEData(w, flusher, chunk)

	var (
		content strings.Builder
		meta    *schema.ResponseMeta
	)
	emit := func(msg *schema.Message) {
		if msg == nil {
			return
		}
		if msg.ResponseMeta != nil {
			meta = msg.ResponseMeta
		}
		if msg.Content == "" {
			return
		}
		content.WriteString(msg.Content)
		text := msg.Content
		chunk := openaiapi.NewChunk(call.id, call.model, created, openaiapi.Delta{Content: &text}, nil)
		chunk.SystemFingerprint = h.systemFingerprint
		writeSSEData(w, flusher, chunk)
	}

	if err == nil {
		emit(first)
		for {
			msg, recvErr := sr.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				h.logger.WithContext(r.Context()).Error("engine stream interrupted",
					zap.String("model", call.model),
					zap.Int("content_len", content.Len()),
					zap.Error(recvErr),
				)
				writeSSEData(w, flusher, newErrorBody(http.StatusInternalServerError, recvErr.Error()))
				writeSSEDone(w, flusher)
				h.observe(endpointChat, call.model, http.StatusInternalServerError, start)
				return
			}
			emit(msg)
		}
	}

	finishReason := finishReasonOf(meta)
	chunk = openaiapi.NewChunk(call.id, call.model, created, openaiapi.Delta{}, &finishReason)
	chunk.SystemFingerprint = h.systemFingerprint
	writeSSEData(w, flusher, chunk)

	usage := h.resolveUsage(meta, call.messages, content.String())
	h.metrics.ObserveTokens(call.model, usage.PromptTokens, usage.CompletionTokens)
	if call.includeUsage {
		usageChunk := openaiapi.NewUsageChunk(call.id, call.model, created, usage)
		usageChunk.SystemFingerprint = h.systemFingerprint
		writeSSEData(w, flusher, usageChunk)
	}
	writeSSEDone(w, flusher)
	h.observe(endpointChat, call.model, http.StatusOK, start)
}

// resolveUsage 优先使用引擎返回的 usage，否则本地估算。
func (h *compatHandler) resolveUsage(meta *schema.ResponseMeta, prompt []*schema.Message, completion string) openaiapi.Usage {
	if meta != nil && meta.Usage != nil && meta.Usage.TotalTokens > 0 {
		return openaiapi.Usage{
			PromptTokens:     meta.Usage.PromptTokens,
			CompletionTokens: meta.Usage.CompletionTokens,
			TotalTokens:      meta.Usage.TotalTokens,
		}
	}
	return openaiapi.NewUsage(
		countPromptTokens(h.tokenCounter, prompt),
		h.tokenCounter.CountTokens(completion),
	)
}

func finishReasonOf(meta *schema.ResponseMeta) string {
	if meta != nil && strings.TrimSpace(meta.FinishReason) != "" {
		return meta.FinishReason
	}
	return "stop"
}

// engineError 把引擎错误统一映射为 500。
func engineError(err error) error {
	var statusErr *engine.StatusError
	if errors.As(err, &statusErr) {
		return &httpError{
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprintf("engine returned status %d: %s", statusErr.StatusCode, statusErr.Body),
			Err:     err,
		}
	}
	return &httpError{Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
}

func convertChatMessages(messages []openaiapi.ChatMessage) ([]*schema.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages is required")
	}

	result := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			return nil, fmt.Errorf("message role is required")
		}

		switch role {
		case "system", "user", "assistant":
		case "tool":
			if strings.TrimSpace(msg.ToolCallID) == "" {
				return nil, fmt.Errorf("tool message requires tool_call_id")
			}
		default:
			return nil, fmt.Errorf("unsupported role: %s", role)
		}

		content, err := openaiapi.ContentText(msg.Content)
		if err != nil {
			return nil, err
		}
		// 空内容的消息不会转发给引擎
		if content == "" {
			continue
		}

		switch role {
		case "system":
			result = append(result, schema.SystemMessage(content))
		case "user":
			result = append(result, schema.UserMessage(content))
		case "assistant":
			result = append(result, schema.AssistantMessage(content, nil))
		case "tool":
			result = append(result, schema.ToolMessage(content, msg.ToolCallID))
		}
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("no valid messages to send")
	}
	return result, nil
}

func httpStatusFromError(err error) int {
	var httpErr *httpError
	if errors.As(err, &httpErr) && httpErr != nil && httpErr.Status != 0 {
		return httpErr.Status
	}
	return http.StatusInternalServerError
}

func httpMessageFromError(err error) string {
	var httpErr *httpError
	if errors.As(err, &httpErr) && httpErr != nil && strings.TrimSpace(httpErr.Message) != "" {
		return httpErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
