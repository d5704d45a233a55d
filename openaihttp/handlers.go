package openaihttp

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/engine"
	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/LubyRuffy/vllmpoc/metrics"
	"github.com/LubyRuffy/vllmpoc/openaiapi"
)

const (
	defaultSystemFingerprint = "fp_vllmpoc"
	defaultHealthTimeout     = 5 * time.Second
)

// Handlers 返回 /health、{base}/models、{base}/chat/completions 的 net/http 处理器。
func Handlers(cfg Config) (healthHandler, modelsHandler, chatHandler http.HandlerFunc, err error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	compat, err := newCompatHandler(compatConfig{
		Now:               resolved.Now,
		NewChatCompletion: openaiapi.NewChatCompletionID,
		WriteJSON:         writeJSON,
		WriteOpenAIError:  writeOpenAIError,
		SystemFingerprint: resolved.SystemFingerprint,
		Engine:            resolved.Engine,
		Models:            resolved.Models,
		DisableStreaming:  resolved.DisableStreaming,
		HealthTimeout:     resolved.HealthTimeout,
		Logger:            resolved.Logger,
		Metrics:           resolved.Metrics,
		TokenCounter:      resolved.TokenCounter,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return compat.handleHealth, compat.handleModels, compat.handleChatCompletions, nil
}

type resolvedConfig struct {
	BasePath          string
	Engine            engine.Engine
	Models            *vllmpoc.ServedModels
	SystemFingerprint string
	DisableStreaming  bool
	APIKeys           []string
	HealthTimeout     time.Duration
	Logger            *logger.Logger
	Metrics           *metrics.Collector
	TokenCounter      TokenCounter
	Now               func() time.Time
}

func resolveConfig(cfg Config) (resolvedConfig, error) {
	if cfg.Engine == nil {
		return resolvedConfig{}, fmt.Errorf("Engine is required")
	}

	models := cfg.Models
	if models == nil {
		models = vllmpoc.NewServedModels()
	}

	fp := strings.TrimSpace(cfg.SystemFingerprint)
	if fp == "" {
		fp = defaultSystemFingerprint
	}

	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logger.L()
	}

	counter := cfg.TokenCounter
	if counter == nil {
		counter = NewTiktokenCounter()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return resolvedConfig{
		BasePath:          normalizeBasePath(cfg.BasePath),
		Engine:            cfg.Engine,
		Models:            models,
		SystemFingerprint: fp,
		DisableStreaming:  cfg.DisableStreaming,
		APIKeys:           cfg.APIKeys,
		HealthTimeout:     healthTimeout,
		Logger:            log.Named("openaihttp"),
		Metrics:           cfg.Metrics,
		TokenCounter:      counter,
		Now:               now,
	}, nil
}
