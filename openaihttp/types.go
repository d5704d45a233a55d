package openaihttp

import (
	"time"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/engine"
	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/LubyRuffy/vllmpoc/metrics"
)

type Config struct {
	// BasePath 仅用于 Gin 注册路由时拼接路径，默认 "/v1"。/health 固定挂在根路径。
	BasePath string
	// Engine 必填：实际执行推理的引擎。
	Engine engine.Engine
	// Models 对外暴露的模型，nil 时只暴露 vllmpoc.DefaultServerModel。
	Models *vllmpoc.ServedModels
	// SystemFingerprint chat.completions 用；默认 "fp_vllmpoc"。
	SystemFingerprint string
	// DisableStreaming 为 true 时 stream=true 的请求返回 400。
	DisableStreaming bool
	// APIKeys 非空时 {BasePath}/* 需要 Authorization: Bearer <key>。
	APIKeys []string
	// HealthTimeout 探测引擎健康状态的超时，默认 5s。
	HealthTimeout time.Duration

	Logger       *logger.Logger
	Metrics      *metrics.Collector
	TokenCounter TokenCounter
	Now          func() time.Time
}
