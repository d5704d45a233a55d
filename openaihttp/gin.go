package openaihttp

import (
	"fmt"

	"github.com/LubyRuffy/vllmpoc/auth"
	"github.com/gin-gonic/gin"
)

// RegisterGinRoutes 挂载 GET /health、GET {base}/models、POST {base}/chat/completions。
// 配置了 APIKeys 时 {base}/* 需要 Bearer 鉴权，/health 始终开放。
func RegisterGinRoutes(r gin.IRouter, cfg Config) error {
	if r == nil {
		return fmt.Errorf("router is nil")
	}
	healthHandler, modelsHandler, chatHandler, err := Handlers(cfg)
	if err != nil {
		return err
	}

	basePath := normalizeBasePath(cfg.BasePath)
	requireKey := auth.RequireBearer(cfg.APIKeys...)
	r.GET("/health", gin.WrapF(healthHandler))
	r.GET(joinPath(basePath, "/models"), requireKey, gin.WrapF(modelsHandler))
	r.POST(joinPath(basePath, "/chat/completions"), requireKey, gin.WrapF(chatHandler))
	return nil
}
