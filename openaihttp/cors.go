package openaihttp

import (
	"strings"
	"time"

	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS 构造跨域中间件。origins 为空或包含 "*" 时允许任意来源；
// 同时开启 allowCredentials 时回显请求的 Origin（浏览器不接受 "*" 搭配凭证）。
func CORS(origins []string, allowCredentials bool) (gin.HandlerFunc, error) {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", logger.HeaderRequestID},
		ExposeHeaders:    []string{logger.HeaderRequestID},
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	}

	allowAll := len(origins) == 0
	explicit := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			allowAll = true
		default:
			explicit = append(explicit, o)
		}
	}

	switch {
	case allowAll && allowCredentials:
		cfg.AllowOriginFunc = func(string) bool { return true }
	case allowAll:
		cfg.AllowAllOrigins = true
	default:
		cfg.AllowOrigins = explicit
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cors.New(cfg), nil
}
