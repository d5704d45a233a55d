package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/LubyRuffy/vllmpoc/openaiapi"
	"github.com/gin-gonic/gin"
)

// RequireBearer 要求 Authorization: Bearer <key> 命中 keys 之一。
// keys 为空（或全为空白）时不做校验。
func RequireBearer(keys ...string) gin.HandlerFunc {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed = append(allowed, []byte(k))
		}
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if ok {
			for _, k := range allowed {
				if subtle.ConstantTimeCompare([]byte(token), k) == 1 {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, openaiapi.ErrorBody{
			Error: openaiapi.ErrorDetail{
				Message: "invalid or missing api key",
				Type:    "authentication_error",
			},
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
