package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// HealthCheck 请求 GET /health；传输错误或非 2xx 时返回 failed。
func (c *Client) HealthCheck(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return failed(fmt.Errorf("failed to build health request: %w", err))
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("health check failed", zap.String("url", req.URL.String()), zap.Error(err))
		return failed(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return failed(fmt.Errorf("failed to read health response: %w", err))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("health check returned error status", zap.Int("status", resp.StatusCode))
		return failed(fmt.Errorf("%d %s for url: %s: %s",
			resp.StatusCode, http.StatusText(resp.StatusCode), req.URL.String(), strings.TrimSpace(string(body))))
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return failed(fmt.Errorf("invalid health response: %w", err))
	}
	return Result{Status: StatusSuccess, Data: data}
}
