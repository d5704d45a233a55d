package client

import (
	"context"
	"time"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/openaiapi"
	"go.uber.org/zap"
)

// ListModels 请求 GET /v1/models；任何失败都返回只包含默认模型的兜底列表。
func (c *Client) ListModels(ctx context.Context) openaiapi.ModelList {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	list, err := c.api.ListModels(ctx)
	if err != nil {
		c.logger.Warn("list models failed, using fallback", zap.Error(err))
		return vllmpoc.FallbackModelList(time.Now())
	}

	out := openaiapi.ModelList{
		Object: openaiapi.ObjectList,
		Data:   make([]openaiapi.ModelCard, 0, len(list.Models)),
	}
	for _, m := range list.Models {
		card := openaiapi.ModelCard{
			ID:      m.ID,
			Object:  m.Object,
			Created: m.CreatedAt,
			OwnedBy: m.OwnedBy,
			Root:    m.Root,
		}
		if m.Parent != "" {
			parent := m.Parent
			card.Parent = &parent
		}
		out.Data = append(out.Data, card)
	}
	return out
}
