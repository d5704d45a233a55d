package vllmpoc

import (
	"strings"
	"time"

	"github.com/LubyRuffy/vllmpoc/openaiapi"
)

const (
	// DefaultServerModel 是服务端默认加载的模型（轻量中文模型，适合 POC）。
	DefaultServerModel = "Qwen/Qwen-1.8B-Chat"
	// DefaultClientModel 是客户端请求时默认使用的模型。
	DefaultClientModel = "Qwen/Qwen3-0.6B"

	DefaultHost    = "0.0.0.0"
	DefaultPort    = 8000
	DefaultBaseURL = "http://localhost:8000"
	// DefaultAPIKey 本地部署无需真实 key，任意值即可。
	DefaultAPIKey = "dummy-key"

	// OwnedBy 是 /v1/models 中 owned_by 字段的取值。
	OwnedBy = "vllm"
)

// ServedModel 描述网关对外暴露的一个模型。
type ServedModel struct {
	ID     string
	Root   string
	Parent *string
}

// ServedModels 是网关可服务的模型集合，第一个为默认模型。
type ServedModels struct {
	models []ServedModel
}

// NewServedModels 根据名称构建模型集合，空白名称与重复名称会被忽略。
// 未提供任何有效名称时使用 DefaultServerModel。
func NewServedModels(names ...string) *ServedModels {
	seen := make(map[string]struct{}, len(names))
	models := make([]ServedModel, 0, len(names))
	for _, name := range names {
		id := strings.TrimSpace(name)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		models = append(models, ServedModel{ID: id, Root: id})
	}
	if len(models) == 0 {
		models = append(models, ServedModel{ID: DefaultServerModel, Root: DefaultServerModel})
	}
	return &ServedModels{models: models}
}

// Default 返回默认模型。
func (s *ServedModels) Default() ServedModel {
	return s.models[0]
}

// All 返回全部模型的副本。
func (s *ServedModels) All() []ServedModel {
	out := make([]ServedModel, len(s.models))
	copy(out, s.models)
	return out
}

// Lookup 查找模型；空 ID 视为默认模型。
func (s *ServedModels) Lookup(modelID string) (ServedModel, bool) {
	trimmed := strings.TrimSpace(modelID)
	if trimmed == "" {
		return s.Default(), true
	}
	for _, m := range s.models {
		if m.ID == trimmed {
			return m, true
		}
	}
	return ServedModel{}, false
}

// Cards 将模型集合转换为 /v1/models 的 data 数组。
func (s *ServedModels) Cards(now time.Time) []openaiapi.ModelCard {
	cards := make([]openaiapi.ModelCard, 0, len(s.models))
	for _, m := range s.models {
		cards = append(cards, openaiapi.ModelCard{
			ID:      m.ID,
			Object:  "model",
			Created: now.Unix(),
			OwnedBy: OwnedBy,
			Root:    m.Root,
			Parent:  m.Parent,
		})
	}
	return cards
}

// FallbackModelList 是客户端在 /v1/models 不可用时返回的模拟数据（和真实服务端输出对齐）。
func FallbackModelList(now time.Time) openaiapi.ModelList {
	return openaiapi.ModelList{
		Object: "list",
		Data:   NewServedModels(DefaultClientModel).Cards(now),
	}
}
