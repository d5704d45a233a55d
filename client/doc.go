// Package client 是 vllmpoc OpenAI 兼容服务的调用方：健康检查、模型列表、非流式与流式对话。
//
// 每个操作都是一次同步调用，失败时不返回 error，而是以 {"status":"failed","error":...} 的形式报告。
package client
