// Package vllmpoc 提供围绕 vLLM 推理引擎的 OpenAI 兼容客户端/服务端 POC。
//
// 推理引擎（调度、批处理、显存管理）被视为黑盒，本仓库只负责请求/响应转发与参数解析：
//  1. 服务端：openaihttp 包导出 /health、/v1/models、/v1/chat/completions handlers，
//     engine 包负责连接或拉起引擎自带的 OpenAI 兼容服务
//  2. 客户端：client 包调用上述接口（健康检查、模型列表、流式/非流式对话）
package vllmpoc
