// Package engine 封装推理引擎（vLLM）句柄。
//
// 引擎本身（调度、批处理、显存管理）是黑盒，本包只做三件事：
//   - Args：描述引擎启动参数并生成 `vllm serve` 命令行
//   - UpstreamEngine：基于引擎 OpenAI 兼容 SSE 接口的 eino ChatModel 实现
//   - Process：以子进程方式拉起并托管引擎自带的 OpenAI 兼容服务
package engine
