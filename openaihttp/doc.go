// Package openaihttp 提供以推理引擎（vLLM）为后端的 OpenAI v1 兼容 HTTP 处理器。
//
// 该包对外只暴露：
// - net/http 形式的 handlers（health/models/chat.completions）
// - Gin 路由注册方法与 CORS 中间件
//
// 引擎通过 Config.Engine 注入（eino ChatModel + Health），该包不关心引擎是外部服务还是子进程。
//
// 使用示例：
//
//	// net/http
//	healthH, modelsH, chatH, _ := openaihttp.Handlers(openaihttp.Config{Engine: eng})
//	mux.HandleFunc("/health", healthH)
//	mux.HandleFunc("/v1/models", modelsH)
//	mux.HandleFunc("/v1/chat/completions", chatH)
//
//	// gin
//	_ = openaihttp.RegisterGinRoutes(r, openaihttp.Config{
//		BasePath: "/v1",
//		Engine:   eng,
//		APIKeys:  []string{"dummy-key"},
//	})
package openaihttp
