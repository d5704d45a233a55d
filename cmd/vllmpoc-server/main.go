// vllmpoc-server 是基于 Gin 的 OpenAI 兼容网关：请求转发给已运行的引擎（--upstream-url），
// 或由网关托管一个引擎子进程（--launch）。
//
// Usage:
//
//	# 连接已运行的引擎
//	vllmpoc-server --upstream-url http://127.0.0.1:8001
//
//	# 启动并托管引擎
//	vllmpoc-server --launch --model Qwen/Qwen-1.8B-Chat --gpu-memory-utilization 0.8
//
//	# 使用配置文件（环境变量前缀 VLLMPOC_，如 VLLMPOC_SERVER_PORT=9000）
//	vllmpoc-server --config vllmpoc.yaml
package main

import (
	"os"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/config"
	"github.com/spf13/cobra"
)

// flagBindings flag 名到配置键的映射。
var flagBindings = map[string]string{
	"model":                  "engine.model",
	"host":                   "server.host",
	"port":                   "server.port",
	"upstream-url":           "engine.upstream_url",
	"launch":                 "engine.launch",
	"api-key":                "server.api_keys",
	"gpu-memory-utilization": "engine.gpu_memory_utilization",
	"max-num-batched-tokens": "engine.max_num_batched_tokens",
	"log-level":              "log.level",
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "vllmpoc-server",
		Short:        "OpenAI-compatible gateway in front of a vLLM engine",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags(), flagBindings)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (yaml/json/toml)")
	f.String("model", vllmpoc.DefaultServerModel, "model served by the engine")
	f.String("host", vllmpoc.DefaultHost, "listen host")
	f.Int("port", vllmpoc.DefaultPort, "listen port")
	f.String("upstream-url", "", "base url of a running engine, e.g. http://127.0.0.1:8001")
	f.Bool("launch", false, "launch and supervise the engine as a child process")
	f.StringSlice("api-key", nil, "api keys accepted on /v1/* (repeatable)")
	f.Float64("gpu-memory-utilization", 0.8, "engine gpu memory utilization (0, 1]")
	f.Int("max-num-batched-tokens", 1024, "engine max batched tokens")
	f.String("log-level", "info", "log level: debug|info|warn|error")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
