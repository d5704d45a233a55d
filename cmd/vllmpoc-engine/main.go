// vllmpoc-engine 直接以前台方式运行引擎自带的 OpenAI 兼容服务（vllm serve），
// 输出写入结构化日志，收到 SIGINT/SIGTERM 时优雅停止引擎。
//
// Usage:
//
//	vllmpoc-engine --model Qwen/Qwen-1.8B-Chat --host 0.0.0.0 --port 8000
//	vllmpoc-engine --dry-run   # 只打印将要执行的命令
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/config"
	"github.com/LubyRuffy/vllmpoc/engine"
	"github.com/spf13/cobra"
)

var flagBindings = map[string]string{
	"model":                  "engine.model",
	"served-model-name":      "engine.served_model_name",
	"host":                   "engine.host",
	"port":                   "engine.port",
	"gpu-memory-utilization": "engine.gpu_memory_utilization",
	"max-num-batched-tokens": "engine.max_num_batched_tokens",
	"tensor-parallel-size":   "engine.tensor_parallel_size",
	"max-model-len":          "engine.max_model_len",
	"load-in-4bit":           "engine.load_in_4bit",
	"trust-remote-code":      "engine.trust_remote_code",
	"api-key":                "engine.api_key",
	"binary":                 "engine.binary",
	"startup-timeout":        "engine.startup_timeout",
	"log-level":              "log.level",
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:          "vllmpoc-engine",
		Short:        "Run the vLLM OpenAI-compatible server in the foreground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadEngine(cfgFile, cmd.Flags(), flagBindings)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), commandLine(cfg.Engine.Binary, cfg.Engine.Args))
				return nil
			}
			return run(cmd.Context(), cfg)
		},
	}

	defaults := engine.DefaultArgs()
	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (yaml/json/toml)")
	f.BoolVar(&dryRun, "dry-run", false, "print the engine command and exit")
	f.String("model", vllmpoc.DefaultServerModel, "model name or path")
	f.String("served-model-name", "", "model name exposed by the api (default: --model)")
	f.String("host", vllmpoc.DefaultHost, "listen host")
	f.Int("port", vllmpoc.DefaultPort, "listen port")
	f.Float64("gpu-memory-utilization", defaults.GPUMemoryUtilization, "gpu memory utilization (0, 1]")
	f.Int("max-num-batched-tokens", defaults.MaxNumBatchedTokens, "max batched tokens")
	f.Int("tensor-parallel-size", defaults.TensorParallelSize, "tensor parallel size")
	f.Int("max-model-len", 0, "max model context length (0: engine default)")
	f.Bool("load-in-4bit", defaults.LoadIn4Bit, "4-bit quantization (bitsandbytes)")
	f.Bool("trust-remote-code", defaults.TrustRemoteCode, "trust remote code when loading the model")
	f.String("api-key", "", "api key required by the engine")
	f.String("binary", engine.DefaultBinary, "engine executable")
	f.Duration("startup-timeout", engine.DefaultStartupTimeout, "max time to wait for /health")
	f.String("log-level", "info", "log level: debug|info|warn|error")
	return cmd
}

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	// 透传引擎退出码
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		os.Exit(exitErr.ExitCode())
	}
	os.Exit(1)
}
