package engine

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const DefaultBinary = "vllm"

// Args 引擎启动参数。
type Args struct {
	Model           string `mapstructure:"model"`
	ServedModelName string `mapstructure:"served_model_name"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	// GPUMemoryUtilization 显存利用率（CPU 推理时引擎会忽略）。
	GPUMemoryUtilization float64 `mapstructure:"gpu_memory_utilization"`
	// MaxNumBatchedTokens 批处理最大 token 数。
	MaxNumBatchedTokens int `mapstructure:"max_num_batched_tokens"`
	TensorParallelSize  int `mapstructure:"tensor_parallel_size"`
	// LoadIn4Bit 开启 4bit 量化（bitsandbytes），降低显存占用。
	LoadIn4Bit bool `mapstructure:"load_in_4bit"`
	// TrustRemoteCode 加载自定义模型（如 Qwen/ChatGLM）时需开启。
	TrustRemoteCode  bool   `mapstructure:"trust_remote_code"`
	MaxModelLen      int    `mapstructure:"max_model_len"`
	APIKey           string `mapstructure:"api_key"`
	AllowCredentials bool   `mapstructure:"allow_credentials"`
}

// DefaultArgs 返回 POC 默认参数。
func DefaultArgs() Args {
	return Args{
		Model:                "Qwen/Qwen-1.8B-Chat",
		Host:                 "0.0.0.0",
		Port:                 8000,
		GPUMemoryUtilization: 0.8,
		MaxNumBatchedTokens:  1024,
		TensorParallelSize:   1,
		LoadIn4Bit:           true,
		TrustRemoteCode:      true,
		AllowCredentials:     true,
	}
}

func (a Args) Validate() error {
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("engine model is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("engine port out of range: %d", a.Port)
	}
	if a.GPUMemoryUtilization <= 0 || a.GPUMemoryUtilization > 1 {
		return fmt.Errorf("gpu_memory_utilization must be in (0, 1], got %v", a.GPUMemoryUtilization)
	}
	if a.MaxNumBatchedTokens <= 0 {
		return fmt.Errorf("max_num_batched_tokens must be greater than 0")
	}
	if a.TensorParallelSize < 1 {
		return fmt.Errorf("tensor_parallel_size must be at least 1")
	}
	if a.MaxModelLen < 0 {
		return fmt.Errorf("max_model_len must not be negative")
	}
	return nil
}

// ModelName 返回对外暴露的模型名（served_model_name 优先）。
func (a Args) ModelName() string {
	if name := strings.TrimSpace(a.ServedModelName); name != "" {
		return name
	}
	return strings.TrimSpace(a.Model)
}

// CommandArgs 生成 `vllm serve` 的参数（不含可执行文件本身）。
func (a Args) CommandArgs() []string {
	args := []string{
		"serve", strings.TrimSpace(a.Model),
		"--host", a.Host,
		"--port", strconv.Itoa(a.Port),
		"--gpu-memory-utilization", strconv.FormatFloat(a.GPUMemoryUtilization, 'f', -1, 64),
		"--max-num-batched-tokens", strconv.Itoa(a.MaxNumBatchedTokens),
		"--tensor-parallel-size", strconv.Itoa(a.TensorParallelSize),
	}
	if name := strings.TrimSpace(a.ServedModelName); name != "" {
		args = append(args, "--served-model-name", name)
	}
	if a.LoadIn4Bit {
		args = append(args, "--quantization", "bitsandbytes")
	}
	if a.TrustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	if a.MaxModelLen > 0 {
		args = append(args, "--max-model-len", strconv.Itoa(a.MaxModelLen))
	}
	if key := strings.TrimSpace(a.APIKey); key != "" {
		args = append(args, "--api-key", key)
	}
	if a.AllowCredentials {
		args = append(args, "--allow-credentials")
	}
	return args
}

// URL 返回本机访问引擎服务的地址（通配地址替换为回环地址）。
func (a Args) URL() string {
	return "http://" + net.JoinHostPort(localHost(a.Host), strconv.Itoa(a.Port))
}

func localHost(host string) string {
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		return "127.0.0.1"
	default:
		return strings.Trim(host, "[]")
	}
}
