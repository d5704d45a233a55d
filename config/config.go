// Package config 负责加载 vllmpoc 的运行配置：默认值 < 配置文件 < 环境变量 < 命令行参数。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/engine"
	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/LubyRuffy/vllmpoc/metrics"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "VLLMPOC"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Log     logger.Config `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	BasePath string `mapstructure:"base_path"`
	// APIKeys 非空时 /v1/* 需要 Bearer 鉴权。
	APIKeys           []string      `mapstructure:"api_keys"`
	AllowCredentials  bool          `mapstructure:"allow_credentials"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	EnableStreaming   bool          `mapstructure:"enable_streaming"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type EngineConfig struct {
	engine.Args `mapstructure:",squash"`

	// UpstreamURL 已运行引擎的地址；Launch 为 true 时忽略。
	UpstreamURL    string        `mapstructure:"upstream_url"`
	Launch         bool          `mapstructure:"launch"`
	Binary         string        `mapstructure:"binary"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Addr 返回 server 监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SetDefaults 将默认值写入 v。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", vllmpoc.DefaultHost)
	v.SetDefault("server.port", vllmpoc.DefaultPort)
	v.SetDefault("server.base_path", "/v1")
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.enable_streaming", true)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	args := engine.DefaultArgs()
	v.SetDefault("engine.model", args.Model)
	v.SetDefault("engine.served_model_name", args.ServedModelName)
	v.SetDefault("engine.host", "127.0.0.1")
	v.SetDefault("engine.port", 8001)
	v.SetDefault("engine.gpu_memory_utilization", args.GPUMemoryUtilization)
	v.SetDefault("engine.max_num_batched_tokens", args.MaxNumBatchedTokens)
	v.SetDefault("engine.tensor_parallel_size", args.TensorParallelSize)
	v.SetDefault("engine.load_in_4bit", args.LoadIn4Bit)
	v.SetDefault("engine.trust_remote_code", args.TrustRemoteCode)
	v.SetDefault("engine.max_model_len", args.MaxModelLen)
	v.SetDefault("engine.api_key", args.APIKey)
	v.SetDefault("engine.allow_credentials", args.AllowCredentials)
	v.SetDefault("engine.upstream_url", "")
	v.SetDefault("engine.launch", false)
	v.SetDefault("engine.binary", engine.DefaultBinary)
	v.SetDefault("engine.startup_timeout", engine.DefaultStartupTimeout)

	lc := logger.DefaultConfig()
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.format", lc.Format)
	v.SetDefault("log.output", lc.Output)
	v.SetDefault("log.enable_caller", lc.EnableCaller)
	v.SetDefault("log.enable_stacktrace", lc.EnableStacktrace)
	v.SetDefault("log.file.filename", lc.File.Filename)
	v.SetDefault("log.file.max_size", lc.File.MaxSize)
	v.SetDefault("log.file.max_age", lc.File.MaxAge)
	v.SetDefault("log.file.max_backups", lc.File.MaxBackups)
	v.SetDefault("log.file.compress", lc.File.Compress)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", metrics.DefaultNamespace)
}

// Load 读取网关配置。path 为空时只使用默认值、环境变量与 flags。
// bindings 把命令行 flag 名映射到配置键（如 "port" -> "server.port"），只有用户显式设置的 flag 会覆盖。
func Load(path string, flags *pflag.FlagSet, bindings map[string]string) (*Config, error) {
	cfg, err := load(path, flags, bindings, nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEngine 读取引擎直连模式的配置：引擎默认监听 0.0.0.0:8000，只校验 engine 与 log。
func LoadEngine(path string, flags *pflag.FlagSet, bindings map[string]string) (*Config, error) {
	cfg, err := load(path, flags, bindings, func(v *viper.Viper) {
		v.SetDefault("engine.host", vllmpoc.DefaultHost)
		v.SetDefault("engine.port", vllmpoc.DefaultPort)
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Engine.Args.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Engine.Binary) == "" {
		return nil, errors.New("engine.binary is required")
	}
	if err := cfg.Log.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, flags *pflag.FlagSet, bindings map[string]string, defaults func(v *viper.Viper)) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if defaults != nil {
		defaults(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range bindings {
			f := flags.Lookup(name)
			if f == nil {
				return nil, fmt.Errorf("unknown flag: %s", name)
			}
			if !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Server.APIKeys = splitList(c.Server.APIKeys)
	c.Server.AllowedOrigins = splitList(c.Server.AllowedOrigins)
	c.Engine.UpstreamURL = strings.TrimSpace(c.Engine.UpstreamURL)
}

// splitList 兼容环境变量里逗号分隔的写法（VLLMPOC_SERVER_API_KEYS=a,b）。
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server shutdown_timeout must not be negative")
	}
	if err := c.Engine.Args.Validate(); err != nil {
		return err
	}
	if !c.Engine.Launch && c.Engine.UpstreamURL == "" {
		return errors.New("engine.upstream_url is required unless engine.launch is set")
	}
	if c.Engine.Launch && strings.TrimSpace(c.Engine.Binary) == "" {
		return errors.New("engine.binary is required when engine.launch is set")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/': %q", c.Metrics.Path)
	}
	return nil
}
