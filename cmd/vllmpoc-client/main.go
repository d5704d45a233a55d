// vllmpoc-client 调用 vllmpoc 服务：默认依次执行健康检查、列出模型、非流式对话与流式对话。
//
// Usage:
//
//	vllmpoc-client                              # 完整演示
//	vllmpoc-client health
//	vllmpoc-client models
//	vllmpoc-client chat --stream "介绍一下vLLM"
//
// 环境变量：VLLMPOC_BASE_URL、VLLMPOC_API_KEY、VLLMPOC_MODEL。
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/auth"
	"github.com/LubyRuffy/vllmpoc/client"
	"github.com/LubyRuffy/vllmpoc/config"
	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultSystemPrompt = "你是一个简洁的AI助手，回答准确、易懂，用中文回复"
	defaultUserPrompt   = "介绍一下vLLM的核心优势，用3句话概括"
)

// errHealthFailed 表示服务端未就绪，进程以退出码 1 结束。
var errHealthFailed = errors.New("server is not healthy")

type options struct {
	v *viper.Viper
}

func (o *options) newClient(cmd *cobra.Command) (*client.Client, error) {
	level := o.v.GetString("log-level")
	log, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "console"})
	if err != nil {
		return nil, err
	}

	provider, err := auth.NewProvider(o.v.GetString("auth-source"), o.authValue())
	if err != nil {
		return nil, err
	}
	apiKey, err := provider.APIKey(cmd.Context())
	if err != nil {
		// 本地部署无需真实 key
		apiKey = vllmpoc.DefaultAPIKey
	}

	return client.New(
		client.WithBaseURL(o.v.GetString("base-url")),
		client.WithAPIKey(apiKey),
		client.WithModel(o.v.GetString("model")),
		client.WithTimeout(o.v.GetDuration("timeout")),
		client.WithStreamTimeout(o.v.GetDuration("stream-timeout")),
		client.WithLogger(log),
		client.WithOutput(cmd.OutOrStdout()),
	), nil
}

func (o *options) authValue() string {
	if strings.EqualFold(strings.TrimSpace(o.v.GetString("auth-source")), string(auth.SourceFile)) {
		return o.v.GetString("auth-file")
	}
	return o.v.GetString("api-key")
}

func newRootCmd() *cobra.Command {
	o := &options{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "vllmpoc-client",
		Short:         "Call a vllmpoc / vLLM OpenAI-compatible server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.v.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), c)
		},
	}

	o.v.SetEnvPrefix(config.EnvPrefix)
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	pf := cmd.PersistentFlags()
	pf.String("base-url", vllmpoc.DefaultBaseURL, "server base url (without /v1)")
	pf.String("api-key", "", "api key (default: $VLLMPOC_API_KEY, then dummy-key)")
	pf.String("auth-source", string(auth.SourceAuto), "api key source: static|env|file|auto")
	pf.String("auth-file", "", "auth file for --auth-source=file (json {\"api_key\": ...})")
	pf.String("model", vllmpoc.DefaultClientModel, "model id")
	pf.Duration("timeout", client.DefaultTimeout, "non-stream request timeout")
	pf.Duration("stream-timeout", client.DefaultStreamTimeout, "stream request timeout")
	pf.String("log-level", "warn", "log level: debug|info|warn|error")

	cmd.AddCommand(newHealthCmd(o), newModelsCmd(o), newChatCmd(o))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errHealthFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
