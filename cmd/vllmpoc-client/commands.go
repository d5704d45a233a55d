package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/LubyRuffy/vllmpoc/client"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

// printJSON 以缩进格式输出，不转义 HTML 与非 ASCII 字符。
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// completionOutput 成功时原样输出 chat.completion，失败时输出 status/error/response。
func completionOutput(res client.Result) any {
	if res.OK() {
		return res.Data
	}
	return res
}

func sampleMessages() []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		client.SystemMessage(defaultSystemPrompt),
		client.UserMessage(defaultUserPrompt),
	}
}

func runDemo(ctx context.Context, w io.Writer, c *client.Client) error {
	fmt.Fprintln(w, "===== 1. 服务端健康检查 =====")
	health := c.HealthCheck(ctx)
	if err := printJSON(w, health); err != nil {
		return err
	}
	if !health.OK() {
		fmt.Fprintln(w, "❌ 服务端未正常运行，请先启动服务端！")
		return errHealthFailed
	}

	fmt.Fprintln(w, "\n===== 2. 已加载模型列表 =====")
	if err := printJSON(w, c.ListModels(ctx)); err != nil {
		return err
	}

	messages := sampleMessages()

	fmt.Fprintln(w, "\n===== 3. 非流式调用结果 =====")
	if err := printJSON(w, completionOutput(c.ChatCompletion(ctx, messages, client.ChatOptions{}))); err != nil {
		return err
	}

	fmt.Fprintln(w, "\n===== 4. 流式调用结果 =====")
	fmt.Fprintln(w, "📝 流式响应（实时输出）：")
	printStreamResult(w, c.ChatCompletionStream(ctx, messages, client.ChatOptions{}))
	return nil
}

func printStreamResult(w io.Writer, res client.StreamResult) {
	if res.OK() {
		fmt.Fprintf(w, "\n✅ 流式调用完成，完整内容：%s\n", res.FullContent)
		return
	}
	fmt.Fprintf(w, "❌ 流式调用失败：%s\n", res.Error)
}

func newHealthCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health (exit 1 when unhealthy)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			res := c.HealthCheck(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK() {
				return errHealthFailed
			}
			return nil
		},
	}
}

func newModelsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models served by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c.ListModels(cmd.Context()))
		},
	}
}

func newChatCmd(o *options) *cobra.Command {
	var (
		stream      bool
		system      string
		temperature float32
		maxTokens   int
	)
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send one chat completion request",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient(cmd)
			if err != nil {
				return err
			}

			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				prompt = defaultUserPrompt
			}
			messages := []openai.ChatCompletionMessage{}
			if strings.TrimSpace(system) != "" {
				messages = append(messages, client.SystemMessage(system))
			}
			messages = append(messages, client.UserMessage(prompt))

			opts := client.ChatOptions{MaxTokens: maxTokens}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temperature
			}

			w := cmd.OutOrStdout()
			if stream {
				res := c.ChatCompletionStream(cmd.Context(), messages, opts)
				printStreamResult(w, res)
				if !res.OK() {
					return fmt.Errorf("stream failed: %s", res.Error)
				}
				return nil
			}
			res := c.ChatCompletion(cmd.Context(), messages, opts)
			if err := printJSON(w, completionOutput(res)); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("chat failed: %s", res.Error)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&stream, "stream", false, "stream the response")
	f.StringVar(&system, "system", defaultSystemPrompt, "system prompt (empty to omit)")
	f.Float32Var(&temperature, "temperature", client.DefaultTemperature, "sampling temperature")
	f.IntVar(&maxTokens, "max-tokens", client.DefaultMaxTokens, "max tokens to generate")
	return cmd
}
