package openaihttp

import (
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 在引擎未返回 usage 时估算 token 数。
type TokenCounter interface {
	CountTokens(text string) int
}

const defaultEncoding = "cl100k_base"

// tiktokenCounter 懒加载编码表；加载失败（如离线无法下载 BPE 文件）时退化为按字符估算。
type tiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTiktokenCounter() TokenCounter {
	return &tiktokenCounter{}
}

func (c *tiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(defaultEncoding)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// estimateTokens 粗略估算：非拉丁的多字节字符（如中文）按 1 token，其余按 4 字符 1 token。
func estimateTokens(text string) int {
	wide, other := 0, 0
	for _, r := range text {
		if r >= utf8.RuneSelf && !unicode.Is(unicode.Latin, r) {
			wide++
			continue
		}
		other++
	}
	return wide + (other+3)/4
}

// countPromptTokens 按 chat 格式估算 prompt token：每条消息额外 3 个，回复前缀 3 个。
func countPromptTokens(counter TokenCounter, messages []*schema.Message) int {
	total := 3
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		total += 3 + counter.CountTokens(string(msg.Role)) + counter.CountTokens(msg.Content)
	}
	return total
}
