package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	EnvAPIKey = "VLLMPOC_API_KEY"
	// EnvOpenAIAPIKey 作为兼容回退（OpenAI SDK 习惯用法）。
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

type envProvider struct{}

func (p *envProvider) APIKey(ctx context.Context) (string, error) {
	for _, name := range []string{EnvAPIKey, EnvOpenAIAPIKey} {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s is not set", EnvAPIKey)
}
