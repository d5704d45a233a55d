package auth

import (
	"context"
	"fmt"
	"strings"
)

// NewProvider 根据来源创建 Provider。
// source 允许：static/env/file/auto；空值按 static 处理。
// value 对 static 为 key 本身，对 file 为文件路径（为空时使用默认路径），其他来源忽略。
func NewProvider(source, value string) (Provider, error) {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		s = string(SourceStatic)
	}
	switch Source(s) {
	case SourceStatic:
		return staticProvider(strings.TrimSpace(value)), nil
	case SourceEnv:
		return &envProvider{}, nil
	case SourceFile:
		return &fileProvider{path: strings.TrimSpace(value)}, nil
	case SourceAuto:
		providers := []Provider{&envProvider{}, &fileProvider{}}
		if v := strings.TrimSpace(value); v != "" {
			providers = append([]Provider{staticProvider(v)}, providers...)
		}
		return &autoProvider{providers: providers}, nil
	default:
		return nil, fmt.Errorf("unsupported auth source: %s", source)
	}
}

type staticProvider string

func (p staticProvider) APIKey(ctx context.Context) (string, error) {
	if p == "" {
		return "", fmt.Errorf("api key is empty")
	}
	return string(p), nil
}

type autoProvider struct {
	providers []Provider
}

func (p *autoProvider) APIKey(ctx context.Context) (string, error) {
	var lastErr error
	for _, provider := range p.providers {
		key, err := provider.APIKey(ctx)
		if err == nil && strings.TrimSpace(key) != "" {
			return key, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("no api key available")
}
