package auth

import "context"

// Provider 用于从不同来源读取客户端请求时携带的 API key。
type Provider interface {
	APIKey(ctx context.Context) (string, error)
}

type Source string

const (
	SourceStatic Source = "static"
	SourceEnv    Source = "env"
	SourceFile   Source = "file"
	SourceAuto   Source = "auto"
)
