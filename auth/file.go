package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type authFile struct {
	APIKey string `json:"api_key"`
}

func ReadAPIKeyFromPath(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read auth file: %w", err)
	}

	var f authFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("failed to parse auth file: %w", err)
	}

	key := strings.TrimSpace(f.APIKey)
	if key == "" {
		return "", fmt.Errorf("auth file missing api_key")
	}
	return key, nil
}

// DefaultFilePath 返回 ~/.config/vllmpoc/auth.json。
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vllmpoc", "auth.json"), nil
}

type fileProvider struct {
	path string
}

func (p *fileProvider) APIKey(ctx context.Context) (string, error) {
	path := p.path
	if path == "" {
		var err error
		if path, err = DefaultFilePath(); err != nil {
			return "", err
		}
	}
	return ReadAPIKeyFromPath(path)
}
