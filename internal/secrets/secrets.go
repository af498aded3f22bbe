package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider resolves a secret reference to its value.
type Provider interface {
	Get(ctx context.Context, ref string) (string, error)
}

// EnvProvider reads secrets from environment variables named by the
// reference.
type EnvProvider struct{}

// Get implements Provider.
func (EnvProvider) Get(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("secrets: empty reference")
	}
	value := os.Getenv(ref)
	if value == "" {
		return "", fmt.Errorf("secrets: environment variable %s not set", ref)
	}
	return value, nil
}

// FileProvider reads secrets from files, for mounted secret volumes.
type FileProvider struct{}

// Get implements Provider. The value is the file content with trailing
// whitespace stripped.
func (FileProvider) Get(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("secrets: empty reference")
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("secrets: read %s: %w", ref, err)
	}
	return strings.TrimRight(string(data), "\r\n \t"), nil
}

// Resolve dispatches a reference of the form "env:NAME" or "file:/path"
// to the matching provider. A bare reference defaults to env.
func Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		return EnvProvider{}.Get(ctx, strings.TrimPrefix(ref, "env:"))
	case strings.HasPrefix(ref, "file:"):
		return FileProvider{}.Get(ctx, strings.TrimPrefix(ref, "file:"))
	default:
		return EnvProvider{}.Get(ctx, ref)
	}
}
