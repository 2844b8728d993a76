package paramstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"whatsapp-relay/internal/domain"
)

// EnvGetter resolves parameters from environment variables for deployments
// without SSM. The last path segment of the parameter name is mapped to an
// upper-snake variable: "/relay/openai-api-key" reads OPENAI_API_KEY.
type EnvGetter struct {
	lookup func(string) (string, bool)
}

func NewEnv() *EnvGetter {
	return &EnvGetter{lookup: os.LookupEnv}
}

// EnvName returns the environment variable consulted for a parameter name.
func EnvName(name string) string {
	base := path.Base(strings.TrimSpace(name))
	if base == "." || base == "/" {
		return ""
	}
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(base))
}

func (g *EnvGetter) GetParameter(_ context.Context, name string) (string, error) {
	key := EnvName(name)
	if key == "" {
		return "", fmt.Errorf("paramstore: name is required")
	}
	lookup := g.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("paramstore: environment variable %s is not set: %w", key, domain.ErrSecretUnavailable)
	}
	return v, nil
}
