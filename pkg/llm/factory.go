package llm

import (
	"context"
	"fmt"
	"time"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
)

// Config is the provider-neutral subset of internal/config.LLMConfig the
// factory needs; kept separate so this package never imports internal/config.
type Config struct {
	Provider       string
	Model          string
	RequestTimeout time.Duration
	AWSRegion      string
}

// NewClient constructs the configured provider's Client. anthropicAPIKey is
// read by the caller from its own secret source (e.g. ANTHROPIC_API_KEY) and
// ignored when Provider is "bedrock".
func NewClient(ctx context.Context, cfg Config, anthropicAPIKey string) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		if anthropicAPIKey == "" {
			return nil, facterrors.New(facterrors.KindConfiguration, "anthropic provider requires an API key")
		}
		return NewAnthropicClient(anthropicAPIKey, cfg.Model, cfg.RequestTimeout), nil
	case "bedrock":
		return NewBedrockClient(ctx, cfg.AWSRegion, cfg.Model)
	default:
		return nil, facterrors.New(facterrors.KindConfiguration, fmt.Sprintf("unsupported llm provider %q", cfg.Provider))
	}
}
