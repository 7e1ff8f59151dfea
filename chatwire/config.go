package chatwire

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/martinemde/relay/unifiedllm"
)

// Config holds the connection settings of a chat-completion server.
type Config struct {
	APIKey       string        `env:"RELAY_API_KEY,required,notEmpty"`
	BaseURL      string        `env:"RELAY_BASE_URL,required,notEmpty"`
	ChatPath     string        `env:"RELAY_CHAT_PATH" envDefault:"/v1/chat/completions"`
	Timeout      time.Duration `env:"RELAY_TIMEOUT" envDefault:"120s"`
	ProviderName string        `env:"RELAY_PROVIDER_NAME" envDefault:"relay"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, &unifiedllm.ConfigurationError{SDKError: unifiedllm.SDKError{Message: "load chat server config", Cause: err}}
	}
	return cfg, nil
}

// NewAdapterFromConfig builds an HTTP-backed Adapter from cfg.
func NewAdapterFromConfig(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	transport := NewHTTPTransport(cfg.BaseURL, cfg.APIKey,
		WithTimeout(cfg.Timeout),
		WithProviderName(cfg.ProviderName),
	)
	return NewAdapter(transport,
		WithName(cfg.ProviderName),
		WithChatPath(cfg.ChatPath),
		WithLogger(logger),
	)
}

// NewClientFromEnv loads Config from the environment and returns a Client
// whose default provider is the configured chat server.
func NewClientFromEnv(opts ...unifiedllm.ClientOption) (*unifiedllm.Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	adapter := NewAdapterFromConfig(cfg, nil)
	base := []unifiedllm.ClientOption{
		unifiedllm.WithProvider(adapter.Name(), adapter),
		unifiedllm.WithDefaultProvider(adapter.Name()),
	}
	return unifiedllm.NewClient(append(base, opts...)...), nil
}
