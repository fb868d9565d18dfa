package config

import "time"

const (
	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"
)

// Default returns a config with every default applied, used when no file exists.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/scribe/data/scribe.db"
	}
	if cfg.Conversation.CheckpointEvery == 0 {
		cfg.Conversation.CheckpointEvery = 5
	}
	if cfg.Conversation.ResumeWindow == 0 {
		cfg.Conversation.ResumeWindow = 7 * 24 * time.Hour
	}
	if cfg.Conversation.TokenCeiling == 0 {
		cfg.Conversation.TokenCeiling = 50000
	}
	if cfg.Conversation.EventBuffer == 0 {
		cfg.Conversation.EventBuffer = 256
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if len(cfg.LLM.Models) == 0 {
		cfg.LLM.Models = []string{"gpt-4o", "gpt-4o-mini"}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 3
	}
	if cfg.LLM.InitialBackoff == 0 {
		cfg.LLM.InitialBackoff = time.Second
	}
}
