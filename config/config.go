// Package config loads pmodoc settings from an optional file plus environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PMODOC_LLM_MODEL.
const EnvPrefix = "PMODOC"

// Supported LLM providers.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderMock     = "mock"
)

// Config holds all pmodoc configuration.
type Config struct {
	Server   ServerConfig `mapstructure:"server"`
	LLM      LLMConfig    `mapstructure:"llm"`
	Chain    ChainConfig  `mapstructure:"chain"`
	LogLevel string       `mapstructure:"log_level"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LLMConfig describes the completion service. APIKey is normally supplied
// through OPENAI_API_KEY rather than written into the file.
type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"` // 0 disables the client-side timeout
}

// ChainConfig selects the prompt chain. File, when set, wins over Preset.
type ChainConfig struct {
	Preset string `mapstructure:"preset"`
	File   string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("chain.preset", "pid")
	v.SetDefault("chain.file", "")
	v.SetDefault("log_level", "info")
}

// Load reads configuration. An explicit path must exist; otherwise
// config.{yaml,json} is looked up in . and ./config and may be absent.
// Environment variables (PMODOC_*) override file values, and the API key is
// also read from OPENAI_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports configuration errors that must stop the process before
// it accepts any input.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderDeepSeek:
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key missing; set OPENAI_API_KEY or %s_LLM_API_KEY", EnvPrefix))
		}
		if c.LLM.Model == "" {
			errs = append(errs, errors.New("llm.model is required"))
		}
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url。
		if c.LLM.Provider == ProviderDeepSeek && c.LLM.BaseURL == "" {
			errs = append(errs, errors.New("llm provider deepseek requires base_url (OpenAI-compatible endpoint)"))
		}
	case ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("llm provider %q not supported", c.LLM.Provider))
	}
	if c.LLM.Timeout < 0 {
		errs = append(errs, errors.New("llm.timeout must not be negative"))
	}
	if c.Chain.File == "" && c.Chain.Preset == "" {
		errs = append(errs, errors.New("chain.preset or chain.file is required"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
