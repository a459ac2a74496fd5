package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the vault service daemon.
type Config struct {
	ListenAddress    string          `yaml:"listen"`
	Environment      string          `yaml:"env"`
	LogLevel         string          `yaml:"log_level"`
	EngineConfigPath string          `yaml:"engine_config"`
	DataDir          string          `yaml:"data_dir"`
	Market           UpstreamConfig  `yaml:"market"`
	Oracle           OracleConfig    `yaml:"oracle"`
	Auth             AuthConfig      `yaml:"auth"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	Quota            QuotaConfig     `yaml:"quota"`
	Markup           MarkupConfig    `yaml:"markup_model"`
	Telemetry        TelemetryConfig `yaml:"telemetry"`
	Collateral       []AssetConfig   `yaml:"collateral"`
}

// UpstreamConfig describes the connection to the external market endpoint.
type UpstreamConfig struct {
	URL                string `yaml:"url"`
	BearerToken        string `yaml:"bearer_token"`
	SharedSecretHeader string `yaml:"shared_secret_header"`
	SharedSecretValue  string `yaml:"shared_secret_value"`
	TLSClientCAFile    string `yaml:"tls_client_ca"`
	AllowInsecure      bool   `yaml:"allow_insecure"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

// OracleConfig describes the price feed endpoint and its guardrails.
type OracleConfig struct {
	URL           string `yaml:"url"`
	MaxAgeSeconds uint64 `yaml:"max_age_seconds"`
}

// AuthConfig controls bearer token verification for the RPC surface.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
	ScopeClaim string `yaml:"scope_claim"`
}

// RateLimitConfig bounds request rates per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// QuotaConfig bounds mutating call budgets per client.
type QuotaConfig struct {
	MaxRequestsPerMin uint32 `yaml:"max_requests_per_min"`
	MaxVolumePerEpoch uint64 `yaml:"max_volume_per_epoch"`
	EpochSeconds      uint32 `yaml:"epoch_seconds"`
}

// MarkupConfig parameterises the advisory markup curve.
type MarkupConfig struct {
	Base   float64 `yaml:"base"`
	Slope1 float64 `yaml:"slope1"`
	Slope2 float64 `yaml:"slope2"`
	Kink   float64 `yaml:"kink"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
	Traces   bool              `yaml:"traces"`
}

// AssetConfig registers a collateral asset at startup.
type AssetConfig struct {
	Token    string `yaml:"token"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8545",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8545"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.LogLevel = strings.TrimSpace(cfg.LogLevel)
	cfg.EngineConfigPath = strings.TrimSpace(cfg.EngineConfigPath)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Market.normalize()
	cfg.Oracle.URL = strings.TrimSpace(cfg.Oracle.URL)
	if cfg.Oracle.URL == "" {
		cfg.Oracle.URL = cfg.Market.URL
	}
	cfg.Auth.normalize()
	if cfg.Quota.EpochSeconds == 0 {
		cfg.Quota.EpochSeconds = 60
	}
	assets := make([]AssetConfig, 0, len(cfg.Collateral))
	for _, asset := range cfg.Collateral {
		asset.Token = strings.TrimSpace(asset.Token)
		asset.Symbol = strings.TrimSpace(asset.Symbol)
		if asset.Token != "" {
			assets = append(assets, asset)
		}
	}
	cfg.Collateral = assets
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.EngineConfigPath == "" {
		return fmt.Errorf("engine_config path is required")
	}
	if err := cfg.Market.validate(); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for _, asset := range cfg.Collateral {
		if asset.Symbol == "" {
			return fmt.Errorf("collateral %s: symbol is required", asset.Token)
		}
	}
	return nil
}

func (cfg *UpstreamConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.BearerToken = strings.TrimSpace(cfg.BearerToken)
	cfg.SharedSecretHeader = strings.TrimSpace(cfg.SharedSecretHeader)
	cfg.SharedSecretValue = strings.TrimSpace(cfg.SharedSecretValue)
	cfg.TLSClientCAFile = strings.TrimSpace(cfg.TLSClientCAFile)
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
}

func (cfg UpstreamConfig) validate() error {
	if cfg.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.ScopeClaim = strings.TrimSpace(cfg.ScopeClaim)
}

func (cfg AuthConfig) validate() error {
	if cfg.Enabled && cfg.HMACSecret == "" {
		return fmt.Errorf("hmac_secret is required when auth is enabled")
	}
	return nil
}
