package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at configPath, applies environment overrides and
// validates the result. A missing file is not an error when configPath is the
// default path; the process then runs on defaults plus environment.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		content = nil
	}

	cfg, err := parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	applyEnv(cfg, os.LookupEnv)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

func parse(content []byte) (*AppConfig, error) {
	cfg := defaultAppConfig()
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	if err := applyRawAppConfig(&cfg, raw); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseConfig{
			Driver: defaultDBDriver,
			Name:   defaultSQLitePath,
		},
		AI: AIConfig{
			DailyLimit:     defaultDailyLimit,
			ThinkingBudget: defaultThinkingBudget,
			Retry: RetryConfig{
				MaxRetries:   defaultMaxRetries,
				InitialDelay: defaultInitialDelay,
				MaxDelay:     defaultMaxDelay,
				Multiplier:   defaultMultiplier,
				Analysis:     true,
			},
		},
		Storage: StorageConfig{
			Driver:   StorageLocal,
			LocalDir: defaultStorageDir,
			S3:       S3Config{Region: defaultS3Region},
		},
		Conversation: ConversationConfig{SaveDebounce: defaultSaveDebounce},
		RateLimit: RateLimitConfig{
			Requests: defaultRateLimitRequests,
			Window:   defaultRateLimitWindow,
		},
		Log: LogConfig{Level: defaultLogLevel, KeepDays: defaultLogKeepDays},
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = raw.AllowedOrigins
	}
	if v := strings.TrimSpace(raw.Timezone); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(raw.SecretKey); v != "" {
		cfg.SecretKey = v
	}
	if v := strings.TrimSpace(raw.Redis.URL); v != "" {
		cfg.Redis.URL = v
	}

	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw.Database)
	cfg.Supabase = applyRawSupabaseConfig(cfg.Supabase, raw.Supabase)

	if v := strings.TrimSpace(raw.Gemini.APIKey); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := strings.TrimSpace(raw.Gemini.BaseURL); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := strings.TrimSpace(raw.Providers.OpenAIBaseURL); v != "" {
		cfg.Providers.OpenAIBaseURL = v
	}
	if v := strings.TrimSpace(raw.Providers.AnthropicBaseURL); v != "" {
		cfg.Providers.AnthropicBaseURL = v
	}
	if v := strings.TrimSpace(raw.Providers.PerplexityBaseURL); v != "" {
		cfg.Providers.PerplexityBaseURL = v
	}

	ai, err := applyRawAIConfig(cfg.AI, raw.AI)
	if err != nil {
		return err
	}
	cfg.AI = ai
	cfg.Storage = applyRawStorageConfig(cfg.Storage, raw.Storage)

	if raw.Conversation.SaveDebounce != "" {
		d, err := parseDuration("conversation.save_debounce", raw.Conversation.SaveDebounce)
		if err != nil {
			return err
		}
		cfg.Conversation.SaveDebounce = d
	}

	if v := strings.TrimSpace(raw.Log.Dir); v != "" {
		cfg.Log.Dir = v
	}
	if v := strings.TrimSpace(raw.Log.Level); v != "" {
		cfg.Log.Level = v
	}
	if raw.Log.KeepDays != 0 {
		cfg.Log.KeepDays = raw.Log.KeepDays
	}

	if raw.RateLimit.Requests != nil {
		cfg.RateLimit.Requests = *raw.RateLimit.Requests
	}
	if raw.RateLimit.Window != "" {
		d, err := parseDuration("rate_limit.window", raw.RateLimit.Window)
		if err != nil {
			return err
		}
		cfg.RateLimit.Window = d
	}

	normalize(cfg)
	return nil
}

func applyRawDatabaseConfig(current DatabaseConfig, raw rawDatabaseConfig) DatabaseConfig {
	cfg := current
	if v := strings.TrimSpace(raw.Driver); v != "" {
		cfg.Driver = v
		// A different driver must not inherit the sqlite file path as its database name.
		if cfg.Name == defaultSQLitePath {
			cfg.Name = ""
		}
	}
	if v := strings.TrimSpace(raw.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.Host); v != "" {
		cfg.Host = v
	}
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.User); v != "" {
		cfg.User = v
	}
	if raw.Password != "" {
		cfg.Password = raw.Password
	}
	if v := strings.TrimSpace(raw.Name); v != "" {
		cfg.Name = v
	}
	if raw.Params != nil {
		cfg.Params = copyStringMap(raw.Params)
	}
	return cfg
}

func applyRawSupabaseConfig(current SupabaseConfig, raw rawSupabaseConfig) SupabaseConfig {
	cfg := current
	if v := strings.TrimSpace(raw.URL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(raw.AnonKey); v != "" {
		cfg.AnonKey = v
	}
	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if raw.UseProxy != nil {
		cfg.UseProxy = *raw.UseProxy
	}
	return cfg
}

func applyRawAIConfig(current AIConfig, raw rawAIConfig) (AIConfig, error) {
	cfg := current
	if raw.DailyLimit != 0 {
		cfg.DailyLimit = raw.DailyLimit
	}
	if raw.ThinkingBudget != 0 {
		cfg.ThinkingBudget = raw.ThinkingBudget
	}
	if raw.DisabledModels != nil {
		cfg.DisabledModels = raw.DisabledModels
	}
	if raw.DisabledProviders != nil {
		cfg.DisabledProviders = raw.DisabledProviders
	}

	if raw.Retry.MaxRetries != nil {
		cfg.Retry.MaxRetries = *raw.Retry.MaxRetries
	}
	if raw.Retry.InitialDelay != "" {
		d, err := parseDuration("ai.retry.initial_delay", raw.Retry.InitialDelay)
		if err != nil {
			return cfg, err
		}
		cfg.Retry.InitialDelay = d
	}
	if raw.Retry.MaxDelay != "" {
		d, err := parseDuration("ai.retry.max_delay", raw.Retry.MaxDelay)
		if err != nil {
			return cfg, err
		}
		cfg.Retry.MaxDelay = d
	}
	if raw.Retry.Multiplier != 0 {
		cfg.Retry.Multiplier = raw.Retry.Multiplier
	}
	if raw.Retry.Analysis != nil {
		cfg.Retry.Analysis = *raw.Retry.Analysis
	}
	return cfg, nil
}

func applyRawStorageConfig(current StorageConfig, raw rawStorageConfig) StorageConfig {
	cfg := current
	if v := strings.TrimSpace(raw.Driver); v != "" {
		cfg.Driver = v
	}
	if v := strings.TrimSpace(raw.LocalDir); v != "" {
		cfg.LocalDir = v
	}
	if v := strings.TrimSpace(raw.S3.Endpoint); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := strings.TrimSpace(raw.S3.Region); v != "" {
		cfg.S3.Region = v
	}
	if v := strings.TrimSpace(raw.S3.Bucket); v != "" {
		cfg.S3.Bucket = v
	}
	if v := strings.TrimSpace(raw.S3.AccessKeyID); v != "" {
		cfg.S3.AccessKeyID = v
	}
	if v := strings.TrimSpace(raw.S3.SecretAccessKey); v != "" {
		cfg.S3.SecretAccessKey = v
	}
	if raw.S3.PathStyle != nil {
		cfg.S3.PathStyle = *raw.S3.PathStyle
	}
	return cfg
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func (c *AppConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", c.Port)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database.port %d, expected 1-65535", c.Database.Port)
	}
	switch c.Storage.Driver {
	case StorageLocal:
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required when storage.driver is s3")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	if c.AI.Retry.MaxRetries < 0 {
		return fmt.Errorf("invalid ai.retry.max_retries %d, expected >= 0", c.AI.Retry.MaxRetries)
	}
	if c.AI.Retry.Multiplier < 1 {
		return fmt.Errorf("invalid ai.retry.multiplier %v, expected >= 1", c.AI.Retry.Multiplier)
	}
	return nil
}

func (c *AppConfig) IsDev() bool {
	return c.Env == "development"
}

// StorageDir resolves the local upload directory against the executable directory.
func (c *AppConfig) StorageDir() string {
	return ResolveRuntimePath(c.Storage.LocalDir, defaultStorageDir)
}

// SupabaseEnabled reports whether the Supabase project URL and anon key are both set.
func (c *AppConfig) SupabaseEnabled() bool {
	return c.Supabase.URL != "" && c.Supabase.AnonKey != ""
}
