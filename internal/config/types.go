package config

import "time"

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                `yaml:"port"`
	Env            string             `yaml:"env"` // "development" | "production"
	AllowedOrigins []string           `yaml:"allowed_origins"`
	Timezone       string             `yaml:"timezone"`
	Database       DatabaseConfig     `yaml:"database"`
	Redis          RedisConfig        `yaml:"redis"`
	Supabase       SupabaseConfig     `yaml:"supabase"`
	Gemini         GeminiConfig       `yaml:"gemini"`
	Providers      ProvidersConfig    `yaml:"providers"`
	AI             AIConfig           `yaml:"ai"`
	Storage        StorageConfig      `yaml:"storage"`
	Conversation   ConversationConfig `yaml:"conversation"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	SecretKey      string             `yaml:"secret_key"`
	Log            LogConfig          `yaml:"log"`
}

type DatabaseConfig struct {
	Driver   string            `yaml:"driver"`
	DSN      string            `yaml:"dsn"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Name     string            `yaml:"name"`
	Params   map[string]string `yaml:"params"`
}

// RedisConfig is optional; an empty URL keeps every redis-backed component in memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type SupabaseConfig struct {
	URL       string `yaml:"url"`
	AnonKey   string `yaml:"anon_key"`
	JWTSecret string `yaml:"jwt_secret"`
	UseProxy  bool   `yaml:"use_proxy"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type ProvidersConfig struct {
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	AnthropicBaseURL  string `yaml:"anthropic_base_url"`
	PerplexityBaseURL string `yaml:"perplexity_base_url"`
}

type AIConfig struct {
	DailyLimit        int         `yaml:"daily_limit"`
	Retry             RetryConfig `yaml:"retry"`
	DisabledModels    []string    `yaml:"disabled_models"`
	DisabledProviders []string    `yaml:"disabled_providers"`
	ThinkingBudget    int         `yaml:"thinking_budget"`
}

type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	// Analysis wraps file analysis calls in the retry policy.
	Analysis bool `yaml:"analysis"`
}

type StorageConfig struct {
	Driver   string   `yaml:"driver"` // "local" | "s3"
	LocalDir string   `yaml:"local_dir"`
	S3       S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

type ConversationConfig struct {
	SaveDebounce time.Duration `yaml:"save_debounce"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LogConfig controls the daily log files written next to stdout.
type LogConfig struct {
	Dir      string `yaml:"dir"`
	Level    string `yaml:"level"`
	KeepDays int    `yaml:"keep_days"`
}

type rawAppConfig struct {
	Port           int                   `yaml:"port"`
	Env            string                `yaml:"env"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	Timezone       string                `yaml:"timezone"`
	Database       rawDatabaseConfig     `yaml:"database"`
	Redis          rawRedisConfig        `yaml:"redis"`
	Supabase       rawSupabaseConfig     `yaml:"supabase"`
	Gemini         GeminiConfig          `yaml:"gemini"`
	Providers      ProvidersConfig       `yaml:"providers"`
	AI             rawAIConfig           `yaml:"ai"`
	Storage        rawStorageConfig      `yaml:"storage"`
	Conversation   rawConversationConfig `yaml:"conversation"`
	RateLimit      rawRateLimitConfig    `yaml:"rate_limit"`
	SecretKey      string                `yaml:"secret_key"`
	Log            LogConfig             `yaml:"log"`
}

type rawDatabaseConfig struct {
	Driver   string            `yaml:"driver"`
	DSN      string            `yaml:"dsn"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Name     string            `yaml:"name"`
	Params   map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	URL string `yaml:"url"`
}

type rawSupabaseConfig struct {
	URL       string `yaml:"url"`
	AnonKey   string `yaml:"anon_key"`
	JWTSecret string `yaml:"jwt_secret"`
	UseProxy  *bool  `yaml:"use_proxy"`
}

type rawAIConfig struct {
	DailyLimit        int            `yaml:"daily_limit"`
	Retry             rawRetryConfig `yaml:"retry"`
	DisabledModels    []string       `yaml:"disabled_models"`
	DisabledProviders []string       `yaml:"disabled_providers"`
	ThinkingBudget    int            `yaml:"thinking_budget"`
}

type rawRetryConfig struct {
	MaxRetries   *int    `yaml:"max_retries"`
	InitialDelay string  `yaml:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier"`
	Analysis     *bool   `yaml:"analysis"`
}

type rawStorageConfig struct {
	Driver   string      `yaml:"driver"`
	LocalDir string      `yaml:"local_dir"`
	S3       rawS3Config `yaml:"s3"`
}

type rawS3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       *bool  `yaml:"path_style"`
}

type rawConversationConfig struct {
	SaveDebounce string `yaml:"save_debounce"`
}

type rawRateLimitConfig struct {
	Requests *int   `yaml:"requests"`
	Window   string `yaml:"window"`
}
