package config

import "strings"

func normalize(cfg *AppConfig) {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.AllowedOrigins = normalizeOrigins(cfg.AllowedOrigins)
	cfg.Database = normalizeDatabaseConfig(cfg.Database)
	cfg.Redis.URL = normalizeRedisRawURL(cfg.Redis.URL)
	cfg.Supabase.URL = strings.TrimRight(strings.TrimSpace(cfg.Supabase.URL), "/")
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.AI.DisabledModels = normalizeList(cfg.AI.DisabledModels)
	cfg.AI.DisabledProviders = normalizeList(cfg.AI.DisabledProviders)
	if cfg.AI.DailyLimit <= 0 {
		cfg.AI.DailyLimit = defaultDailyLimit
	}
	if cfg.AI.ThinkingBudget <= 0 {
		cfg.AI.ThinkingBudget = defaultThinkingBudget
	}
	if cfg.Storage.S3.Region == "" {
		cfg.Storage.S3.Region = defaultS3Region
	}
	if cfg.Conversation.SaveDebounce <= 0 {
		cfg.Conversation.SaveDebounce = defaultSaveDebounce
	}
	cfg.Log.Level = normalizeLogLevel(cfg.Log.Level)
	if cfg.Log.KeepDays <= 0 {
		cfg.Log.KeepDays = defaultLogKeepDays
	}
}

func normalizeLogLevel(level string) string {
	switch v := strings.ToLower(strings.TrimSpace(level)); v {
	case "debug", "info", "warn", "error":
		return v
	case "warning":
		return "warn"
	default:
		return defaultLogLevel
	}
}

func normalizeDatabaseConfig(cfg DatabaseConfig) DatabaseConfig {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch cfg.Driver {
	case "", "sqlite3":
		cfg.Driver = DriverSQLite
	case "postgresql", "pg":
		cfg.Driver = DriverPostgres
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.User = strings.TrimSpace(cfg.User)
	cfg.Name = strings.TrimSpace(cfg.Name)

	if cfg.Driver == DriverSQLite {
		if cfg.Name == "" {
			cfg.Name = defaultSQLitePath
		}
		return cfg
	}
	if cfg.Host == "" {
		cfg.Host = defaultDBHost
	}
	if cfg.Port == 0 {
		if cfg.Driver == DriverMySQL {
			cfg.Port = defaultMySQLPort
		} else {
			cfg.Port = defaultPostgresPort
		}
	}
	if cfg.User == "" {
		cfg.User = defaultDBUser
	}
	if cfg.Name == "" {
		cfg.Name = defaultDBName
	}
	if cfg.Params != nil {
		cfg.Params = copyStringMap(cfg.Params)
	}
	return cfg
}

func normalizeRedisRawURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "redis://") || strings.HasPrefix(trimmed, "rediss://") {
		return trimmed
	}
	return "redis://" + trimmed
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		v := strings.TrimRight(strings.TrimSpace(origin), "/")
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return "production"
	case "test":
		return "test"
	default:
		return defaultEnv
	}
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func copyStringMap(input map[string]string) map[string]string {
	if input == nil {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
