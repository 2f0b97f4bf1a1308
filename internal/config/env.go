package config

import (
	"strconv"
	"strings"
)

type lookupFunc func(string) (string, bool)

// firstEnv returns the first non-empty value among keys.
func firstEnv(lookup lookupFunc, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// applyEnv overlays environment variables on top of the file configuration.
// The VITE_ prefixed names are accepted so a front-end .env file can be shared.
func applyEnv(cfg *AppConfig, lookup lookupFunc) {
	if v, ok := firstEnv(lookup, "PRISM_PORT", "PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := firstEnv(lookup, "PRISM_ENV"); ok {
		cfg.Env = normalizeEnv(v)
	}
	if v, ok := firstEnv(lookup, "GEMINI_API_KEY", "VITE_GEMINI_API_KEY"); ok {
		cfg.Gemini.APIKey = v
	}
	if v, ok := firstEnv(lookup, "SUPABASE_URL", "VITE_SUPABASE_URL"); ok {
		cfg.Supabase.URL = strings.TrimRight(v, "/")
	}
	if v, ok := firstEnv(lookup, "SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY"); ok {
		cfg.Supabase.AnonKey = v
	}
	if v, ok := firstEnv(lookup, "SUPABASE_JWT_SECRET"); ok {
		cfg.Supabase.JWTSecret = v
	}
	if v, ok := firstEnv(lookup, "PRISM_DATABASE_DSN"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := firstEnv(lookup, "PRISM_REDIS_URL"); ok {
		cfg.Redis.URL = normalizeRedisRawURL(v)
	}
	if v, ok := firstEnv(lookup, "PRISM_SECRET_KEY"); ok {
		cfg.SecretKey = v
	}
	if v, ok := firstEnv(lookup, "PRISM_LOG_DIR"); ok {
		cfg.Log.Dir = v
	}
	if v, ok := firstEnv(lookup, "PRISM_LOG_LEVEL"); ok {
		cfg.Log.Level = normalizeLogLevel(v)
	}
}
