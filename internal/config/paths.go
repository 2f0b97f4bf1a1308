package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExecutableDir is the directory of the running binary, or the working
// directory when it cannot be determined.
func ExecutableDir() string {
	if exe, err := os.Executable(); err == nil && exe != "" {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// ResolveRuntimePath turns a configured data path into an absolute one.
// Environment variables and a leading "~/" are expanded; relative paths are
// anchored at the executable directory. An empty raw value uses fallback.
func ResolveRuntimePath(raw string, fallback string) string {
	target := strings.TrimSpace(os.ExpandEnv(strings.TrimSpace(raw)))
	if target == "" {
		target = strings.TrimSpace(fallback)
	}
	if target == "~" || strings.HasPrefix(target, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			target = filepath.Join(home, strings.TrimPrefix(target, "~"))
		}
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Join(ExecutableDir(), target)
}
