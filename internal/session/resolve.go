package session

import (
	"os"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/config"
)

const DefaultSessionName = "main"

// EnvSession overrides the configured session without editing flags or
// config, e.g. for a counselor shell pinned to a specific caseload.
const EnvSession = "SAFESPACE_SESSION"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. SAFESPACE_SESSION environment variable
// 3. config.toml default_session
// 4. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvSession); env != "" {
		return env
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
