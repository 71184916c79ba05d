package config

import (
	"log/slog"
	"os"
	"strings"
)

// Runtime holds process settings that come from the environment rather than warden.yml.
// Secrets never live in the YAML file.
type Runtime struct {
	ConfigPath   string
	Instance     string
	DiscordToken string
	RedisURL     string
	NameStore    string // "sqlite", "postgres" or "none"
	NameStoreDSN string
	NameTable    string
	HealthAddr   string
	LogLevel     slog.Level
}

// LoadRuntime reads the runtime settings from the environment.
func LoadRuntime() Runtime {
	return Runtime{
		ConfigPath:   getenv("WARDEN_CONFIG", "warden.yml"),
		Instance:     getenv("WARDEN_INSTANCE", "default"),
		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		RedisURL:     getenv("REDIS_URL", "redis://localhost:6379/0"),
		NameStore:    strings.ToLower(getenv("WARDEN_NAME_STORE", "sqlite")),
		NameStoreDSN: getenv("WARDEN_NAME_STORE_DSN", "guild_data.db"),
		NameTable:    getenv("WARDEN_NAME_TABLE", "ingame_names"),
		HealthAddr:   getenv("WARDEN_HEALTH_ADDR", ":8080"),
		LogLevel:     parseLevel(os.Getenv("WARDEN_LOG_LEVEL")),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}
