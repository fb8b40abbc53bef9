package main

import "os"

// Config collects the shell's settings, all overridable via environment
// variables.
type Config struct {
	ConsoleURL   string // websocket SQL endpoint
	CancelURL    string // HTTP cancel endpoint
	CacheDir     string // command cache location; empty means ~/.rsql
	Organization string
	Region       string
	Cluster      string
	Database     string
	AppName      string
	LogLevel     string
}

// GetConfig reads configuration from the environment with sane defaults.
func GetConfig() Config {
	return Config{
		ConsoleURL:   getEnv("RSQL_URL", "ws://localhost:6876/api/sql/ws"),
		CancelURL:    getEnv("RSQL_CANCEL_URL", "http://localhost:6876/api/sql/cancel"),
		CacheDir:     getEnv("RSQL_CACHE_DIR", ""),
		Organization: getEnv("RSQL_ORGANIZATION", "default"),
		Region:       getEnv("RSQL_REGION", "local"),
		Cluster:      getEnv("RSQL_CLUSTER", ""),
		Database:     getEnv("RSQL_DATABASE", ""),
		AppName:      getEnv("RSQL_APPLICATION_NAME", "rsql"),
		LogLevel:     getEnv("RSQL_LOG_LEVEL", "warn"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
