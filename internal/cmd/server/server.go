// Package server wires flags and environment into the auth harness server.
package server

import (
	"context"
	"flag"
	"strings"

	app "github.com/keyfold/keyfold/internal/auth/app"
)

// Config holds server command configuration.
type Config struct {
	Addr   string
	DBPath string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		Addr:   envOrDefault(lookup, []string{"KEYFOLD_HTTP_ADDR"}, "localhost:8080"),
		DBPath: envOrDefault(lookup, []string{"KEYFOLD_DB_PATH"}, ""),
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The HTTP server address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The sqlite database path")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the auth harness server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, cfg.Addr, cfg.DBPath)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
