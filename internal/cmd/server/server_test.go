package server

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "localhost:8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.DBPath != "" {
		t.Fatalf("expected empty db path, got %q", cfg.DBPath)
	}
}

func TestParseConfigEnv(t *testing.T) {
	lookup := func(key string) (string, bool) {
		switch key {
		case "KEYFOLD_HTTP_ADDR":
			return "env-addr:9000", true
		case "KEYFOLD_DB_PATH":
			return "/tmp/env.db", true
		}
		return "", false
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, lookup)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "env-addr:9000" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected env db path, got %q", cfg.DBPath)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	lookup := func(key string) (string, bool) {
		return "env-value", key == "KEYFOLD_HTTP_ADDR"
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	args := []string{"-addr", "flag-addr:7000", "-db", "/tmp/flag.db"}
	cfg, err := ParseConfig(fs, args, lookup)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "flag-addr:7000" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
	if cfg.DBPath != "/tmp/flag.db" {
		t.Fatalf("expected flag db path, got %q", cfg.DBPath)
	}
}
