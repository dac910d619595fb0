package main

import (
	"testing"

	"zen/internal/config"
)

func TestConfigDefaultsFromEnv(t *testing.T) {
	t.Setenv("ZEN_AUTH_JWT_SECRET", "main-test-secret")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Auth.JWTSecret != "main-test-secret" {
		t.Fatalf("expected secret from environment, got %q", cfg.Auth.JWTSecret)
	}
}

func TestConfigRequiresSecret(t *testing.T) {
	t.Setenv("ZEN_AUTH_JWT_SECRET", "")

	if _, err := config.Load(""); err == nil {
		t.Fatal("expected missing secret to be rejected")
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	if cmd.Use != "zen-server" {
		t.Fatalf("unexpected command name %q", cmd.Use)
	}
	if cmd.PersistentFlags().Lookup("config") == nil {
		t.Fatal("expected a --config flag")
	}
}
