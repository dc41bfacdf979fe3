package main

import (
	"testing"
	"time"

	"github.com/mossy-p/signaling-relay/config"
)

func TestOverridesFromChangedFlagsOnly(t *testing.T) {
	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{"--port", "7000", "--enable-admin", "--shutdown-timeout", "3s"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	got := overridesFrom(cmd)
	want := map[string]string{
		"PORT":             "7000",
		"ENABLE_ADMIN":     "true",
		"SHUTDOWN_TIMEOUT": "3s",
	}
	if len(got) != len(want) {
		t.Fatalf("overrides=%v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("overrides[%s]=%q, want %q", k, got[k], v)
		}
	}
}

func TestOverridesFeedConfig(t *testing.T) {
	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{"--max-relays", "4", "--error-log", "none", "--shutdown-timeout", "2s"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg, err := config.LoadWith(overridesFrom(cmd))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	if cfg.DefaultMaxRelaysPerNode != 4 {
		t.Fatalf("DefaultMaxRelaysPerNode=%d, want 4", cfg.DefaultMaxRelaysPerNode)
	}
	if cfg.ErrorLogBackend != config.ErrorLogBackendNone {
		t.Fatalf("ErrorLogBackend=%q, want %q", cfg.ErrorLogBackend, config.ErrorLogBackendNone)
	}
	if cfg.ShutdownTimeout != 2*time.Second {
		t.Fatalf("ShutdownTimeout=%v, want 2s", cfg.ShutdownTimeout)
	}
}

func TestRootCommandSharesServeFlags(t *testing.T) {
	root := newRootCmd()
	for name := range flagEnv {
		if root.Flags().Lookup(name) == nil {
			t.Fatalf("root command missing --%s", name)
		}
	}
	if root.RunE == nil {
		t.Fatal("root command does not start the server")
	}
}
