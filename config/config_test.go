package config

import (
	"log/slog"
	"testing"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("Port=%q, want %q", cfg.Port, DefaultPort)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel=%v, want info", cfg.LogLevel)
	}
	if cfg.DefaultMaxParticipants != DefaultMaxParticipants {
		t.Fatalf("DefaultMaxParticipants=%d, want %d", cfg.DefaultMaxParticipants, DefaultMaxParticipants)
	}
	if cfg.DefaultMaxRelaysPerNode != DefaultMaxRelaysPerNode {
		t.Fatalf("DefaultMaxRelaysPerNode=%d, want %d", cfg.DefaultMaxRelaysPerNode, DefaultMaxRelaysPerNode)
	}
	if cfg.SocketMessageEvent != DefaultSocketMessageEvent {
		t.Fatalf("SocketMessageEvent=%q, want %q", cfg.SocketMessageEvent, DefaultSocketMessageEvent)
	}
	if cfg.Admin.Active() {
		t.Fatalf("admin unexpectedly active by default")
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins=%v, want 2 entries", cfg.AllowedOrigins)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v, want none", cfg.ICEServers)
	}
	if cfg.ErrorLogBackend != ErrorLogBackendMemory {
		t.Fatalf("ErrorLogBackend=%q, want %q", cfg.ErrorLogBackend, ErrorLogBackendMemory)
	}
}

func TestLoadProductionDefaultsToJSON(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{"ENVIRONMENT": "production"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("LogFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
}

func TestLoadAdmin(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"ENABLE_ADMIN":   "true",
		"ADMIN_USERNAME": "root",
		"ADMIN_PASSWORD": "secret",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Admin.Active() {
		t.Fatalf("admin not active: %+v", cfg.Admin)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":      {"DEFAULT_MAX_PARTICIPANTS": "lots"},
		"zero relays":  {"DEFAULT_MAX_RELAYS_PER_NODE": "0"},
		"bad bool":     {"ENABLE_ADMIN": "sometimes"},
		"bad level":    {"LOG_LEVEL": "loud"},
		"bad format":   {"LOG_FORMAT": "xml"},
		"bad backend":  {"ERROR_LOG_BACKEND": "disk"},
		"bad duration": {"SHUTDOWN_TIMEOUT": "soon"},
		"turn no auth": {"TURN_URLS": "turn:turn.example.com:3478"},
		"bad scheme":   {"STUN_URLS": "http://example.com"},
		"bad ice json": {"ICE_SERVERS_JSON": "{"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load(lookupMap(env)); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestLoadICEServers(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"STUN_URLS":       "stun:stun.l.google.com:19302, stun:stun1.l.google.com:19302",
		"TURN_URLS":       "turn:turn.example.com:3478",
		"TURN_USERNAME":   "user",
		"TURN_CREDENTIAL": "pass",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers=%d, want 2", len(cfg.ICEServers))
	}
	if got := len(cfg.ICEServers[0].URLs); got != 2 {
		t.Fatalf("stun urls=%d, want 2", got)
	}
	if cfg.ICEServers[1].Username != "user" {
		t.Fatalf("turn username=%q, want user", cfg.ICEServers[1].Username)
	}
}

func TestLoadICEServersJSONWins(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"ICE_SERVERS_JSON": `[{"urls":"stun:a.example.com"},{"urls":["turns:b.example.com"],"username":"u","credential":"c"}]`,
		"STUN_URLS":        "stun:ignored.example.com",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers=%d, want 2", len(cfg.ICEServers))
	}
	if cfg.ICEServers[0].URLs[0] != "stun:a.example.com" {
		t.Fatalf("first url=%q", cfg.ICEServers[0].URLs[0])
	}
}

func TestLoadWithOverridesEnvironment(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadWith(map[string]string{"PORT": "8000"})
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	if cfg.Port != "8000" {
		t.Fatalf("Port=%q, want the override 8000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel=%v, want error from the environment", cfg.LogLevel)
	}
}
