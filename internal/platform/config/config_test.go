package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func validVars() map[string]string {
	return map[string]string{
		"SESSION_SIGNING_KEY":    strings.Repeat("s", 32),
		"GENESIS_CONFIRM_SECRET": "confirm",
	}
}

func TestLoadFromMap_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromMap(validVars())
	if err != nil {
		t.Fatalf("LoadFromMap: %v", err)
	}
	if cfg.Port != "8080" || cfg.StorageBackend != StorageMemory || cfg.AuthMode != AuthModeSession {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxSessionsPerPersona != 5 || cfg.SessionTTL != 24*time.Hour || cfg.GenesisUnconfirmedTTL != 48*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFromMap_StaticDroids(t *testing.T) {
	t.Parallel()

	vars := validVars()
	vars["STATIC_DROID_TOKENS"] = "resolve:abc, quick_partial_export:def"
	cfg, err := LoadFromMap(vars)
	if err != nil {
		t.Fatalf("LoadFromMap: %v", err)
	}
	got, err := cfg.StaticDroids()
	if err != nil {
		t.Fatalf("StaticDroids: %v", err)
	}
	want := map[string]string{"resolve": "abc", "quick_partial_export": "def"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("static droids mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromMap_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{name: "short key", mutate: func(m map[string]string) { m["SESSION_SIGNING_KEY"] = "x" }, wantErr: "SESSION_SIGNING_KEY"},
		{name: "postgres without url", mutate: func(m map[string]string) { m["STORAGE_BACKEND"] = "postgres" }, wantErr: "DATABASE_URL"},
		{name: "unknown backend", mutate: func(m map[string]string) { m["STORAGE_BACKEND"] = "redis" }, wantErr: "STORAGE_BACKEND"},
		{name: "unknown auth mode", mutate: func(m map[string]string) { m["AUTH_MODE"] = "oidc" }, wantErr: "AUTH_MODE"},
		{name: "bad droid pair", mutate: func(m map[string]string) { m["STATIC_DROID_TOKENS"] = "resolve" }, wantErr: "name:secret"},
		{name: "missing confirm secret", mutate: func(m map[string]string) { delete(m, "GENESIS_CONFIRM_SECRET") }, wantErr: "GENESIS_CONFIRM_SECRET"},
		{name: "bootstrap email only", mutate: func(m map[string]string) { m["BOOTSTRAP_ADMIN_EMAIL"] = "root@example.com" }, wantErr: "BOOTSTRAP_ADMIN_PASSWORD"},
		{name: "dev persona in session mode", mutate: func(m map[string]string) { m["DEV_PERSONA"] = "admin" }, wantErr: "DEV_PERSONA"},
		{name: "bad duration", mutate: func(m map[string]string) { m["SESSION_TTL"] = "soon" }, wantErr: "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := validVars()
			tt.mutate(vars)
			_, err := LoadFromMap(vars)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
