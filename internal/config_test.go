package internal

import (
	"strings"
	"testing"
	"time"

	"github.com/starford/tripbook/internal/tripstore"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Mirror.Enabled() {
		t.Error("mirror should be disabled by default")
	}
}

func TestStoreConfig_Backends(t *testing.T) {
	cases := []struct {
		name    string
		cfg     StoreConfig
		wantErr bool
	}{
		{"fs", StoreConfig{Backend: BackendFS, Path: "./trips"}, false},
		{"sqlite", StoreConfig{Backend: BackendSQLite, Path: "./trips.db"}, false},
		{"memory without path", StoreConfig{Backend: BackendMemory}, false},
		{"fs without path", StoreConfig{Backend: BackendFS}, true},
		{"unknown backend", StoreConfig{Backend: "redis", Path: "x"}, true},
		{"unknown policy", StoreConfig{Backend: BackendMemory, Policy: "first_writer_wins"}, true},
		{"negative throttle", StoreConfig{Backend: BackendMemory, ListThrottle: -time.Second}, true},
		{"negative retry", StoreConfig{Backend: BackendMemory, Retry: RetryConfig{MaxElapsed: -time.Second}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestStoreConfig_EmptyPolicyDefaultsToVersionCheck(t *testing.T) {
	cfg := StoreConfig{Backend: BackendMemory}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Policy != tripstore.PolicyVersionCheck {
		t.Errorf("policy = %q, want %q", cfg.Policy, tripstore.PolicyVersionCheck)
	}
}

func TestMirrorConfig(t *testing.T) {
	ok := MirrorConfig{URL: "https://mirror.example.com/api"}
	if err := ok.Validate(); err != nil || !ok.Enabled() {
		t.Errorf("valid mirror: err=%v enabled=%v", err, ok.Enabled())
	}
	bad := MirrorConfig{URL: "not a url"}
	if err := bad.Validate(); err == nil {
		t.Error("invalid URL should fail validation")
	}
}

func TestFullConfig_StoreValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.Backend = "postgres"
	err := cfg.Validate()
	if err == nil || !strings.HasPrefix(err.Error(), "store:") {
		t.Fatalf("err = %v, want store validation error", err)
	}
}
