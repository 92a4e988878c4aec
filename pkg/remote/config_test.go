package remote

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFakeKey(t *testing.T) string {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("fake key material"), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return keyPath
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("dev-host", "builder")
	if cfg.Port != 22 {
		t.Errorf("Port = %d, want 22", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("AuthMethod = %q, want key", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}
	if cfg.Address() != "dev-host:22" {
		t.Errorf("Address() = %q, want dev-host:22", cfg.Address())
	}
}

func TestConfigValidate(t *testing.T) {
	keyPath := writeFakeKey(t)

	valid := func() *Config {
		cfg := DefaultConfig("dev-host", "builder")
		cfg.PrivateKeyPath = keyPath
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid key config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Host = "" },
			wantErr: "host is required",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "invalid port",
		},
		{
			name:    "missing user",
			mutate:  func(c *Config) { c.User = "" },
			wantErr: "user is required",
		},
		{
			name: "password auth without password",
			mutate: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = ""
			},
			wantErr: "password is required",
		},
		{
			name:    "missing key file",
			mutate:  func(c *Config) { c.PrivateKeyPath = filepath.Join(os.TempDir(), "no-such-key") },
			wantErr: "private key file not found",
		},
		{
			name:    "unknown auth method",
			mutate:  func(c *Config) { c.AuthMethod = "kerberos" },
			wantErr: "unsupported auth method",
		},
		{
			name:    "zero command timeout",
			mutate:  func(c *Config) { c.CommandTimeout = 0 },
			wantErr: "command timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation to fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
