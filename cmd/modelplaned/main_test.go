package main

import (
	"os"
	"testing"

	"github.com/playforge-studio/modelplane/internal/config"
)

func TestResolveDSNPrecedence(t *testing.T) {
	cases := []struct {
		name string
		flag string
		env  string
		cfg  *config.Config
		want string
	}{
		{
			name: "flag wins",
			flag: "postgres://flag",
			env:  "postgres://env",
			cfg:  &config.Config{Database: config.DatabaseConfig{DSN: "postgres://cfg"}},
			want: "postgres://flag",
		},
		{
			name: "env when flag missing",
			flag: "",
			env:  "postgres://env",
			cfg:  &config.Config{Database: config.DatabaseConfig{DSN: "postgres://cfg"}},
			want: "postgres://env",
		},
		{
			name: "config dsn when flag/env empty",
			flag: "",
			env:  "",
			cfg:  &config.Config{Database: config.DatabaseConfig{DSN: "postgres://cfg"}},
			want: "postgres://cfg",
		},
		{
			name: "empty when nothing provided",
			flag: "",
			env:  "",
			cfg:  &config.Config{},
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.env != "" {
				if err := os.Setenv("DATABASE_URL", tc.env); err != nil {
					t.Fatalf("setenv: %v", err)
				}
				t.Cleanup(func() { os.Unsetenv("DATABASE_URL") })
			} else {
				os.Unsetenv("DATABASE_URL")
			}

			got := resolveDSN(tc.flag, tc.cfg)
			if got != tc.want {
				t.Fatalf("resolveDSN() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveAdminTokensMergesConfigAndFlag(t *testing.T) {
	cfg := &config.Config{Admin: config.AdminConfig{Tokens: []string{"cfg-token"}}}
	got := resolveAdminTokens("flag-token, flag-token-2", cfg)

	want := []string{"cfg-token", "flag-token", "flag-token-2"}
	if len(got) != len(want) {
		t.Fatalf("resolveAdminTokens() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("resolveAdminTokens()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveAdminTokensHandlesEmptyFlag(t *testing.T) {
	cfg := &config.Config{Admin: config.AdminConfig{Tokens: []string{"only-token"}}}
	got := resolveAdminTokens("", cfg)
	if len(got) != 1 || got[0] != "only-token" {
		t.Fatalf("resolveAdminTokens() = %v, want [only-token]", got)
	}
}

func TestDetermineAddr(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: 9090}}

	if got := determineAddr(":7070", cfg); got != ":7070" {
		t.Fatalf("determineAddr(flag) = %q, want :7070", got)
	}
	if got := determineAddr("", cfg); got != "0.0.0.0:9090" {
		t.Fatalf("determineAddr(config) = %q, want 0.0.0.0:9090", got)
	}
}

func TestSplitTokens(t *testing.T) {
	got := splitTokens(" a, b ,, c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitTokens() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitTokens()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
