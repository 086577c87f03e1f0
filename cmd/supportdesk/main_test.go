package main

import (
	"slices"
	"testing"

	"github.com/Strob0t/supportdesk/internal/config"
)

func TestOriginPatterns(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"http://localhost:3000", []string{"localhost:3000"}},
		{"https://a.test, https://b.test", []string{"a.test", "b.test"}},
		{"*", nil},
		{"", nil},
	}
	for _, tt := range tests {
		if got := originPatterns(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("originPatterns(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSessionKeyring(t *testing.T) {
	t.Setenv(envJWTSecret, "")
	t.Setenv(envJWTSecretPrevious, "")

	cfg := config.Defaults()
	cfg.Auth.JWTSecret = "configured"
	cfg.Auth.PreviousJWTSecret = "retiring"
	k, err := sessionKeyring(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if keys := k.Keys(); len(keys) != 2 || string(keys[0]) != "configured" || string(keys[1]) != "retiring" {
		t.Fatalf("keys = %q", keys)
	}

	t.Setenv(envJWTSecret, "rotated")
	if err := k.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := string(k.Current()); got != "rotated" {
		t.Fatalf("current after reload = %q", got)
	}

	cfg.Auth.JWTSecret = ""
	a, err := sessionKeyring(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := sessionKeyring(&cfg)
	if len(a.Current()) != 64 || string(a.Current()) == string(b.Current()) {
		t.Fatalf("dev secrets not random: %q %q", a.Current(), b.Current())
	}
}
