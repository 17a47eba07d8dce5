package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		File:        "shellies.txt",
		Concurrency: "auto",
		Retries:     0,
		Timeout:     5 * time.Second,
		Output:      "table",
		Sort:        "ip",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

func TestValidate_Defaults(t *testing.T) {
	m := &ViperManager{}
	if err := m.Validate(validConfig()); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidate_Concurrency(t *testing.T) {
	m := &ViperManager{}

	tests := []struct {
		value   string
		wantErr bool
	}{
		{"auto", false},
		{"1", false},
		{"64", false},
		{"0", true},
		{"-3", true},
		{"fast", true},
		{"", true},
	}

	for _, tt := range tests {
		cfg := validConfig()
		cfg.Concurrency = tt.value
		err := m.Validate(cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(concurrency=%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}

func TestValidate_Retries(t *testing.T) {
	m := &ViperManager{}

	cfg := validConfig()
	cfg.Retries = -1
	if err := m.Validate(cfg); err == nil {
		t.Error("negative retries should fail validation")
	}

	cfg.Retries = 5
	if err := m.Validate(cfg); err != nil {
		t.Errorf("retries=5 should validate, got %v", err)
	}
}

func TestValidate_Timeouts(t *testing.T) {
	m := &ViperManager{}

	cfg := validConfig()
	cfg.Timeout = 0
	if err := m.Validate(cfg); err == nil {
		t.Error("zero timeout should fail validation")
	}

	cfg = validConfig()
	cfg.TotalTimeout = -time.Second
	if err := m.Validate(cfg); err == nil {
		t.Error("negative total-timeout should fail validation")
	}

	cfg = validConfig()
	cfg.TotalTimeout = 0
	if err := m.Validate(cfg); err != nil {
		t.Errorf("zero total-timeout means no deadline, should validate, got %v", err)
	}
}

func TestValidate_Output(t *testing.T) {
	m := &ViperManager{}

	for _, mode := range []string{"table", "json", "plain"} {
		cfg := validConfig()
		cfg.Output = mode
		if err := m.Validate(cfg); err != nil {
			t.Errorf("output=%q should validate, got %v", mode, err)
		}
	}

	cfg := validConfig()
	cfg.Output = "csv"
	if err := m.Validate(cfg); err == nil {
		t.Error("output=csv should fail validation")
	}
}

func TestValidate_Sort(t *testing.T) {
	m := &ViperManager{}

	for _, key := range []string{"ip", "uptime", "wifi"} {
		cfg := validConfig()
		cfg.Sort = key
		if err := m.Validate(cfg); err != nil {
			t.Errorf("sort=%q should validate, got %v", key, err)
		}
	}

	cfg := validConfig()
	cfg.Sort = "name"
	err := m.Validate(cfg)
	if err == nil {
		t.Fatal("sort=name should fail validation")
	}
	if !strings.Contains(err.Error(), "sort key") {
		t.Errorf("error should mention sort key, got %v", err)
	}
}

func TestValidate_Credentials(t *testing.T) {
	m := &ViperManager{}

	cfg := validConfig()
	cfg.User = "admin"
	if err := m.Validate(cfg); err == nil {
		t.Error("user without password should fail validation")
	}

	cfg = validConfig()
	cfg.Password = "secret"
	if err := m.Validate(cfg); err == nil {
		t.Error("password without user should fail validation")
	}

	cfg = validConfig()
	cfg.User = "admin"
	cfg.Password = "secret"
	if err := m.Validate(cfg); err != nil {
		t.Errorf("paired credentials should validate, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	m := NewManager()
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.File != "shellies.txt" {
		t.Errorf("default file = %q, want shellies.txt", cfg.File)
	}
	if cfg.Concurrency != "auto" {
		t.Errorf("default concurrency = %q, want auto", cfg.Concurrency)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("default timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Output != "table" {
		t.Errorf("default output = %q, want table", cfg.Output)
	}
	if cfg.Sort != "ip" {
		t.Errorf("default sort = %q, want ip", cfg.Sort)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SHELLYFLEET_OUTPUT", "json")
	t.Setenv("SHELLYFLEET_RETRIES", "2")

	m := NewManager()
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "json" {
		t.Errorf("env output = %q, want json", cfg.Output)
	}
	if cfg.Retries != 2 {
		t.Errorf("env retries = %d, want 2", cfg.Retries)
	}
}

// chdir changes the working directory for the duration of the test,
// equivalent to t.Chdir (which requires Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
