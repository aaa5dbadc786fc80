// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend != BackendMmap {
		t.Errorf("expected backend=mmap, got %s", cfg.Backend)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log.level=info, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected log.format=text, got %s", cfg.Log.Format)
	}
}

func TestLoadRequiresSixfsConfig(t *testing.T) {
	orig := os.Getenv("SIXFS_CONFIG")
	defer os.Setenv("SIXFS_CONFIG", orig)
	os.Unsetenv("SIXFS_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SIXFS_CONFIG not set, got nil")
	}
}

func TestLoadWithSixfsConfig(t *testing.T) {
	orig := os.Getenv("SIXFS_CONFIG")
	defer os.Setenv("SIXFS_CONFIG", orig)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sixfs.yaml")
	content := `
dir: /test/mount
max_size: 10G
backend: file
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	os.Setenv("SIXFS_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dir != "/test/mount" {
		t.Errorf("expected dir=/test/mount, got %s", cfg.Dir)
	}
	if cfg.Backend != BackendFile {
		t.Errorf("expected backend=file, got %s", cfg.Backend)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sixfs.yaml")
	content := `
dir: /custom/mount
max_size: 500M
key_file: /custom/key
punch_holes: true
backend: mem
log:
  level: debug
  format: json
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Dir != "/custom/mount" {
		t.Errorf("expected dir=/custom/mount, got %s", cfg.Dir)
	}
	if cfg.KeyFile != "/custom/key" {
		t.Errorf("expected key_file=/custom/key, got %s", cfg.KeyFile)
	}
	if !cfg.PunchHoles {
		t.Error("expected punch_holes=true")
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("expected backend=mem, got %s", cfg.Backend)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log.level=debug, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log.format=json, got %s", cfg.Log.Format)
	}
}

func TestParsedMaxSize(t *testing.T) {
	cfg := Default()
	cfg.Dir = "/mnt"

	if n, err := cfg.ParsedMaxSize(); err != nil || n != 0 {
		t.Fatalf("empty max_size: got %d, %v, want 0, nil", n, err)
	}

	cfg.MaxSize = "1G"
	n, err := cfg.ParsedMaxSize()
	if err != nil {
		t.Fatalf("ParsedMaxSize: %v", err)
	}
	if n != 1_000_000_000 {
		t.Fatalf("ParsedMaxSize(1G) = %d, want 1000000000", n)
	}

	cfg.MaxSize = "not-a-size"
	if _, err := cfg.ParsedMaxSize(); err == nil {
		t.Fatal("expected error for malformed max_size")
	}
}

func TestLoadKeyRequiresExactSize(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "key")
	if err := os.WriteFile(keyPath, []byte("too short"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.KeyFile = keyPath
	if _, err := cfg.LoadKey(); err == nil {
		t.Fatal("expected error for undersized key file")
	}
}

func TestLoadKeyAbsentWhenUnset(t *testing.T) {
	cfg := Default()
	key, err := cfg.LoadKey()
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if key != nil {
		t.Fatal("expected nil key when key_file is unset")
	}
}

func TestLoadKeyReadsFullBuffer(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "key")
	raw := make([]byte, KeySize)
	for i := range raw {
		raw[i] = byte(i)
	}
	if err := os.WriteFile(keyPath, raw, 0600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.KeyFile = keyPath
	key, err := cfg.LoadKey()
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	defer key.Close()
	if len(key.Bytes()) != KeySize {
		t.Fatalf("key length = %d, want %d", len(key.Bytes()), KeySize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) { c.Dir = "/mnt" },
			wantErr: false,
		},
		{
			name:    "empty dir",
			modify:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "invalid backend",
			modify: func(c *Config) {
				c.Dir = "/mnt"
				c.Backend = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Dir = "/mnt"
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.Dir = filepath.Join(tmpDir, "sixfs-mount")

	if err := cfg.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		t.Fatalf("dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("%s is not a directory", cfg.Dir)
	}
}

func TestExpandVarsInDir(t *testing.T) {
	orig := os.Getenv("SIXFS_TEST_HOME")
	defer os.Setenv("SIXFS_TEST_HOME", orig)
	os.Setenv("SIXFS_TEST_HOME", "/home/tester")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sixfs.yaml")
	content := "dir: ${SIXFS_TEST_HOME}/mount\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Dir != "/home/tester/mount" {
		t.Errorf("Dir = %q, want /home/tester/mount", cfg.Dir)
	}
}

func TestExpandVarsFallsBackToDefault(t *testing.T) {
	orig := os.Getenv("SIXFS_MISSING_VAR")
	defer os.Setenv("SIXFS_MISSING_VAR", orig)
	os.Unsetenv("SIXFS_MISSING_VAR")

	got := expandVars("${SIXFS_MISSING_VAR:-/fallback}/data")
	if got != "/fallback/data" {
		t.Errorf("expandVars = %q, want /fallback/data", got)
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Errorf("SlogLevel() = %v, want DEBUG", cfg.SlogLevel())
	}
	cfg.Log.Level = "unknown"
	if cfg.SlogLevel().String() != "INFO" {
		t.Errorf("SlogLevel() for unknown = %v, want INFO", cfg.SlogLevel())
	}
}
