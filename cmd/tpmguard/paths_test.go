package main

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfigBody = "server:\n  listen: 127.0.0.1:8788\n"

func TestFindConfigIn(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, defaultConfigFile)
	if err := os.WriteFile(configPath, []byte(testConfigBody), 0o600); err != nil {
		t.Fatal(err)
	}

	if found := findConfigIn(tmpDir); found != configPath {
		t.Errorf("Expected config in tmpDir, got %q", found)
	}
}

func TestFindConfigInNotFound(t *testing.T) {
	t.Parallel()

	if found := findConfigIn(t.TempDir()); found != defaultConfigFile {
		t.Errorf("Expected %q default, got %q", defaultConfigFile, found)
	}
}

func TestFindConfigInWithHome(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	workDir := t.TempDir()

	configDir := filepath.Join(home, ".config", configDirName)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(configDir, defaultConfigFile)
	if err := os.WriteFile(configPath, []byte(testConfigBody), 0o600); err != nil {
		t.Fatal(err)
	}

	if found := findConfigInWithHome(workDir, home); found != configPath {
		t.Errorf("Expected %q, got %q", configPath, found)
	}
}

func TestFindConfigInPrefersWorkDir(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	workDir := t.TempDir()

	for _, dir := range []string{workDir, filepath.Join(home, ".config", configDirName)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, defaultConfigFile), []byte(testConfigBody), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	want := filepath.Join(workDir, defaultConfigFile)
	if found := findConfigInWithHome(workDir, home); found != want {
		t.Errorf("Expected %q, got %q", want, found)
	}
}

func TestConfigPathUsesFlag(t *testing.T) {
	orig := cfgFile
	t.Cleanup(func() { cfgFile = orig })

	cfgFile = "/etc/tpmguard/custom.toml"
	if got := configPath(); got != cfgFile {
		t.Errorf("configPath() = %q, want %q", got, cfgFile)
	}
}
