package main

import (
	"os"
	"path/filepath"
)

// configPath returns --config when set, otherwise the first config file found in
// the default locations.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return findConfigFile()
}

// findConfigFile searches the working directory, then ~/.config/tpmguard/.
func findConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return findConfigInWithHome(".", home)
}

// findConfigIn looks for the config file in dir only.
func findConfigIn(dir string) string {
	return findConfigInWithHome(dir, "")
}

// findConfigInWithHome looks in dir, then in home/.config/tpmguard/.
// It falls back to the bare default name so the caller reports a useful error.
func findConfigInWithHome(dir, home string) string {
	p := filepath.Join(dir, defaultConfigFile)
	if _, err := os.Stat(p); err == nil {
		if dir == "." {
			return defaultConfigFile
		}
		return p
	}

	if home != "" {
		p := defaultConfigPath(home)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return defaultConfigFile
}

// defaultConfigPath is where config init writes when no output is given.
func defaultConfigPath(home string) string {
	return filepath.Join(home, ".config", configDirName, defaultConfigFile)
}
