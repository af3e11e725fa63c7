package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "parley"

// DefaultPath returns the config file location: <UserConfigDir>/parley/config.json.
// PARLEY_CONFIG overrides it.
func DefaultPath() (string, error) {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(dir, appName, "config.json"), nil
}

// DefaultDataDir returns the data directory: ~/.parley, or PARLEY_DATA_DIR.
func DefaultDataDir() (string, error) {
	if d := os.Getenv("PARLEY_DATA_DIR"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, "."+appName), nil
}

// ResolveDataDir returns c.DataDir when set, else DefaultDataDir().
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return DefaultDataDir()
}

// LlamaServerExecutable returns the llama-server binary path under dataDir
// unless llamaServerPath overrides it.
func (c *Config) LlamaServerExecutable(dataDir string) string {
	if c.LlamaServerPath != "" {
		return c.LlamaServerPath
	}
	return filepath.Join(dataDir, "llama", "llama-server")
}

// ModelPath returns <dataDir>/models/<llamaModelFile>.
func (c *Config) ModelPath(dataDir string) string {
	return filepath.Join(dataDir, "models", c.LlamaModelFile)
}
