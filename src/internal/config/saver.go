// FILE: srpauth/src/internal/config/saver.go
package config

import (
	"fmt"
	"os"
	"path/filepath"

	lconfig "github.com/lixenwraith/config"
)

// SaveToFile validates the configuration and writes it as TOML. The file may
// carry test user passwords and Redis credentials, so it is owner-only.
func (c *Config) SaveToFile(path string) error {
	if path == "" {
		return fmt.Errorf("cannot save srpauth config: path is empty")
	}
	if c.Logging == nil {
		c.Logging = DefaultLogConfig()
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid srpauth config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", dir, err)
		}
	}

	lcfg, err := lconfig.NewBuilder().
		WithFile(path).
		WithTarget(c).
		WithFileFormat("toml").
		Build()
	if err != nil {
		return fmt.Errorf("failed to prepare srpauth config: %w", err)
	}
	if err := lcfg.Save(path); err != nil {
		return fmt.Errorf("failed to write srpauth config %s: %w", path, err)
	}

	return os.Chmod(path, 0600)
}
