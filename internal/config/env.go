package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the remote API base URL, in priority order.
var baseURLEnv = []string{"LEADBOARD_API_BASE_URL", "API_BASE_URL"}

// LoadEnv reads <workspace>/.env into the process environment. Variables already set win.
func LoadEnv(workspace string) error {
	if workspace == "" {
		workspace = "."
	}
	err := godotenv.Load(filepath.Join(workspace, ".env"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides the base URL from the environment and revalidates.
func (c *Config) ApplyEnv() error {
	for _, key := range baseURLEnv {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			c.API.BaseURL = v
			break
		}
	}
	return c.Validate()
}
