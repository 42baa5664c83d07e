package store

import (
	"path/filepath"

	"codeberg.org/mutker/roamctl/internal/errors"
)

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "roamctl.db"
	backupSubdir   = "backups"
)

// Config configures the SQLite sink.
type Config struct {
	Path    string
	Enabled bool
}

func DefaultConfig() Config {
	return Config{
		Path:    defaultDBPath,
		Enabled: false,
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.Path == "" {
		return errors.New().New(ErrInvalidPath)
	}
	return nil
}

func (c Config) backupDir() string {
	return filepath.Join(filepath.Dir(c.Path), backupSubdir)
}

func (c Config) lockPath() string {
	return c.Path + ".pid"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
