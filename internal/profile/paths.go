package profile

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Key identifies a client profile: one server endpoint plus one user.
// All on-disk state (cache db, logs) is scoped to a key so that two
// accounts or two servers never share snapshots.
type Key struct {
	ServerURL string
	UserID    int64
}

// Name returns a filesystem-safe directory name for the key.
func (k Key) Name() string {
	host := k.ServerURL
	if u, err := url.Parse(k.ServerURL); err == nil && u.Host != "" {
		host = u.Host
	}
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, host)
	return fmt.Sprintf("%s_u%d", sanitized, k.UserID)
}

// BaseDir returns ~/.marketchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".marketchat")
}

// Dir returns the profile-specific directory.
func Dir(k Key) string {
	return filepath.Join(BaseDir(), "profiles", k.Name())
}

// CacheDBPath returns the snapshot cache database path for a profile.
func CacheDBPath(k Key) string {
	return filepath.Join(Dir(k), "cache.db")
}

// LogDir returns the log directory for a profile.
func LogDir(k Key) string {
	return filepath.Join(Dir(k), "logs")
}

// LogPath returns the client log file path.
func LogPath(k Key) string {
	return filepath.Join(LogDir(k), "marketchatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(k Key) error {
	dirs := []string{
		Dir(k),
		LogDir(k),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
