// Package config loads optional per-repo tool defaults from
// .codex-teams/config.toml. Flags always win over file values, and the
// file is allowed to be absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the defaults file path relative to the repo root.
const FileName = ".codex-teams/config.toml"

// Config holds tool defaults shared by the hub, agent, bridge, and
// monitor commands. Zero values mean "not set in the file".
type Config struct {
	// CodexBin is the codex executable to spawn for agent runs.
	CodexBin string `toml:"codex_bin"`

	// Room is the default message bus room.
	Room string `toml:"room"`

	// PollMs is the mailbox poll cadence in milliseconds.
	PollMs int `toml:"poll_ms"`

	// IdleMs is the idle notification threshold in milliseconds.
	IdleMs int `toml:"idle_ms"`

	// PermissionMode is the default codex permission mode.
	PermissionMode string `toml:"permission_mode"`
}

// Load reads the defaults file under repoRoot. Returns nil with no error
// if the file doesn't exist.
func Load(repoRoot string) (*Config, error) {
	path := filepath.Join(repoRoot, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes the defaults file under repoRoot, creating the directory
// if needed.
func Save(repoRoot string, cfg *Config) error {
	path := filepath.Join(repoRoot, FileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
