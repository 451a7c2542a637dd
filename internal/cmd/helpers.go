package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/teamfs"
	"github.com/codexteams/codexteams/internal/util"
)

// openBus opens the room-log database addressed by the bus flags:
// --db wins, then <repo>/.codex-teams/<session>/bus.sqlite, then the
// repo-relative default path.
func openBus() (*bus.Store, error) {
	path := busDB
	if path == "" {
		if busSession != "" {
			path = teamfs.NewPaths(busRepo, busSession).BusDB()
		} else {
			path = filepath.Join(busRepo, bus.DefaultDBPath)
		}
	}
	store, err := bus.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bus: %w", err)
	}
	return store, nil
}

// sendWithRetry runs a room-log write under the transient-error
// classifier. The log is shared with a running hub or bridge, so a
// briefly locked database is expected and clears within the backoff;
// schema and validation errors surface immediately.
func sendWithRetry(send func() (int64, int64, error)) (int64, int64, error) {
	type delivery struct {
		id     int64
		fanout int64
	}
	d, err := util.RetrySimple(func() (delivery, error) {
		id, fanout, err := send()
		return delivery{id: id, fanout: fanout}, err
	})
	return d.id, d.fanout, err
}

// fsStore returns the session file-store handle for the fs flags.
func fsStore() (*teamfs.Store, error) {
	if strings.TrimSpace(fsSession) == "" {
		return nil, fmt.Errorf("--session is required")
	}
	return teamfs.New(fsRepo, fsSession), nil
}

// fsConfig loads the team config for commands that need the roster.
func fsConfig(store *teamfs.Store) (*teamfs.TeamConfig, error) {
	cfg, err := store.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading team config: %w", err)
	}
	return cfg, nil
}

// printJSON writes v to stdout as 2-space indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMetaJSON validates an optional --meta value. Empty means an
// empty object; anything else must be a JSON object.
func parseMetaJSON(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "{}", nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", fmt.Errorf("--meta must be a JSON object: %w", err)
	}
	return raw, nil
}

// decodeMeta turns an optional --meta value into the map shape the
// mailbox store carries.
func decodeMeta(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("--meta must be a JSON object: %w", err)
	}
	return obj, nil
}

// stdoutIsTTY reports whether stdout is an interactive terminal.
func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// exactlyOne enforces mutually exclusive boolean flags.
func exactlyOne(name1 string, v1 bool, name2 string, v2 bool) error {
	if v1 == v2 {
		return fmt.Errorf("exactly one of --%s or --%s is required", name1, name2)
	}
	return nil
}
