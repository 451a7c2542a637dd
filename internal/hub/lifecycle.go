package hub

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/codexteams/codexteams/internal/util"
)

// appendLifecycle appends one timestamped line to the hub's lifecycle
// log and fsyncs it. An empty path disables logging; write failures are
// swallowed so diagnostics never take the scheduler down.
func appendLifecycle(path, message string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s %s\n", util.UTCTimestamp(), message); err != nil {
		return
	}
	_ = f.Sync()
}

// heartbeat is the liveness snapshot the hub rewrites for external
// monitors.
type heartbeat struct {
	TS            string `json:"ts"`
	PID           int    `json:"pid"`
	Session       string `json:"session"`
	Room          string `json:"room"`
	ActiveWorkers int    `json:"active_workers"`
	TotalWorkers  int    `json:"total_workers"`
	Stop          bool   `json:"stop"`
}

// writeHeartbeat replaces the heartbeat file atomically. An empty path
// disables it; failures are swallowed.
func writeHeartbeat(path string, hb heartbeat) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = util.AtomicWriteJSON(path, hb)
}
