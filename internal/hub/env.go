package hub

import (
	"fmt"
	"strings"
	"time"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/teamfs"
	"github.com/codexteams/codexteams/internal/util"
)

// env binds one scheduler to the session's stores. Store writes go
// through callFS/callBus so the hub's retry budget and lifecycle
// reporting apply uniformly; the standalone loop uses the same env with
// single attempts and no lifecycle sink.
type env struct {
	fs   *teamfs.Store
	bus  *bus.Store
	room string

	fsAttempts  int
	busAttempts int

	// lifecycle receives a line when a store call exhausts its
	// attempts. Nil disables reporting.
	lifecycle func(string)
}

func (e *env) callFS(op string, fn func() error) bool {
	return e.call("fs", e.fsAttempts, op, fn)
}

func (e *env) callBus(op string, fn func() error) bool {
	return e.call("bus", e.busAttempts, op, fn)
}

// call runs fn up to attempts times with a linearly growing delay
// between tries. Persistent failure is reported to the lifecycle log
// and swallowed; coordination traffic is best effort.
func (e *env) call(source string, attempts int, op string, fn func() error) bool {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return true
		}
		if attempt < attempts {
			time.Sleep(CmdRetryBaseDelay * time.Duration(attempt))
		}
	}
	if e.lifecycle != nil {
		e.lifecycle(fmt.Sprintf("%s-cmd-failed attempts=%d op=%s error=%s",
			source, attempts, op, util.TrimText(err.Error(), 500)))
	}
	return false
}

func (e *env) busSend(sender, recipient, kind, body string) bool {
	return e.callBus("send", func() error {
		_, _, err := e.bus.Send(e.room, sender, recipient, kind, body, "")
		return err
	})
}

func (e *env) broadcastStatus(sender, body string) bool {
	return e.busSend(sender, "all", "status", body)
}

func (e *env) register(agent, role string) bool {
	return e.callBus("register", func() error {
		return e.bus.TouchMember(e.room, agent, role, "active")
	})
}

func (e *env) dispatch(cfg *teamfs.TeamConfig, d teamfs.Dispatch) bool {
	return e.callFS("dispatch", func() error {
		_, err := e.fs.Dispatch(cfg, d)
		return err
	})
}

func (e *env) sendIdle(cfg *teamfs.TeamConfig, agent string) bool {
	return e.callFS("send-idle", func() error {
		_, err := e.fs.SendIdle(cfg, agent)
		return err
	})
}

// loadUnread reads the next unread batch for the worker, oldest first,
// without marking anything. The worker's scan cursor advances past the
// rows returned; when the cursor has run past older unread rows (a
// partial ack failure or race) it resyncs to the oldest unread index.
func (e *env) loadUnread(w *workerState, limit int) []teamfs.IndexedMail {
	rows := e.readUnreadAt(w.name, limit, w.scanIndex)
	if len(rows) == 0 && w.scanIndex > 0 {
		oldest := e.readUnreadAt(w.name, 1, 0)
		if len(oldest) > 0 && oldest[0].Index >= 0 && oldest[0].Index < w.scanIndex {
			w.scanIndex = oldest[0].Index
			rows = e.readUnreadAt(w.name, limit, w.scanIndex)
		}
	}
	for _, row := range rows {
		if row.Index+1 > w.scanIndex {
			w.scanIndex = row.Index + 1
		}
	}
	return rows
}

func (e *env) readUnreadAt(agent string, limit, startIndex int) []teamfs.IndexedMail {
	rows, err := e.fs.ReadIndexed(agent, teamfs.ReadOptions{
		UnreadOnly:  true,
		StartIndex:  startIndex,
		Limit:       limit,
		OldestFirst: true,
	})
	if err != nil {
		return nil
	}
	return rows
}

func (e *env) hasUnread(agent string) bool {
	return len(e.readUnreadAt(agent, 1, 0)) > 0
}

func (e *env) signalToken(agent string) int64 {
	token, _ := e.fs.SignalToken(agent)
	return token
}

// markIndexesRead acknowledges the given mailbox indexes. When fewer
// rows get marked than expected the worker's cursor rewinds to zero and
// a forced re-scan is queued, so unacknowledged rows are retried rather
// than skipped.
func (e *env) markIndexesRead(w *workerState, indexes []int) bool {
	if len(indexes) == 0 {
		return true
	}
	unique := teamfs.NormalizeIndexes(indexes)
	if len(unique) == 0 {
		return true
	}
	marked, err := e.fs.MarkRead(w.name, unique, false)
	if err != nil {
		marked = 0
	}
	ok := marked >= len(unique)
	if !ok {
		w.forceMailboxCheck = true
		w.scanIndex = 0
	}
	return ok
}

// memberNames returns the team roster the given agent trusts for
// control authorization: the config snapshot it was handed, the latest
// config on disk, and itself.
func (e *env) memberNames(cfg *teamfs.TeamConfig, self string) map[string]bool {
	names := make(map[string]bool)
	add := func(c *teamfs.TeamConfig) {
		if c == nil {
			return
		}
		for _, m := range c.Members {
			if name := strings.TrimSpace(m.Name); name != "" {
				names[name] = true
			}
		}
	}
	add(cfg)
	if latest, err := e.fs.LoadConfig(); err == nil {
		add(latest)
	}
	if self != "" {
		names[self] = true
	}
	return names
}
