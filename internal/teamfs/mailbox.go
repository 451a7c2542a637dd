package teamfs

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/codexteams/codexteams/internal/util"
)

// MailMessage is one mailbox entry. The JSON field names are the
// on-disk contract; optional fields are omitted when unset so payloads
// round-trip byte-stable across tools.
type MailMessage struct {
	Type      string                 `json:"type"`
	From      string                 `json:"from"`
	Recipient string                 `json:"recipient,omitempty"`
	Text      string                 `json:"text"`
	Summary   string                 `json:"summary"`
	Timestamp string                 `json:"timestamp"`
	Color     string                 `json:"color"`
	Read      bool                   `json:"read"`
	RequestID string                 `json:"request_id,omitempty"`
	Approve   *bool                  `json:"approve,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// MetaString returns a string field from the message meta, or "".
func (m MailMessage) MetaString(key string) string {
	if m.Meta == nil {
		return ""
	}
	if v, ok := m.Meta[key].(string); ok {
		return v
	}
	return ""
}

// Mailbox is the on-disk shape of one agent's inbox file.
type Mailbox struct {
	Agent    string        `json:"agent"`
	Messages []MailMessage `json:"messages"`
}

// IndexedMail pairs a mailbox array index with its message. The index
// is the acknowledgement handle: consumers mark indexes read only after
// the work they drove has completed.
type IndexedMail struct {
	Index   int         `json:"index"`
	Message MailMessage `json:"message"`
}

// EnsureInbox creates an empty inbox file for the agent if none exists.
func (s *Store) EnsureInbox(agent string) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	path := s.paths.Inbox(agent)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := util.AtomicWriteJSON(path, &Mailbox{Agent: agent, Messages: []MailMessage{}}); err != nil {
		return fmt.Errorf("creating inbox for %s: %w", agent, err)
	}
	return nil
}

// loadMailbox reads an agent's inbox without locking. Mailboxes are
// replaced atomically, so lockless readers see a complete old or new
// file.
func (s *Store) loadMailbox(agent string) Mailbox {
	box := loadJSON(s.paths.Inbox(agent), Mailbox{Agent: agent})
	if box.Agent == "" {
		box.Agent = agent
	}
	return box
}

// updateMailbox runs a read-modify-write cycle on an agent's inbox
// under its exclusive sidecar lock.
func (s *Store) updateMailbox(agent string, fn func(*Mailbox) error) error {
	if err := s.EnsureInbox(agent); err != nil {
		return err
	}
	return s.withMailboxLock(agent, func() error {
		box := s.loadMailbox(agent)
		if err := fn(&box); err != nil {
			return err
		}
		if err := util.AtomicWriteJSON(s.paths.Inbox(agent), &box); err != nil {
			return fmt.Errorf("writing inbox for %s: %w", agent, err)
		}
		return nil
	})
}

// AppendMail appends one message to an agent's inbox and returns its
// index. An empty timestamp is filled with the current time; Read is
// stored as given (callers deliver unread messages).
func (s *Store) AppendMail(agent string, msg MailMessage) (int, error) {
	if msg.Timestamp == "" {
		msg.Timestamp = util.UTCTimestampMillis()
	}
	index := -1
	err := s.updateMailbox(agent, func(box *Mailbox) error {
		box.Messages = append(box.Messages, msg)
		index = len(box.Messages) - 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// ReadMailbox returns every message in an agent's inbox in append
// order. A missing inbox reads as empty.
func (s *Store) ReadMailbox(agent string) ([]MailMessage, error) {
	return s.loadMailbox(agent).Messages, nil
}

// ReadOptions selects mailbox rows for ReadIndexed.
type ReadOptions struct {
	// UnreadOnly filters to messages not yet marked read.
	UnreadOnly bool

	// StartIndex skips rows below this array index; consumers use it
	// as their scan cursor.
	StartIndex int

	// Limit caps the result. Zero or negative means no cap.
	Limit int

	// OldestFirst keeps the first Limit rows of the selection; when
	// false the last Limit rows are kept (the newest window). Results
	// are in ascending index order either way.
	OldestFirst bool

	// MarkRead marks the selected rows read in the same locked cycle.
	MarkRead bool
}

// ReadIndexed returns (index, message) pairs selected by opts, in
// ascending index order.
func (s *Store) ReadIndexed(agent string, opts ReadOptions) ([]IndexedMail, error) {
	selectRows := func(box *Mailbox) []IndexedMail {
		var rows []IndexedMail
		for idx, msg := range box.Messages {
			if idx < opts.StartIndex {
				continue
			}
			if opts.UnreadOnly && msg.Read {
				continue
			}
			rows = append(rows, IndexedMail{Index: idx, Message: msg})
		}
		if opts.Limit > 0 && len(rows) > opts.Limit {
			if opts.OldestFirst {
				rows = rows[:opts.Limit]
			} else {
				rows = rows[len(rows)-opts.Limit:]
			}
		}
		return rows
	}

	if !opts.MarkRead {
		box := s.loadMailbox(agent)
		return selectRows(&box), nil
	}

	var rows []IndexedMail
	err := s.updateMailbox(agent, func(box *Mailbox) error {
		rows = selectRows(box)
		for _, r := range rows {
			box.Messages[r.Index].Read = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UnreadIndexed returns every unread (index, message) pair in append
// order.
func (s *Store) UnreadIndexed(agent string) ([]IndexedMail, error) {
	return s.ReadIndexed(agent, ReadOptions{UnreadOnly: true})
}

// MarkRead transitions the given indexes (or every message, when all is
// set) from unread to read and returns how many rows changed.
// Already-read rows are untouched, which makes the call idempotent.
func (s *Store) MarkRead(agent string, indexes []int, all bool) (int, error) {
	wanted := make(map[int]bool, len(indexes))
	for _, idx := range indexes {
		wanted[idx] = true
	}
	changed := 0
	err := s.updateMailbox(agent, func(box *Mailbox) error {
		for idx := range box.Messages {
			if !all && !wanted[idx] {
				continue
			}
			if !box.Messages[idx].Read {
				box.Messages[idx].Read = true
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// SignalToken returns an opaque change token for one agent's mailbox:
// the message count shifted past the unread count, so every append and
// every effective mark-read moves it. Pollers skip scans while the
// token is stable and re-scan on any change; they must not interpret
// the value.
func (s *Store) SignalToken(agent string) (int64, error) {
	box := s.loadMailbox(agent)
	var unread int64
	for _, m := range box.Messages {
		if !m.Read {
			unread++
		}
	}
	return int64(len(box.Messages))<<20 | (unread & (1<<20 - 1)), nil
}

// FormatMail renders messages as teammate-message lines for prompt
// injection.
func FormatMail(msgs []MailMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf(
			`<teammate-message teammate_id="%s" color="%s" summary="%s">%s</teammate-message>`,
			m.From, m.Color, m.Summary, m.Text))
	}
	return strings.Join(lines, "\n")
}

// NormalizeIndexes returns a sorted copy of the unique non-negative
// indexes. Acknowledgement paths normalize their index sets through
// this before marking, so the marked count can be compared against the
// expected count.
func NormalizeIndexes(indexes []int) []int {
	seen := make(map[int]bool, len(indexes))
	var out []int
	for _, idx := range indexes {
		if idx < 0 || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
