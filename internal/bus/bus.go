// Package bus implements the durable room log: an append-only message
// table, per-recipient mailbox rows, member presence, and the
// control-request lifecycle, all in one WAL-mode SQLite database shared
// by every process in a session.
package bus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/codexteams/codexteams/internal/util"
)

const (
	// DefaultDBPath is where the bus lives when no explicit path is given.
	DefaultDBPath = ".codex-teams/bus.sqlite"

	// DefaultRoom is the room used when none is named.
	DefaultRoom = "main"
)

// Message is one room-log row. Messages are append-only; a row is never
// mutated after insert.
type Message struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Room      string `json:"room"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	MetaJSON  string `json:"-"`
}

// Meta decodes the message's meta JSON. Malformed or empty meta decodes
// to an empty object.
func (m Message) Meta() map[string]interface{} {
	out := map[string]interface{}{}
	if m.MetaJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(m.MetaJSON), &out)
	return out
}

// MailItem is a per-recipient envelope joined with its message.
type MailItem struct {
	MailboxID int64   `json:"mailbox_id"`
	State     string  `json:"state"`
	CreatedTS string  `json:"created_ts"`
	ReadTS    *string `json:"read_ts"`
	MessageID int64   `json:"message_id"`
	TS        string  `json:"ts"`
	Kind      string  `json:"kind"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Body      string  `json:"body"`
	MetaJSON  string  `json:"-"`
}

// Meta decodes the item's meta JSON the same way Message.Meta does.
func (it MailItem) Meta() map[string]interface{} {
	out := map[string]interface{}{}
	if it.MetaJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(it.MetaJSON), &out)
	return out
}

// Member is one (room, agent) presence row.
type Member struct {
	Room       string `json:"room"`
	Agent      string `json:"agent"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	JoinedTS   string `json:"joined_ts"`
	LastSeenTS string `json:"last_seen_ts"`
}

// Store is a handle on one bus database. It is safe for use from a
// single process; cross-process writers are serialized by SQLite's WAL
// locking.
type Store struct {
	db   *sql.DB
	path string
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the row helpers can
// run inside or outside a transaction.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Open opens (creating if needed) the bus database at path and ensures
// the schema exists. An empty path uses DefaultDBPath.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating bus directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening bus database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// session pragmas in effect for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		room TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		meta_json TEXT NOT NULL DEFAULT '{}'
	);`,
	`CREATE TABLE IF NOT EXISTS members (
		room TEXT NOT NULL,
		agent TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		status TEXT NOT NULL DEFAULT 'active',
		joined_ts TEXT NOT NULL,
		last_seen_ts TEXT NOT NULL,
		PRIMARY KEY (room, agent)
	);`,
	`CREATE TABLE IF NOT EXISTS mailbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		room TEXT NOT NULL,
		recipient TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'unread',
		created_ts TEXT NOT NULL,
		read_ts TEXT,
		FOREIGN KEY(message_id) REFERENCES messages(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS control_requests (
		request_id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		req_type TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body TEXT NOT NULL,
		status TEXT NOT NULL,
		created_ts TEXT NOT NULL,
		updated_ts TEXT NOT NULL,
		response_body TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room, id);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, id);`,
	`CREATE INDEX IF NOT EXISTS idx_members_room_role ON members(room, role, status);`,
	`CREATE INDEX IF NOT EXISTS idx_mailbox_room_recipient_state ON mailbox(room, recipient, state, id);`,
	`CREATE INDEX IF NOT EXISTS idx_control_requests_room_recipient_status ON control_requests(room, recipient, status, created_ts);`,
}

func (s *Store) ensureSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensuring bus schema: %w", err)
		}
	}
	return nil
}

// TouchMember upserts a member row. A default role ("member") or status
// ("active") never overwrites an existing non-default value; last_seen
// always advances.
func (s *Store) TouchMember(room, agent, role, status string) error {
	return touchMember(s.db, room, agent, role, status)
}

func touchMember(q dbtx, room, agent, role, status string) error {
	if role == "" {
		role = "member"
	}
	if status == "" {
		status = "active"
	}
	now := util.UTCTimestamp()
	_, err := q.Exec(`
		INSERT INTO members(room, agent, role, status, joined_ts, last_seen_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room, agent)
		DO UPDATE SET
			role=CASE WHEN excluded.role='member' THEN members.role ELSE excluded.role END,
			status=CASE WHEN excluded.status='active' THEN members.status ELSE excluded.status END,
			last_seen_ts=excluded.last_seen_ts`,
		room, agent, role, status, now, now)
	if err != nil {
		return fmt.Errorf("touching member %s: %w", agent, err)
	}
	return nil
}

// resolveRecipients expands "all" to every active member except the
// sender, in ascending agent order. Fan-out order is part of the
// contract: mailbox rows for one broadcast are appended in this order.
func resolveRecipients(q dbtx, room, sender, recipient string) ([]string, error) {
	if recipient != "all" {
		return []string{recipient}, nil
	}
	rows, err := q.Query(`
		SELECT agent FROM members
		WHERE room=? AND status='active' AND agent<>?
		ORDER BY agent ASC`,
		room, sender)
	if err != nil {
		return nil, fmt.Errorf("resolving recipients: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var agent string
		if err := rows.Scan(&agent); err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func insertMessage(q dbtx, room, sender, recipient, kind, body, metaJSON string) (int64, error) {
	if metaJSON == "" {
		metaJSON = "{}"
	}
	res, err := q.Exec(`
		INSERT INTO messages (ts, room, sender, recipient, kind, body, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		util.UTCTimestamp(), room, sender, recipient, kind, body, metaJSON)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	return res.LastInsertId()
}

func addMailboxEntries(q dbtx, room string, messageID int64, recipients []string) (int, error) {
	now := util.UTCTimestamp()
	for _, rcpt := range recipients {
		_, err := q.Exec(`
			INSERT INTO mailbox(message_id, room, recipient, state, created_ts, read_ts)
			VALUES (?, ?, ?, 'unread', ?, NULL)`,
			messageID, room, rcpt, now)
		if err != nil {
			return 0, fmt.Errorf("inserting mailbox entry for %s: %w", rcpt, err)
		}
	}
	return len(recipients), nil
}

// sendTx performs the full send inside an existing transaction: member
// touches, the message append, and the mailbox fan-out.
func sendTx(tx dbtx, room, sender, recipient, kind, body, metaJSON string) (int64, int, error) {
	if err := touchMember(tx, room, sender, "", ""); err != nil {
		return 0, 0, err
	}
	if recipient != "all" {
		if err := touchMember(tx, room, recipient, "", ""); err != nil {
			return 0, 0, err
		}
	}

	msgID, err := insertMessage(tx, room, sender, recipient, kind, body, metaJSON)
	if err != nil {
		return 0, 0, err
	}

	recipients, err := resolveRecipients(tx, room, sender, recipient)
	if err != nil {
		return 0, 0, err
	}
	fanout, err := addMailboxEntries(tx, room, msgID, recipients)
	if err != nil {
		return 0, 0, err
	}
	return msgID, fanout, nil
}

// Send appends a message and its mailbox fan-out in one transaction.
// It returns the new message id and the number of mailbox rows created.
// On error nothing is persisted.
func (s *Store) Send(room, sender, recipient, kind, body, metaJSON string) (int64, int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("beginning send: %w", err)
	}
	msgID, fanout, err := sendTx(tx, room, sender, recipient, kind, body, metaJSON)
	if err != nil {
		tx.Rollback()
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing send: %w", err)
	}
	return msgID, fanout, nil
}

// FetchMessages returns messages with id strictly greater than sinceID,
// ascending, capped at limit. When includeAll is false the result is
// filtered to rows visible to viewer: broadcasts, messages addressed to
// the viewer, and the viewer's own sends.
func (s *Store) FetchMessages(room string, sinceID int64, viewer string, includeAll bool, limit int) ([]Message, error) {
	query := `
		SELECT id, ts, room, sender, recipient, kind, body, meta_json
		FROM messages
		WHERE room=? AND id>?`
	args := []interface{}{room, sinceID}
	if !includeAll {
		query += ` AND (recipient='all' OR recipient=? OR sender=?)`
		args = append(args, viewer, viewer)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TS, &m.Room, &m.Sender, &m.Recipient, &m.Kind, &m.Body, &m.MetaJSON); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FetchInbox returns mailbox rows joined with their messages for one
// recipient, ordered by mailbox id ascending.
func (s *Store) FetchInbox(room, agent string, unreadOnly bool, sinceMailboxID int64, limit int) ([]MailItem, error) {
	query := `
		SELECT mb.id, mb.state, mb.created_ts, mb.read_ts,
		       m.id, m.ts, m.kind, m.sender, m.recipient, m.body, m.meta_json
		FROM mailbox mb
		JOIN messages m ON m.id=mb.message_id
		WHERE mb.room=? AND mb.recipient=? AND mb.id>?`
	args := []interface{}{room, agent, sinceMailboxID}
	if unreadOnly {
		query += ` AND mb.state='unread'`
	}
	query += ` ORDER BY mb.id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching inbox: %w", err)
	}
	defer rows.Close()

	var out []MailItem
	for rows.Next() {
		var it MailItem
		var readTS sql.NullString
		if err := rows.Scan(&it.MailboxID, &it.State, &it.CreatedTS, &readTS,
			&it.MessageID, &it.TS, &it.Kind, &it.Sender, &it.Recipient, &it.Body, &it.MetaJSON); err != nil {
			return nil, err
		}
		if readTS.Valid {
			it.ReadTS = &readTS.String
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkReadIDs transitions the named mailbox rows from unread to read and
// returns how many rows changed. Already-read rows are untouched, which
// makes the call idempotent.
func (s *Store) MarkReadIDs(room, agent string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := ""
	args := []interface{}{util.UTCTimestamp(), room, agent}
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	res, err := s.db.Exec(`
		UPDATE mailbox SET state='read', read_ts=?
		WHERE room=? AND recipient=? AND state='unread' AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("marking read: %w", err)
	}
	return res.RowsAffected()
}

// MarkReadUpTo marks every unread row with id <= upTo.
func (s *Store) MarkReadUpTo(room, agent string, upTo int64) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE mailbox SET state='read', read_ts=?
		WHERE room=? AND recipient=? AND state='unread' AND id<=?`,
		util.UTCTimestamp(), room, agent, upTo)
	if err != nil {
		return 0, fmt.Errorf("marking read up to %d: %w", upTo, err)
	}
	return res.RowsAffected()
}

// MarkReadAll marks every unread row for the agent.
func (s *Store) MarkReadAll(room, agent string) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE mailbox SET state='read', read_ts=?
		WHERE room=? AND recipient=? AND state='unread'`,
		util.UTCTimestamp(), room, agent)
	if err != nil {
		return 0, fmt.Errorf("marking all read: %w", err)
	}
	return res.RowsAffected()
}

// SignalToken returns an opaque change token for one agent's mailbox:
// the maximum mailbox row id shifted past the unread count. Appending a
// row or marking one read always moves the token, so pollers can skip
// scans while it is stable.
func (s *Store) SignalToken(room, agent string) (int64, error) {
	var maxID, unread int64
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(id), 0),
		       COALESCE(SUM(CASE WHEN state='unread' THEN 1 ELSE 0 END), 0)
		FROM mailbox WHERE room=? AND recipient=?`,
		room, agent).Scan(&maxID, &unread)
	if err != nil {
		return 0, fmt.Errorf("computing signal token: %w", err)
	}
	return maxID<<20 | (unread & (1<<20 - 1)), nil
}

// Members lists a room's members in ascending agent order.
func (s *Store) Members(room string) ([]Member, error) {
	rows, err := s.db.Query(`
		SELECT room, agent, role, status, joined_ts, last_seen_ts
		FROM members WHERE room=? ORDER BY agent ASC`,
		room)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Room, &m.Agent, &m.Role, &m.Status, &m.JoinedTS, &m.LastSeenTS); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ActiveMembers lists the names of a room's active members in ascending
// order.
func (s *Store) ActiveMembers(room string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT agent FROM members
		WHERE room=? AND status='active'
		ORDER BY agent ASC`,
		room)
	if err != nil {
		return nil, fmt.Errorf("listing active members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var agent string
		if err := rows.Scan(&agent); err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

// UnreadCounts returns the per-recipient unread mailbox counts for a room.
func (s *Store) UnreadCounts(room string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT recipient, COUNT(*) FROM mailbox
		WHERE room=? AND state='unread'
		GROUP BY recipient`,
		room)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var recipient string
		var n int
		if err := rows.Scan(&recipient, &n); err != nil {
			return nil, err
		}
		out[recipient] = n
	}
	return out, rows.Err()
}

// CountPair is an ordered (name, count) aggregation row.
type CountPair struct {
	Name  string
	Count int
}

// Stats summarizes a room for the status command.
type Stats struct {
	TotalMessages   int64
	LastID          int64
	RecipientCounts []CountPair
	UnreadCounts    []CountPair
	Members         []Member
	PendingControl  []CountPair
}

// Stats gathers the status snapshot for one room.
func (s *Store) Stats(room string) (*Stats, error) {
	st := &Stats{}
	if err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(MAX(id), 0) FROM messages WHERE room=?`, room,
	).Scan(&st.TotalMessages, &st.LastID); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	collect := func(query string) ([]CountPair, error) {
		rows, err := s.db.Query(query, room)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []CountPair
		for rows.Next() {
			var p CountPair
			if err := rows.Scan(&p.Name, &p.Count); err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, rows.Err()
	}

	var err error
	st.RecipientCounts, err = collect(`
		SELECT recipient, COUNT(*) AS n FROM messages
		WHERE room=? GROUP BY recipient ORDER BY n DESC, recipient ASC`)
	if err != nil {
		return nil, fmt.Errorf("counting recipients: %w", err)
	}
	st.UnreadCounts, err = collect(`
		SELECT recipient, COUNT(*) AS n FROM mailbox
		WHERE room=? AND state='unread' GROUP BY recipient ORDER BY n DESC, recipient ASC`)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}
	st.Members, err = s.Members(room)
	if err != nil {
		return nil, err
	}
	st.PendingControl, err = collect(`
		SELECT recipient, COUNT(*) AS n FROM control_requests
		WHERE room=? AND status='pending' GROUP BY recipient ORDER BY n DESC, recipient ASC`)
	if err != nil {
		return nil, fmt.Errorf("counting pending requests: %w", err)
	}
	return st, nil
}

// RenderMessage formats a room-log row for terminal output.
func RenderMessage(m Message) string {
	return fmt.Sprintf("[%06d] %s [%s] %s %s -> %s: %s",
		m.ID, m.TS, m.Room, m.Kind, m.Sender, m.Recipient, m.Body)
}

// RenderMailItem formats an inbox row for terminal output.
func RenderMailItem(it MailItem) string {
	return fmt.Sprintf("[mb:%06d msg:%06d] %s %s %s %s -> %s: %s",
		it.MailboxID, it.MessageID, it.State, it.TS, it.Kind, it.Sender, it.Recipient, it.Body)
}
