package bus

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codexteams/codexteams/internal/util"
)

// ControlTypes are the request kinds that participate in the control
// lifecycle. Each produces a paired "<type>_request" message on create
// and a "<type>_response" message on resolve.
var ControlTypes = []string{"plan_approval", "shutdown", "permission", "mode_set"}

// IsControlType reports whether t names a known control request type.
func IsControlType(t string) bool {
	for _, known := range ControlTypes {
		if t == known {
			return true
		}
	}
	return false
}

// NormalizeControlType strips a _request/_response suffix and validates
// the remainder against ControlTypes.
func NormalizeControlType(raw string) (string, error) {
	t := strings.TrimSpace(raw)
	t = strings.TrimSuffix(t, "_request")
	t = strings.TrimSuffix(t, "_response")
	if !IsControlType(t) {
		return "", fmt.Errorf("unsupported control type: %s", raw)
	}
	return t, nil
}

// ControlRequest is one row of the control lifecycle table. Status moves
// pending -> approved|rejected exactly once.
type ControlRequest struct {
	RequestID    string `json:"request_id"`
	Room         string `json:"room"`
	ReqType      string `json:"req_type"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Body         string `json:"body"`
	Status       string `json:"status"`
	CreatedTS    string `json:"created_ts"`
	UpdatedTS    string `json:"updated_ts"`
	ResponseBody string `json:"response_body"`
}

// NewRequestID returns a fresh 12-hex-char request id.
func NewRequestID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:12]
}

// CreateControlRequest records a pending request and sends the paired
// "<type>_request" message to the recipient in the same transaction.
// An empty requestID gets a generated one; the chosen id is returned.
func (s *Store) CreateControlRequest(room, reqType, sender, recipient, body, summary, requestID string) (string, error) {
	reqType = strings.TrimSpace(reqType)
	if !IsControlType(reqType) {
		return "", fmt.Errorf("unsupported control type: %s", reqType)
	}
	rid := strings.TrimSpace(requestID)
	if rid == "" {
		rid = NewRequestID()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning control request: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM control_requests WHERE request_id=?`, rid).Scan(&exists)
	switch {
	case err == nil:
		return "", fmt.Errorf("request already exists: %s", rid)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("checking control request: %w", err)
	}

	now := util.UTCTimestamp()
	if _, err := tx.Exec(`
		INSERT INTO control_requests
			(request_id, room, req_type, sender, recipient, body, status, created_ts, updated_ts, response_body)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, '')`,
		rid, room, reqType, sender, recipient, body, now, now); err != nil {
		return "", fmt.Errorf("inserting control request: %w", err)
	}

	meta, err := json.Marshal(map[string]interface{}{
		"request_id": rid,
		"req_type":   reqType,
		"summary":    summary,
		"state":      "pending",
	})
	if err != nil {
		return "", fmt.Errorf("encoding control meta: %w", err)
	}
	if _, _, err := sendTx(tx, room, sender, recipient, reqType+"_request", body, string(meta)); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing control request: %w", err)
	}
	return rid, nil
}

// GetControlRequest returns the stored request, or nil when no request
// has that id.
func (s *Store) GetControlRequest(requestID string) (*ControlRequest, error) {
	var req ControlRequest
	err := s.db.QueryRow(`
		SELECT request_id, room, req_type, sender, recipient, body, status,
		       created_ts, updated_ts, response_body
		FROM control_requests WHERE request_id=?`,
		requestID).Scan(
		&req.RequestID, &req.Room, &req.ReqType, &req.Sender, &req.Recipient,
		&req.Body, &req.Status, &req.CreatedTS, &req.UpdatedTS, &req.ResponseBody)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading control request: %w", err)
	}
	return &req, nil
}

// RespondControlRequest resolves a pending request to approved or
// rejected and sends the paired "<type>_response" message back to the
// original requester in the same transaction. Responding to a missing
// or already-resolved request is an error, so a request resolves at
// most once.
func (s *Store) RespondControlRequest(requestID, responder string, approve bool, responseBody string) (*ControlRequest, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning control response: %w", err)
	}
	defer tx.Rollback()

	var req ControlRequest
	err = tx.QueryRow(`
		SELECT request_id, room, req_type, sender, recipient, body, status,
		       created_ts, updated_ts, response_body
		FROM control_requests WHERE request_id=?`,
		requestID).Scan(
		&req.RequestID, &req.Room, &req.ReqType, &req.Sender, &req.Recipient,
		&req.Body, &req.Status, &req.CreatedTS, &req.UpdatedTS, &req.ResponseBody)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request not found: %s", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading control request: %w", err)
	}
	if req.Status != "pending" {
		return nil, fmt.Errorf("request already resolved: %s status=%s", requestID, req.Status)
	}

	status := "rejected"
	if approve {
		status = "approved"
	}
	now := util.UTCTimestamp()
	if _, err := tx.Exec(`
		UPDATE control_requests SET status=?, updated_ts=?, response_body=?
		WHERE request_id=?`,
		status, now, responseBody, requestID); err != nil {
		return nil, fmt.Errorf("updating control request: %w", err)
	}

	body := responseBody
	if body == "" {
		body = status
	}
	meta, err := json.Marshal(map[string]interface{}{
		"request_id": requestID,
		"req_type":   req.ReqType,
		"approve":    approve,
		"state":      status,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding control meta: %w", err)
	}
	if _, _, err := sendTx(tx, req.Room, responder, req.Sender, req.ReqType+"_response", body, string(meta)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing control response: %w", err)
	}
	req.Status = status
	req.UpdatedTS = now
	req.ResponseBody = responseBody
	return &req, nil
}

// ListControlRequests returns requests for a room oldest first, capped
// at limit. An empty recipient matches every recipient; resolved rows
// are excluded unless includeResolved is set.
func (s *Store) ListControlRequests(room, recipient string, includeResolved bool, limit int) ([]ControlRequest, error) {
	query := `
		SELECT request_id, room, req_type, sender, recipient, body, status,
		       created_ts, updated_ts, response_body
		FROM control_requests WHERE room=?`
	args := []interface{}{room}
	if recipient != "" {
		query += ` AND recipient=?`
		args = append(args, recipient)
	}
	if !includeResolved {
		query += ` AND status='pending'`
	}
	query += ` ORDER BY created_ts ASC, request_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing control requests: %w", err)
	}
	defer rows.Close()

	var out []ControlRequest
	for rows.Next() {
		var req ControlRequest
		if err := rows.Scan(
			&req.RequestID, &req.Room, &req.ReqType, &req.Sender, &req.Recipient,
			&req.Body, &req.Status, &req.CreatedTS, &req.UpdatedTS, &req.ResponseBody); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
