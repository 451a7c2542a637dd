package teamfs

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/codexteams/codexteams/internal/util"
)

// ControlRecord is one row of the control-request mirror. Status moves
// pending -> approved|rejected exactly once; responder records who
// resolved it.
type ControlRecord struct {
	RequestID    string `json:"request_id"`
	ReqType      string `json:"req_type"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Body         string `json:"body"`
	Summary      string `json:"summary"`
	Status       string `json:"status"`
	CreatedTS    string `json:"created_ts"`
	UpdatedTS    string `json:"updated_ts"`
	ResponseBody string `json:"response_body"`
	Responder    string `json:"responder"`
}

// controlFile is the on-disk shape of control.json.
type controlFile struct {
	Requests  map[string]ControlRecord `json:"requests"`
	UpdatedAt int64                    `json:"updatedAt"`
}

// controlTypes lists the request kinds of the control lifecycle.
var controlTypes = []string{"plan_approval", "shutdown", "permission", "mode_set"}

// NormalizeControlType strips a _request/_response suffix and validates
// the remainder against the control lifecycle kinds.
func NormalizeControlType(raw string) (string, error) {
	t := strings.TrimSpace(raw)
	t = strings.TrimSuffix(t, "_request")
	t = strings.TrimSuffix(t, "_response")
	for _, known := range controlTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported control type: %s", raw)
}

// NewRequestID returns a fresh 12-hex-char request id.
func NewRequestID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:12]
}

func (s *Store) loadControl() *controlFile {
	ctl := loadJSON(s.paths.Control(), controlFile{})
	if ctl.Requests == nil {
		ctl.Requests = map[string]ControlRecord{}
	}
	return &ctl
}

func (s *Store) saveControl(ctl *controlFile) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	ctl.UpdatedAt = util.NowMillis()
	if err := util.AtomicWriteJSON(s.paths.Control(), ctl); err != nil {
		return fmt.Errorf("writing control table: %w", err)
	}
	return nil
}

// CreateControlRequest records a pending request and delivers the
// paired "<type>_request" mailbox message to the recipient. An empty
// requestID gets a generated one; the chosen id is returned. A reused
// id fails with ErrRequestExists before anything is written.
func (s *Store) CreateControlRequest(cfg *TeamConfig, reqType, sender, recipient, body, summary, requestID string) (string, error) {
	reqType, err := NormalizeControlType(reqType)
	if err != nil {
		return "", err
	}
	rid := strings.TrimSpace(requestID)
	if rid == "" {
		rid = NewRequestID()
	}

	ctl := s.loadControl()
	if _, ok := ctl.Requests[rid]; ok {
		return "", fmt.Errorf("%w: %s", ErrRequestExists, rid)
	}

	now := util.UTCTimestampMillis()
	ctl.Requests[rid] = ControlRecord{
		RequestID:    rid,
		ReqType:      reqType,
		Sender:       sender,
		Recipient:    recipient,
		Body:         body,
		Summary:      summary,
		Status:       "pending",
		CreatedTS:    now,
		UpdatedTS:    now,
		ResponseBody: "",
		Responder:    "",
	}
	if err := s.saveControl(ctl); err != nil {
		return "", err
	}

	_, err = s.Dispatch(cfg, Dispatch{
		Type:      reqType + "_request",
		Sender:    sender,
		Recipient: recipient,
		Text:      body,
		Summary:   summary,
		RequestID: rid,
		Meta: map[string]interface{}{
			"request_id": rid,
			"req_type":   reqType,
			"summary":    summary,
			"state":      "pending",
		},
	})
	if err != nil {
		return "", err
	}
	return rid, nil
}

// GetControlRequest returns the stored record, or nil when no request
// has that id.
func (s *Store) GetControlRequest(requestID string) (*ControlRecord, error) {
	ctl := s.loadControl()
	if req, ok := ctl.Requests[requestID]; ok {
		return &req, nil
	}
	return nil, nil
}

// ControlResponse carries the parameters of RespondControl.
type ControlResponse struct {
	RequestID string
	Responder string
	Approve   bool
	Body      string

	// RecipientOverride redirects the response message; when empty it
	// goes to the recorded sender, else the lead.
	RecipientOverride string

	// ReqTypeOverride lets a responder resolve a request whose record
	// was never mirrored (a requester that only wrote the mailbox
	// message). A pending record is synthesized for it.
	ReqTypeOverride string
}

// RespondControl resolves a pending request to approved or rejected and
// delivers the paired "<type>_response" mailbox message. An unknown id
// fails with ErrRequestNotFound unless ReqTypeOverride allows a record
// to be synthesized; a non-pending record fails with ErrRequestResolved.
func (s *Store) RespondControl(cfg *TeamConfig, resp ControlResponse) (*ControlRecord, error) {
	ctl := s.loadControl()
	req, ok := ctl.Requests[resp.RequestID]
	if !ok {
		if resp.ReqTypeOverride == "" {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, resp.RequestID)
		}
		reqType, err := NormalizeControlType(resp.ReqTypeOverride)
		if err != nil {
			return nil, err
		}
		sender := resp.RecipientOverride
		if sender == "" {
			sender = cfg.LeadName()
		}
		now := util.UTCTimestampMillis()
		req = ControlRecord{
			RequestID: resp.RequestID,
			ReqType:   reqType,
			Sender:    sender,
			Recipient: resp.Responder,
			Status:    "pending",
			CreatedTS: now,
			UpdatedTS: now,
		}
	}

	if req.Status != "pending" {
		return nil, fmt.Errorf("%w: %s status=%s", ErrRequestResolved, resp.RequestID, req.Status)
	}

	reqType := req.ReqType
	if reqType == "" {
		reqType = resp.ReqTypeOverride
	}
	reqType, err := NormalizeControlType(reqType)
	if err != nil {
		return nil, err
	}

	status := "rejected"
	if resp.Approve {
		status = "approved"
	}
	req.ReqType = reqType
	req.Status = status
	req.UpdatedTS = util.UTCTimestampMillis()
	req.ResponseBody = resp.Body
	req.Responder = resp.Responder
	ctl.Requests[resp.RequestID] = req
	if err := s.saveControl(ctl); err != nil {
		return nil, err
	}

	recipient := strings.TrimSpace(resp.RecipientOverride)
	if recipient == "" {
		recipient = req.Sender
	}
	if recipient == "" {
		recipient = cfg.LeadName()
	}

	body := resp.Body
	if body == "" {
		body = status
	}
	approve := resp.Approve
	_, err = s.Dispatch(cfg, Dispatch{
		Type:      reqType + "_response",
		Sender:    resp.Responder,
		Recipient: recipient,
		Text:      body,
		Summary:   req.Summary,
		RequestID: resp.RequestID,
		Approve:   &approve,
		Meta: map[string]interface{}{
			"request_id": resp.RequestID,
			"req_type":   reqType,
			"approve":    resp.Approve,
			"state":      status,
		},
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListControlRequests returns records oldest first, capped at limit
// when positive. An empty recipient matches every recipient; resolved
// records are excluded unless includeResolved is set.
func (s *Store) ListControlRequests(recipient string, includeResolved bool, limit int) ([]ControlRecord, error) {
	ctl := s.loadControl()
	var rows []ControlRecord
	for _, req := range ctl.Requests {
		if recipient != "" && req.Recipient != recipient {
			continue
		}
		if !includeResolved && req.Status != "pending" {
			continue
		}
		rows = append(rows, req)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedTS != rows[j].CreatedTS {
			return rows[i].CreatedTS < rows[j].CreatedTS
		}
		return rows[i].RequestID < rows[j].RequestID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}
