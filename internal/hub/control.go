package hub

import (
	"fmt"
	"strings"

	"github.com/codexteams/codexteams/internal/codex"
	"github.com/codexteams/codexteams/internal/teamfs"
	"github.com/codexteams/codexteams/internal/util"
)

// Message types that never become work prompts. Anything else that does
// not end in "_response" is actionable.
var nonActionableWorkTypes = map[string]bool{
	"status":                 true,
	"idle_notification":      true,
	"system":                 true,
	"plan_approval_response": true,
	"permission_response":    true,
	"shutdown_response":      true,
	"shutdown_approved":      true,
	"shutdown_rejected":      true,
	"mode_set_response":      true,
}

// Control responses an agent acknowledges over the bus instead of
// treating as work.
var controlResponseTypes = map[string]bool{
	"plan_approval_response": true,
	"permission_response":    true,
	"shutdown_response":      true,
	"shutdown_approved":      true,
	"shutdown_rejected":      true,
	"mode_set_response":      true,
}

func actionableWorkType(raw string) bool {
	mtype := strings.TrimSpace(raw)
	if mtype == "" {
		mtype = "message"
	}
	if nonActionableWorkTypes[mtype] {
		return false
	}
	return !strings.HasSuffix(mtype, "_response")
}

// controlRecordView is the subset of a control request record the
// validation chain needs, sourced from the team store or, as a
// fallback, the bus mirror.
type controlRecordView struct {
	reqType   string
	sender    string
	recipient string
	status    string
}

func (e *env) loadControlRecord(requestID string) *controlRecordView {
	rid := strings.TrimSpace(requestID)
	if rid == "" {
		return nil
	}
	if rec, err := e.fs.GetControlRequest(rid); err == nil && rec != nil {
		return &controlRecordView{
			reqType:   rec.ReqType,
			sender:    rec.Sender,
			recipient: rec.Recipient,
			status:    rec.Status,
		}
	}
	if e.bus != nil {
		if req, err := e.bus.GetControlRequest(rid); err == nil && req != nil {
			return &controlRecordView{
				reqType:   req.ReqType,
				sender:    req.Sender,
				recipient: req.Recipient,
				status:    req.Status,
			}
		}
	}
	return nil
}

// validateControlRecord cross-checks a stored control request against
// the mailbox envelope that claims to carry it. An empty return means
// the record authorizes the request.
func validateControlRecord(rec *controlRecordView, expectedType, requester, recipient, envelopeRecipient string) string {
	reqType := strings.TrimSpace(rec.reqType)
	status := strings.TrimSpace(rec.status)
	reqSender := strings.TrimSpace(rec.sender)
	reqRecipient := strings.TrimSpace(rec.recipient)
	if reqType != expectedType {
		return fmt.Sprintf("request type mismatch: expected %s got=%s", expectedType, orLabel(reqType, "unknown"))
	}
	if status != "pending" {
		return fmt.Sprintf("request already resolved: status=%s", orLabel(status, "unknown"))
	}
	if reqSender != "" && requester != "" && reqSender != requester {
		return fmt.Sprintf("request sender mismatch: expected=%s got=%s", reqSender, requester)
	}
	if reqRecipient == "" {
		return "request recipient missing"
	}
	if reqRecipient != recipient {
		return fmt.Sprintf("request recipient mismatch: expected=%s got=%s", reqRecipient, recipient)
	}
	if envelopeRecipient != "" && envelopeRecipient != recipient {
		return fmt.Sprintf("message recipient mismatch: expected=%s got=%s", recipient, envelopeRecipient)
	}
	return ""
}

func orLabel(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// respondControl delivers a control decision best effort. With a
// stored record the resolution is written to both the bus mirror and
// the team store; a record-less request gets a plain "<type>_response"
// mailbox message for compatibility. Persistent store failures end up
// in the lifecycle log, never back in the handler.
func (e *env) respondControl(w *workerState, cfg *teamfs.TeamConfig, reqType, requestID string,
	hasRecord, approved bool, body, sender, lead string, original teamfs.MailMessage) {
	target := sender
	if target == "" {
		target = lead
	}
	if requestID != "" && hasRecord {
		e.callBus("control-respond", func() error {
			_, err := e.bus.RespondControlRequest(requestID, w.name, approved, body)
			return err
		})
		e.callFS("control-respond", func() error {
			_, err := e.fs.RespondControl(cfg, teamfs.ControlResponse{
				RequestID:         requestID,
				Responder:         w.name,
				Approve:           approved,
				Body:              body,
				RecipientOverride: target,
				ReqTypeOverride:   reqType,
			})
			return err
		})
		return
	}
	approve := approved
	e.dispatch(cfg, teamfs.Dispatch{
		Type:      reqType + "_response",
		Sender:    w.name,
		Recipient: target,
		Text:      body,
		Summary:   original.Summary,
		RequestID: requestID,
		Approve:   &approve,
	})
}

// handleControlMessages walks one unread batch and consumes every
// control message in it: shutdown requests, permission-mode changes,
// control responses, and approval requests that only need to be relayed
// to the lead. What remains is returned as actionable work.
func (e *env) handleControlMessages(w *workerState, cfg *teamfs.TeamConfig, msgs []teamfs.IndexedMail) (bool, []teamfs.IndexedMail) {
	shouldShutdown := false
	var work []teamfs.IndexedMail
	lead := cfg.LeadName()
	known := e.memberNames(cfg, w.name)

	for _, row := range msgs {
		msg := row.Message
		mtype := msg.Type
		sender := msg.From
		envelopeRecipient := strings.TrimSpace(msg.Recipient)
		requestID := msg.RequestID
		text := msg.Text

		if mtype == "shutdown_request" {
			requester := strings.TrimSpace(sender)
			approved := false
			responseText := ""
			var rec *controlRecordView
			if requestID != "" {
				rec = e.loadControlRecord(requestID)
			}
			switch {
			case envelopeRecipient != w.name:
				responseText = fmt.Sprintf("shutdown_request recipient mismatch: expected=%s got=%s",
					w.name, orLabel(envelopeRecipient, "<missing>"))
			case !known[requester]:
				responseText = fmt.Sprintf("unauthorized shutdown_request sender=%s", orLabel(requester, "<unknown>"))
			case requester != lead:
				responseText = fmt.Sprintf("shutdown_request allowed only from lead=%s; got=%s",
					lead, orLabel(requester, "<unknown>"))
			case rec != nil:
				if verr := validateControlRecord(rec, "shutdown", requester, w.name, envelopeRecipient); verr != "" {
					responseText = verr
				} else {
					approved = true
					responseText = "shutdown approved"
				}
			case requestID != "":
				responseText = fmt.Sprintf("request not found: request_id=%s", requestID)
			default:
				approved = true
				responseText = "shutdown approved (compatibility: no request_id)"
			}
			e.respondControl(w, cfg, "shutdown", requestID, rec != nil, approved, responseText, sender, lead, msg)
			e.broadcastStatus(w.name, fmt.Sprintf("shutdown handled approved=%t", approved))
			if approved {
				e.broadcastStatus(w.name, "shutdown requested; terminating agent loop")
				shouldShutdown = true
			}
			continue
		}

		if mtype == "mode_set_request" {
			requestedMode := strings.TrimSpace(msg.MetaString("mode"))
			if requestedMode == "" {
				requestedMode = strings.TrimSpace(text)
			}
			requester := strings.TrimSpace(sender)
			approved := false
			responseText := ""
			var rec *controlRecordView
			if requestID != "" {
				rec = e.loadControlRecord(requestID)
			}
			switch {
			case envelopeRecipient != w.name:
				responseText = fmt.Sprintf("mode_set_request recipient mismatch: expected=%s got=%s",
					w.name, orLabel(envelopeRecipient, "<missing>"))
			case !known[requester]:
				responseText = fmt.Sprintf("unauthorized mode_set_request sender=%s", orLabel(requester, "<unknown>"))
			case requester != lead:
				responseText = fmt.Sprintf("mode_set_request allowed only from lead=%s; got=%s",
					lead, orLabel(requester, "<unknown>"))
			case requestedMode == "":
				responseText = "missing mode in mode_set_request"
			case !codex.IsPermissionMode(requestedMode):
				responseText = fmt.Sprintf("unsupported mode=%s", requestedMode)
			case rec != nil:
				if verr := validateControlRecord(rec, "mode_set", requester, w.name, envelopeRecipient); verr != "" {
					responseText = verr
				} else {
					approved = true
					responseText = "mode updated"
				}
			case requestID != "":
				responseText = fmt.Sprintf("request not found: request_id=%s", requestID)
			default:
				// Direct mode_set messages without a request id are
				// honored from known teammates.
				approved = true
				responseText = "mode updated (compatibility: no request_id)"
			}
			if approved {
				w.permissionMode = requestedMode
				persisted := e.callFS("member-mode", func() error {
					changed, err := e.fs.SetMemberMode(w.name, requestedMode)
					if err != nil {
						return err
					}
					if !changed {
						return fmt.Errorf("member %s not found", w.name)
					}
					return nil
				})
				if !persisted {
					approved = false
					responseText = fmt.Sprintf("failed to set mode=%s", requestedMode)
				}
			}
			e.respondControl(w, cfg, "mode_set", requestID, rec != nil, approved, responseText, sender, lead, msg)
			e.broadcastStatus(w.name, fmt.Sprintf("mode_set handled mode=%s approved=%t", requestedMode, approved))
			if approved {
				e.broadcastStatus(w.name, fmt.Sprintf("teammate_mode_changed mode=%s", requestedMode))
			}
			continue
		}

		if controlResponseTypes[mtype] {
			label := util.Summarize(text, 140)
			if label == "" {
				label = mtype
			}
			e.broadcastStatus(w.name, fmt.Sprintf("received %s from=%s summary=%s", mtype, sender, label))
			continue
		}

		if mtype == "plan_approval_request" || mtype == "permission_request" {
			label := util.Summarize(text, 140)
			if label == "" {
				label = mtype
			}
			e.busSend(w.name, lead, "status", fmt.Sprintf("received %s from=%s summary=%s", mtype, sender, label))
			continue
		}

		if actionableWorkType(msg.Type) {
			work = append(work, row)
		}
	}

	return shouldShutdown, work
}
