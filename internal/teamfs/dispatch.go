package teamfs

import (
	"errors"
	"fmt"

	"github.com/codexteams/codexteams/internal/util"
)

// messageTypes is the closed set of valid mailbox message types.
// Dispatch rejects anything else; raw AppendMail does not validate so
// newer tools can deliver types this build does not know.
var messageTypes = map[string]bool{
	"message":                true,
	"broadcast":              true,
	"status":                 true,
	"task":                   true,
	"question":               true,
	"answer":                 true,
	"blocker":                true,
	"idle_notification":      true,
	"system":                 true,
	"plan_approval_request":  true,
	"plan_approval_response": true,
	"shutdown_request":       true,
	"shutdown_response":      true,
	"shutdown_approved":      true,
	"shutdown_rejected":      true,
	"permission_request":     true,
	"permission_response":    true,
	"mode_set_request":       true,
	"mode_set_response":      true,
}

// IsMessageType reports whether t is a valid mailbox message type.
func IsMessageType(t string) bool {
	return messageTypes[t]
}

// ErrRecipientRequired is returned by Dispatch for a non-broadcast
// message without a recipient.
var ErrRecipientRequired = errors.New("recipient required for non-broadcast message")

// Dispatch carries the parameters of Store.Dispatch.
type Dispatch struct {
	Type      string
	Sender    string
	Recipient string
	Text      string
	Summary   string
	RequestID string
	Approve   *bool
	Meta      map[string]interface{}
}

// Dispatch delivers a message to its targets' mailboxes: every member
// except the sender for type "broadcast", else the named recipient. The
// payload carries the sender's configured color. Returns the recipient
// names in delivery order.
func (s *Store) Dispatch(cfg *TeamConfig, d Dispatch) ([]string, error) {
	if !IsMessageType(d.Type) {
		return nil, fmt.Errorf("unsupported message type: %s", d.Type)
	}

	var targets []string
	if d.Type == "broadcast" {
		for _, m := range cfg.Members {
			if m.Name != "" && m.Name != d.Sender {
				targets = append(targets, m.Name)
			}
		}
	} else {
		if d.Recipient == "" {
			return nil, ErrRecipientRequired
		}
		targets = []string{d.Recipient}
	}

	// One timestamp for the whole fan-out: every copy of a broadcast
	// carries the same send time.
	msg := MailMessage{
		Type:      d.Type,
		From:      d.Sender,
		Text:      d.Text,
		Summary:   d.Summary,
		Timestamp: util.UTCTimestampMillis(),
		Color:     cfg.MemberColor(d.Sender),
		Read:      false,
		RequestID: d.RequestID,
		Approve:   d.Approve,
	}
	if len(d.Meta) > 0 {
		msg.Meta = d.Meta
	}

	delivered := make([]string, 0, len(targets))
	for _, target := range targets {
		payload := msg
		payload.Recipient = target
		if _, err := s.AppendMail(target, payload); err != nil {
			return delivered, err
		}
		delivered = append(delivered, target)
	}
	return delivered, nil
}

// SendToLead writes a plain "message" into the lead's mailbox. The
// sender need not be a team member; color defaults to "blue" when
// empty.
func (s *Store) SendToLead(cfg *TeamConfig, sender, text, summary, color string) ([]string, error) {
	if color == "" {
		color = "blue"
	}
	target := cfg.LeadName()
	msg := MailMessage{
		Type:      "message",
		From:      sender,
		Text:      text,
		Summary:   summary,
		Timestamp: util.UTCTimestampMillis(),
		Color:     color,
		Read:      false,
	}
	if _, err := s.AppendMail(target, msg); err != nil {
		return nil, err
	}
	return []string{target}, nil
}

// SendIdle notifies the lead that an agent has gone idle.
func (s *Store) SendIdle(cfg *TeamConfig, agent string) ([]string, error) {
	target := cfg.LeadName()
	msg := MailMessage{
		Type:      "idle_notification",
		From:      agent,
		Text:      fmt.Sprintf("idle notification from %s", agent),
		Summary:   "idle",
		Timestamp: util.UTCTimestampMillis(),
		Color:     cfg.MemberColor(agent),
		Read:      false,
	}
	if _, err := s.AppendMail(target, msg); err != nil {
		return nil, err
	}
	return []string{target}, nil
}
