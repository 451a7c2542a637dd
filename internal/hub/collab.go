package hub

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codexteams/codexteams/internal/teamfs"
)

// Senders whose messages never earn a peer collaboration reply.
var systemSenderNames = map[string]bool{
	"system":       true,
	"monitor":      true,
	"orchestrator": true,
}

// collectCollabTargets picks out which teammates are owed a peer update
// once the current run finishes: actionable messages from real peers,
// excluding anything that is itself collaboration traffic.
func collectCollabTargets(msgs []teamfs.IndexedMail, self string) map[string]map[string]bool {
	targets := make(map[string]map[string]bool)
	for _, row := range msgs {
		msg := row.Message
		sender := strings.TrimSpace(msg.From)
		if sender == "" || sender == self || systemSenderNames[sender] {
			continue
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(msg.Summary)), "peer-") {
			continue
		}
		if strings.TrimSpace(msg.MetaString("source")) == "collab-update" {
			continue
		}
		if !actionableWorkType(msg.Type) {
			continue
		}
		mtype := strings.TrimSpace(msg.Type)
		if mtype == "" {
			mtype = "message"
		}
		bucket := targets[sender]
		if bucket == nil {
			bucket = make(map[string]bool)
			targets[sender] = bucket
		}
		bucket[mtype] = true
	}
	return targets
}

func mergeCollabTargets(into, updates map[string]map[string]bool) {
	for sender, kinds := range updates {
		bucket := into[sender]
		if bucket == nil {
			bucket = make(map[string]bool)
			into[sender] = bucket
		}
		for kind := range kinds {
			bucket[kind] = true
		}
	}
}

// emitCollabUpdates fans the run result out to the collected peers. A
// failed run raises a peer-blocker, a run triggered by a question gets a
// peer-answer, everything else a peer-update.
func (e *env) emitCollabUpdates(w *workerState, cfg *teamfs.TeamConfig, lead string, resultBody string, exitCode int) {
	recipients := make([]string, 0, len(w.collabTargets))
	for recipient := range w.collabTargets {
		recipients = append(recipients, recipient)
	}
	sort.Strings(recipients)

	for _, recipient := range recipients {
		if recipient == "" || recipient == w.name {
			continue
		}
		// Non-lead teammates already report to lead via primary status channel.
		if w.name != lead && recipient == lead {
			continue
		}

		sourceTypes := make([]string, 0, len(w.collabTargets[recipient]))
		for kind := range w.collabTargets[recipient] {
			sourceTypes = append(sourceTypes, kind)
		}
		sort.Strings(sourceTypes)
		sourceTypesText := strings.Join(sourceTypes, ",")
		if sourceTypesText == "" {
			sourceTypesText = "message"
		}

		kind, summary := "message", "peer-update"
		switch {
		case exitCode != 0:
			kind, summary = "blocker", "peer-blocker"
		case contains(sourceTypes, "question"):
			kind, summary = "answer", "peer-answer"
		}

		body := fmt.Sprintf("collab_update from=%s source_types=%s result=%s", w.name, sourceTypesText, resultBody)
		e.busSend(w.name, recipient, kind, body)
		e.dispatch(cfg, teamfs.Dispatch{
			Type:      kind,
			Sender:    w.name,
			Recipient: recipient,
			Text:      body,
			Summary:   summary,
			Meta: map[string]interface{}{
				"source":       "collab-update",
				"source_types": sourceTypes,
			},
		})
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
