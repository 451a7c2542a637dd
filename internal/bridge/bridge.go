// Package bridge pumps unread mailbox messages into tmux panes.
//
// Teammates that run as interactive CLI sessions inside plain tmux
// panes have no hub loop watching their inbox. The bridge polls the
// session's runtime table, reads each running tmux-backed agent's
// newest unread messages, and types a compact action prompt into the
// agent's pane. A row is marked read only after its pane accepted the
// injected text; failed injections stay unread for the next pass.
// Non-actionable rows (statuses, control responses) are marked read
// without injection so they never pile up.
//
// The loop ends, with exit code zero, when the watched tmux session
// disappears.
package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codexteams/codexteams/internal/teamfs"
	"github.com/codexteams/codexteams/internal/tmux"
	"github.com/codexteams/codexteams/internal/util"
)

const (
	// MinPollMs floors the poll interval.
	MinPollMs = 100

	// MinLimit floors the per-agent read window.
	MinLimit = 1

	// PromptSummaryLimit caps the summary line of an injected prompt.
	PromptSummaryLimit = 140

	// PromptTextLimit caps the body line of an injected prompt.
	PromptTextLimit = 1000
)

// Options configure one bridge process.
type Options struct {
	Repo     string
	Session  string
	Room     string
	LeadName string

	// TmuxSession is the tmux session watched for liveness and used
	// for window-level kills. Empty means the team session name.
	TmuxSession string

	// AutoKillDoneWorkers tears a worker's pane down when the lead
	// receives a status message whose summary announces completion.
	AutoKillDoneWorkers bool

	PollMs int
	Limit  int
}

// Bridge forwards mailbox traffic into tmux panes for one session.
type Bridge struct {
	opts Options
	fs   *teamfs.Store
	tmux *tmux.Tmux
}

// Run executes a bridge until its tmux session is gone.
func Run(opts Options) int {
	b, err := New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		return 1
	}
	return b.run()
}

// New resolves paths and normalizes options. PollMs and Limit are
// clamped to their minimums; an empty TmuxSession falls back to the
// team session name.
func New(opts Options) (*Bridge, error) {
	repo, err := filepath.Abs(opts.Repo)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}
	opts.Repo = repo
	if strings.TrimSpace(opts.TmuxSession) == "" {
		opts.TmuxSession = opts.Session
	}
	if opts.PollMs < MinPollMs {
		opts.PollMs = MinPollMs
	}
	if opts.Limit < MinLimit {
		opts.Limit = MinLimit
	}
	return &Bridge{
		opts: opts,
		fs:   teamfs.New(repo, opts.Session),
		tmux: tmux.New(),
	}, nil
}

// run polls until the watched tmux session disappears. A vanished
// session is the normal shutdown signal, so the exit code is zero.
func (b *Bridge) run() int {
	for {
		alive, err := b.tmux.HasSession(b.opts.TmuxSession)
		if err != nil || !alive {
			return 0
		}
		b.tick()
		time.Sleep(time.Duration(b.opts.PollMs) * time.Millisecond)
	}
}

// paneTarget is one running tmux-backed agent eligible for injection.
type paneTarget struct {
	agent  string
	paneID string
}

// runningPaneTargets selects runtime records with a tmux backend, a
// running status, and a pane id. Targets come back in agent-name order
// so multi-agent passes are deterministic.
func runningPaneTargets(rt *teamfs.RuntimeTable) []paneTarget {
	var targets []paneTarget
	for name, rec := range rt.Agents {
		if rec == nil || rec.Backend != "tmux" || rec.Status != "running" {
			continue
		}
		paneID := strings.TrimSpace(rec.PaneID)
		if paneID == "" {
			continue
		}
		targets = append(targets, paneTarget{agent: name, paneID: paneID})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].agent < targets[j].agent })
	return targets
}

// tick delivers one poll pass. The runtime table is reloaded every
// pass so panes spawned or killed since the last one are honored.
func (b *Bridge) tick() {
	rt, err := b.fs.LoadRuntime()
	if err != nil {
		return
	}
	for _, target := range runningPaneTargets(rt) {
		rows, err := b.fs.ReadIndexed(target.agent, teamfs.ReadOptions{
			UnreadOnly: true,
			Limit:      b.opts.Limit,
		})
		if err != nil || len(rows) == 0 {
			continue
		}

		var marked []int
		for _, row := range rows {
			doneWorker := ""
			if b.opts.AutoKillDoneWorkers {
				doneWorker = detectDoneWorker(target.agent, b.opts.LeadName, row.Message)
			}

			if shouldInjectPrompt(row.Message) {
				prompt := buildPrompt(target.agent, b.opts.LeadName, b.opts.Room, b.opts.Session, row.Message)
				if b.tmux.SendText(target.paneID, prompt) == nil {
					marked = append(marked, row.Index)
				}
			} else {
				marked = append(marked, row.Index)
			}

			if doneWorker != "" {
				b.autoShutdownDoneWorker(rt, doneWorker)
			}
		}
		if len(marked) > 0 {
			b.fs.MarkRead(target.agent, marked, false)
		}
	}
}

// autoShutdownDoneWorker tears down a finished worker's pane and marks
// its runtime record terminated. The in-memory record is flipped too,
// so repeated done signals within one pass cannot re-kill the target.
func (b *Bridge) autoShutdownDoneWorker(rt *teamfs.RuntimeTable, worker string) bool {
	rec := rt.Agents[worker]
	if rec == nil || rec.Backend != "tmux" || rec.Status != "running" {
		return false
	}
	paneID := strings.TrimSpace(rec.PaneID)
	window := strings.TrimSpace(rec.Window)
	if paneID == "" && window == "" {
		return false
	}
	if !b.killWorkerTarget(paneID, window) {
		return false
	}
	b.fs.MarkRuntime(worker, "terminated", nil)
	rec.Status = "terminated"
	rec.UpdatedAt = util.NowMillis()
	return true
}

// killWorkerTarget kills the pane, falling back to the whole window
// when the pane id is stale.
func (b *Bridge) killWorkerTarget(paneID, window string) bool {
	if paneID != "" && b.tmux.KillPane(paneID) == nil {
		return true
	}
	if window != "" && b.tmux.KillWindow(b.opts.TmuxSession+":"+window) == nil {
		return true
	}
	return false
}

// Message types that never become injected prompts. Anything else that
// does not end in "_response" is injected.
var nonActionablePromptTypes = map[string]bool{
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

func shouldInjectPrompt(msg teamfs.MailMessage) bool {
	mtype := strings.TrimSpace(msg.Type)
	if mtype == "" {
		mtype = "message"
	}
	if nonActionablePromptTypes[mtype] {
		return false
	}
	return !strings.HasSuffix(mtype, "_response")
}

var doneSummaryTokens = map[string]bool{
	"done":      true,
	"complete":  true,
	"completed": true,
	"finish":    true,
	"finished":  true,
}

// summaryIndicatesDone reports whether a status summary announces
// completion: at least one done token with no "not" anywhere in the
// summary.
func summaryIndicatesDone(summary string) bool {
	text := strings.ToLower(strings.TrimSpace(summary))
	if text == "" {
		return false
	}
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	hasDone, hasNot := false, false
	for _, tok := range tokens {
		if doneSummaryTokens[tok] {
			hasDone = true
		}
		if tok == "not" {
			hasNot = true
		}
	}
	return hasDone && !hasNot
}

// detectDoneWorker returns the worker name when a message delivered to
// the lead is a completion report from a worker pane: a status type,
// a "worker-" sender, addressed to the lead (or unaddressed), with a
// done summary.
func detectDoneWorker(agent, lead string, msg teamfs.MailMessage) string {
	if agent != lead {
		return ""
	}
	if strings.TrimSpace(msg.Type) != "status" {
		return ""
	}
	sender := strings.TrimSpace(msg.From)
	if !strings.HasPrefix(sender, "worker-") {
		return ""
	}
	if recipient := strings.TrimSpace(msg.Recipient); recipient != "" && recipient != lead {
		return ""
	}
	if !summaryIndicatesDone(msg.Summary) {
		return ""
	}
	return sender
}

// replyKindFor picks the message type the injected prompt suggests for
// the reply: questions get answers, everything else a status.
func replyKindFor(msgType string) string {
	if msgType == "question" {
		return "answer"
	}
	return "status"
}

// buildPrompt renders the action prompt injected into a pane for one
// mailbox row: a headline, the trimmed body, and numbered next steps
// including the exact sendmessage invocation for the reply.
func buildPrompt(agent, lead, room, session string, msg teamfs.MailMessage) string {
	mtype := strings.TrimSpace(msg.Type)
	if mtype == "" {
		mtype = "message"
	}
	sender := strings.TrimSpace(msg.From)
	if sender == "" {
		sender = "unknown"
	}
	summary := util.TrimText(msg.Summary, PromptSummaryLimit)
	text := util.TrimText(msg.Text, PromptTextLimit)
	requestID := strings.TrimSpace(msg.RequestID)

	lines := []string{
		fmt.Sprintf("[Mailbox] to=%s from=%s type=%s summary=%s", agent, sender, mtype, summary),
		text,
		"",
		"Immediate action:",
		fmt.Sprintf("1) Reply to sender with `codex-teams sendmessage --session \"%s\" --room \"%s\" --type %s --from \"%s\" --to \"%s\" --summary \"<update>\" --content \"<response>\"`",
			session, room, replyKindFor(mtype), agent, sender),
	}
	if requestID != "" {
		lines = append(lines, fmt.Sprintf("2) request_id=%s (use matching response type if this is a control request)", requestID))
	} else {
		lines = append(lines, "2) Keep response concise and include next concrete step.")
	}

	switch {
	case agent == lead && (mtype == "question" || mtype == "blocker" || mtype == "task" || mtype == "message"):
		lines = append(lines, "3) If this needs unknown info, run focused research now and send refined guidance back to requester.")
	case agent != lead && (mtype == "question" || mtype == "blocker"):
		lines = append(lines, fmt.Sprintf("3) If still unresolved after one attempt, escalate to lead with `codex-teams sendmessage --session \"%s\" --room \"%s\" --type question --from \"%s\" --to \"%s\" --summary \"research-request\" --content \"<what is missing>\"`",
			session, room, agent, lead))
	}

	return strings.Join(lines, "\n")
}
