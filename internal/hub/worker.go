package hub

import (
	"fmt"
	"strings"

	"github.com/codexteams/codexteams/internal/codex"
	"github.com/codexteams/codexteams/internal/teamfs"
)

// workerState is one cooperatively scheduled agent: its identity, the
// work queued for its next run, and the run currently draining. The hub
// owns a slice of these; the standalone loop owns exactly one.
type workerState struct {
	name           string
	role           string
	cwd            string
	profile        string
	model          string
	permissionMode string

	promptPrefix string

	// Queued work. pendingTexts and pendingIndexes move in lockstep;
	// inFlight mirrors the queued non-negative indexes so a re-scan
	// does not enqueue the same row twice.
	pendingTexts   []string
	pendingIndexes []int
	inFlight       map[int]bool

	// Peers owed a collaboration update after the next run completes.
	collabTargets map[string]map[string]bool

	// Mention-token scan state.
	scanIndex         int
	lastToken         int64
	forceMailboxCheck bool

	child         *codex.Child
	activeStarted int64
	activeIndexes []int

	lastActivity int64
	lastIdleSent int64

	stopped bool
}

func newWorkerState(name, role, cwd, profile, model, permissionMode, promptPrefix string, now int64) *workerState {
	return &workerState{
		name:           name,
		role:           role,
		cwd:            cwd,
		profile:        profile,
		model:          model,
		permissionMode: permissionMode,
		promptPrefix:   promptPrefix,
		inFlight:       make(map[int]bool),
		collabTargets:  make(map[string]map[string]bool),
		lastActivity:   now,
	}
}

// roleFromAgentName infers a member's role from its name. Exact matches
// against the configured lead and reviewer names win; otherwise the
// name prefix decides, defaulting to worker.
func roleFromAgentName(name, leadName, reviewerName string) string {
	switch {
	case name == leadName:
		return "lead"
	case name == reviewerName:
		return "reviewer"
	case strings.HasPrefix(name, "reviewer-"):
		return "reviewer"
	case strings.HasPrefix(name, "worker-"):
		return "worker"
	case strings.HasPrefix(name, "utility-"):
		return "utility"
	}
	return "worker"
}

// buildPromptPrefix renders the identity header prepended to every
// prompt the hub hands a worker.
func buildPromptPrefix(session, configPath, taskPath, lead, name string) string {
	return "# Agent Teammate Communication\n" +
		"You are running as an agent in a team. Use codex-teams sendmessage types " +
		"`message` and `broadcast` for team communication.\n\n" +
		"# Team Coordination\n" +
		fmt.Sprintf("You are a teammate in team `%s`.\n", session) +
		fmt.Sprintf("Team config: %s\n", configPath) +
		fmt.Sprintf("Task list: %s\n", taskPath) +
		fmt.Sprintf("Team leader: %s\n", lead) +
		fmt.Sprintf("\n**Your Identity:**\n- Name: %s\n", name)
}

// buildTeamContextPrompt is the standalone loop's variant: same header,
// no identity block.
func buildTeamContextPrompt(agent, session, configPath, taskPath, lead string) string {
	return "# Agent Teammate Communication\n" +
		"You are running as an agent in a team. Use codex-teams sendmessage types " +
		"`message` and `broadcast` for team communication.\n\n" +
		"# Team Coordination\n" +
		fmt.Sprintf("You are teammate `%s` in team `%s`.\n", agent, session) +
		fmt.Sprintf("Team config: %s\n", configPath) +
		fmt.Sprintf("Task list: %s\n", taskPath) +
		fmt.Sprintf("Team leader: %s\n", lead)
}

func (w *workerState) indexInFlight(idx int) bool {
	if idx < 0 {
		return false
	}
	if w.inFlight[idx] {
		return true
	}
	for _, active := range w.activeIndexes {
		if active == idx {
			return true
		}
	}
	return false
}

// popPromptBatch dequeues the texts for the next run, bounded by both
// the per-run message and character caps. The first queued text always
// fits; the matching mailbox indexes leave the in-flight set and follow
// the run instead.
func (w *workerState) popPromptBatch() ([]string, []int) {
	var lines []string
	var indexes []int
	totalChars := 0

	for len(w.pendingTexts) > 0 && len(lines) < MaxPromptMessagesPerRun {
		next := w.pendingTexts[0]
		projected := totalChars + len(next) + 1
		if len(lines) > 0 && projected > MaxPromptCharsPerRun {
			break
		}
		lines = append(lines, next)
		w.pendingTexts = w.pendingTexts[1:]
		totalChars = projected
		if len(w.pendingIndexes) > 0 {
			idx := w.pendingIndexes[0]
			w.pendingIndexes = w.pendingIndexes[1:]
			indexes = append(indexes, idx)
			if idx >= 0 {
				delete(w.inFlight, idx)
			}
		}
		if totalChars >= MaxPromptCharsPerRun {
			break
		}
	}

	return lines, indexes
}

// enqueueWork appends actionable messages to the worker's prompt queue.
// Rows already in flight stay unread until their current handling
// completes; rows with no text are returned for immediate
// acknowledgement.
func (w *workerState) enqueueWork(work []teamfs.IndexedMail) []int {
	var immediateAck []int
	for _, row := range work {
		idx := row.Index
		if idx >= 0 && w.indexInFlight(idx) {
			// Keep unread until current in-flight handling completes.
			continue
		}
		text := strings.TrimSpace(row.Message.Text)
		summary := strings.TrimSpace(row.Message.Summary)
		sender := row.Message.From
		if text != "" {
			w.pendingTexts = append(w.pendingTexts,
				strings.TrimSpace(fmt.Sprintf("from=%s summary=%s text=%s", sender, summary, text)))
			w.pendingIndexes = append(w.pendingIndexes, idx)
			if idx >= 0 {
				w.inFlight[idx] = true
			}
		} else if idx >= 0 {
			immediateAck = append(immediateAck, idx)
		}
	}
	return immediateAck
}

// invocation assembles the external agent argv for one prompt.
func (w *workerState) invocation(codexBin, prompt string) []string {
	return codex.Invocation{
		Bin:     codexBin,
		Mode:    w.permissionMode,
		Model:   w.model,
		Profile: w.profile,
		CWD:     w.cwd,
		Prompt:  prompt,
	}.Args()
}

// terminateChild stops the active run if any: SIGTERM with a grace
// window, then SIGKILL, then a full drain. Run state is cleared without
// publishing a result.
func (w *workerState) terminateChild() {
	if w.child == nil {
		return
	}
	w.child.Terminate(TerminateGrace)
	w.child.Close()
	w.child = nil
	w.activeStarted = 0
	w.activeIndexes = nil
}
