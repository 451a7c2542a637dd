// Package hub runs codex-teams agent loops: a shared in-process hub
// that cooperatively schedules a whole team of workers in one process,
// and a standalone single-agent loop. Both consume file-backed mailbox
// messages, run an external codex binary against the queued work, and
// report progress over the message bus.
package hub

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/codex"
	"github.com/codexteams/codexteams/internal/teamfs"
	"github.com/codexteams/codexteams/internal/util"
)

// Scheduling and batching limits. Mailbox batches bound one tick's
// scan; the prompt caps bound how much queued work a single external
// run may consume.
const (
	WorkerMailboxBatch      = 200
	LeadMailboxScanBatch    = 500
	MaxPromptMessagesPerRun = 8
	MaxPromptCharsPerRun    = 12_000

	ActiveLoopSleep = 20 * time.Millisecond
	FastLoopSleep   = 50 * time.Millisecond
	MaxIdleSleep    = 250 * time.Millisecond

	FSCmdRetries      = 2
	BusCmdRetries     = 3
	CmdRetryBaseDelay = 80 * time.Millisecond

	SummaryLimit   = 220
	TerminateGrace = 5 * time.Second
)

// HubAgentName is the runtime-table identity of the hub process itself.
const HubAgentName = "inprocess-hub"

// Options configures the shared hub. Zero-value strings fall back the
// same way the flag defaults do.
type Options struct {
	Repo    string
	Session string
	Room    string

	Prefix        string
	Count         int
	AgentsCSV     string
	WorktreesRoot string

	Profile string
	Model   string

	LeadName    string
	LeadCwd     string
	LeadProfile string
	LeadModel   string

	ReviewerName           string
	ReviewerProfile        string
	ReviewerModel          string
	ReviewerPermissionMode string

	CodexBin         string
	PollMs           int
	IdleMs           int
	PermissionMode   string
	PlanModeRequired bool

	HeartbeatFile string
	LifecycleLog  string
}

// Hub schedules every in-process worker of one team session.
type Hub struct {
	opts Options
	env  *env
	fs   *teamfs.Store
	bus  *bus.Store

	paths teamfs.Paths
	cfg   *teamfs.TeamConfig
	lead  string

	workers   []*workerState
	reviewers []string

	// workerDone tracks, per worker-role agent, whether its last run
	// completed cleanly with nothing queued. All bits true triggers the
	// review-ready announcement.
	workerDone      map[string]bool
	reviewAnnounced bool

	leadScanIndex int
	lastLeadToken int64
	forceLeadScan bool

	lastHeartbeat int64

	stopFlag   atomic.Bool
	stopSignal string
}

// Run drives a hub built from opts until every worker stops or a
// termination signal arrives. The return value is the process exit
// code.
func Run(opts Options) int {
	h, err := New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hub: %v\n", err)
		return 1
	}
	defer h.Close()
	return h.run()
}

// New resolves paths, opens the session stores, and builds the worker
// set. Workers whose worktree directory is missing are skipped with a
// bus notice.
func New(opts Options) (*Hub, error) {
	repo, err := filepath.Abs(opts.Repo)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}
	opts.Repo = repo

	fs := teamfs.New(repo, opts.Session)
	paths := fs.Paths()
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	h := &Hub{opts: opts, fs: fs, paths: paths}
	h.lifecycle(fmt.Sprintf("hub-start pid=%d repo=%s session=%s room=%s",
		os.Getpid(), repo, opts.Session, opts.Room))

	busStore, err := bus.Open(paths.BusDB())
	if err != nil {
		return nil, fmt.Errorf("opening bus: %w", err)
	}
	h.bus = busStore
	h.env = &env{
		fs:          fs,
		bus:         busStore,
		room:        opts.Room,
		fsAttempts:  FSCmdRetries + 1,
		busAttempts: BusCmdRetries + 1,
		lifecycle:   h.lifecycle,
	}

	cfg, err := fs.LoadConfig()
	if err != nil || cfg == nil {
		cfg = &teamfs.TeamConfig{}
	}
	h.cfg = cfg
	h.lead = strings.TrimSpace(opts.LeadName)
	if h.lead == "" {
		h.lead = cfg.LeadName()
	}

	leadCwd := repo
	if strings.TrimSpace(opts.LeadCwd) != "" {
		if leadCwd, err = filepath.Abs(opts.LeadCwd); err != nil {
			return nil, fmt.Errorf("resolving lead cwd: %w", err)
		}
	}
	leadProfile := strings.TrimSpace(opts.LeadProfile)
	if leadProfile == "" {
		leadProfile = opts.Profile
	}
	leadModel := strings.TrimSpace(opts.LeadModel)
	if leadModel == "" {
		leadModel = opts.Model
	}
	worktreesRoot, err := filepath.Abs(opts.WorktreesRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving worktrees root: %w", err)
	}

	var names []string
	if strings.TrimSpace(opts.AgentsCSV) != "" {
		for _, part := range strings.Split(opts.AgentsCSV, ",") {
			if name := strings.TrimSpace(part); name != "" {
				names = append(names, name)
			}
		}
	} else {
		for i := 1; i <= opts.Count; i++ {
			names = append(names, fmt.Sprintf("%s-%d", opts.Prefix, i))
		}
	}

	now := util.NowMillis()
	for _, name := range names {
		role := roleFromAgentName(name, h.lead, opts.ReviewerName)
		var cwd, profile, model, permissionMode string
		switch {
		case name == h.lead:
			cwd, profile, model = leadCwd, leadProfile, leadModel
			permissionMode = opts.PermissionMode
		case role == "reviewer":
			cwd = leadCwd
			if profile = strings.TrimSpace(opts.ReviewerProfile); profile == "" {
				profile = opts.Profile
			}
			if model = strings.TrimSpace(opts.ReviewerModel); model == "" {
				model = opts.Model
			}
			if permissionMode = strings.TrimSpace(opts.ReviewerPermissionMode); permissionMode == "" {
				permissionMode = "plan"
			}
		default:
			cwd = filepath.Join(worktreesRoot, name)
			profile, model = opts.Profile, opts.Model
			permissionMode = opts.PermissionMode
		}
		if info, statErr := os.Stat(cwd); statErr != nil || !info.IsDir() {
			h.env.broadcastStatus("system",
				fmt.Sprintf("skip worker bootstrap: missing worktree agent=%s cwd=%s", name, cwd))
			continue
		}
		prefix := buildPromptPrefix(opts.Session, paths.Config(), paths.Tasks(), h.lead, name)
		h.workers = append(h.workers, newWorkerState(name, role, cwd, profile, model, permissionMode, prefix, now))
	}

	h.workerDone = make(map[string]bool)
	for _, w := range h.workers {
		switch w.role {
		case "worker":
			h.workerDone[w.name] = false
		case "reviewer":
			h.reviewers = append(h.reviewers, w.name)
		}
	}
	return h, nil
}

// Close releases the bus handle.
func (h *Hub) Close() {
	if h.bus != nil {
		h.bus.Close()
	}
}

func (h *Hub) lifecycle(message string) {
	appendLifecycle(h.opts.LifecycleLog, message)
}

func (h *Hub) stopped() bool {
	return h.stopFlag.Load()
}

// run executes the bootstrap, the scheduling loop, and the shutdown
// sequence.
func (h *Hub) run() int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		if s, ok := sig.(syscall.Signal); ok {
			h.stopSignal = unix.SignalName(s)
		}
		h.stopFlag.Store(true)
	}()

	if len(h.workers) == 0 {
		h.lifecycle("hub-abort no-worker-worktrees")
		h.env.busSend("system", "all", "blocker", "in-process-shared hub aborted: no worker worktrees available")
		return 2
	}

	workerNames := make([]string, len(h.workers))
	for i, w := range h.workers {
		workerNames[i] = w.name
	}
	h.lifecycle(fmt.Sprintf("hub-workers-ready count=%d workers=%s",
		len(h.workers), strings.Join(workerNames, ",")))

	for _, w := range h.workers {
		h.workerOnline(w)
	}
	h.env.callFS("runtime-set", func() error {
		_, err := h.fs.SetRuntime(HubAgentName, "in-process-shared", "running", os.Getpid(), "", "in-process-shared")
		return err
	})

	for !h.stopped() && h.anyRunning() {
		didWork := false
		h.refreshConfig()

		for _, w := range h.workers {
			if h.stopped() || w.stopped {
				continue
			}
			if h.tickWorker(w) {
				didWork = true
			}
		}

		if h.scanLeadMailbox() {
			didWork = true
		}

		if !h.reviewAnnounced && h.allWorkersReviewReady() {
			h.notifyReviewReady()
			h.reviewAnnounced = true
			didWork = true
		}

		h.maybeHeartbeat()

		time.Sleep(h.loopSleep(didWork))
	}

	for _, w := range h.workers {
		w.terminateChild()
	}
	for _, w := range h.workers {
		if !w.stopped {
			h.workerOffline(w)
			w.stopped = true
		}
	}

	stopReason := "all-workers-stopped"
	if h.stopped() {
		name := h.stopSignal
		if name == "" {
			name = "unknown"
		}
		stopReason = "signal:" + name
	}
	h.lifecycle(fmt.Sprintf("hub-stop reason=%s active_workers=%d", stopReason, h.countRunning()))
	h.env.callFS("runtime-mark", func() error {
		_, err := h.fs.MarkRuntime(HubAgentName, "terminated", nil)
		return err
	})
	return 0
}

func (h *Hub) anyRunning() bool {
	for _, w := range h.workers {
		if !w.stopped {
			return true
		}
	}
	return false
}

func (h *Hub) countRunning() int {
	count := 0
	for _, w := range h.workers {
		if !w.stopped {
			count++
		}
	}
	return count
}

// refreshConfig re-reads the team config each tick. A lead handoff
// rebuilds every worker's prompt prefix; a pinned --lead-name never
// changes.
func (h *Hub) refreshConfig() {
	latest, err := h.fs.LoadConfig()
	if err != nil || latest == nil {
		return
	}
	latestLead := strings.TrimSpace(h.opts.LeadName)
	if latestLead == "" {
		latestLead = latest.LeadName()
	}
	if latestLead != "" && latestLead != h.lead {
		h.lead = latestLead
		for _, w := range h.workers {
			w.promptPrefix = buildPromptPrefix(h.opts.Session, h.paths.Config(), h.paths.Tasks(), h.lead, w.name)
		}
	}
	h.cfg = latest
}

// handleControlSafely isolates a panic in one worker's control handling
// so a single poisoned message cannot take down the whole hub. The
// recovered value comes back as the error.
func (h *Hub) handleControlSafely(w *workerState, msgs []teamfs.IndexedMail) (shutdown bool, work []teamfs.IndexedMail, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	shutdown, work = h.env.handleControlMessages(w, h.cfg, msgs)
	return shutdown, work, nil
}

// tickWorker advances one worker a single scheduling step: scan the
// mailbox when its mention token moved, consume control messages,
// enqueue work, dispatch a run when the slot is free, drain the active
// run, and raise an idle notification when nothing has happened for the
// idle window. Reports whether any of that occurred.
func (h *Hub) tickWorker(w *workerState) bool {
	didWork := false

	token := h.env.signalToken(w.name)
	shouldCheck := w.forceMailboxCheck || token != w.lastToken
	var unread []teamfs.IndexedMail
	if shouldCheck {
		unread = h.env.loadUnread(w, WorkerMailboxBatch)
		w.forceMailboxCheck = false
		w.lastToken = token
		if len(unread) >= WorkerMailboxBatch {
			w.forceMailboxCheck = true
		}
	}

	if len(unread) > 0 {
		shouldShutdown, work, err := h.handleControlSafely(w, unread)
		if err != nil {
			w.forceMailboxCheck = true
			h.env.busSend("system", h.lead, "blocker",
				fmt.Sprintf("hub message handling failed agent=%s error=%v", w.name, err))
			h.lifecycle(fmt.Sprintf("worker-message-handle-error agent=%s error=%v", w.name, err))
			return didWork
		}

		actionable := make(map[int]bool, len(work))
		for _, row := range work {
			if row.Index >= 0 {
				actionable[row.Index] = true
			}
		}
		var immediateAck []int
		for _, row := range unread {
			if row.Index >= 0 && !actionable[row.Index] {
				immediateAck = append(immediateAck, row.Index)
			}
		}
		h.env.markIndexesRead(w, immediateAck)

		if shouldShutdown {
			actionableIndexes := make([]int, 0, len(actionable))
			for idx := range actionable {
				actionableIndexes = append(actionableIndexes, idx)
			}
			h.env.markIndexesRead(w, actionableIndexes)
			w.terminateChild()
			w.stopped = true
			h.workerOffline(w)
			if w.role == "worker" {
				h.workerDone[w.name] = false
				h.reviewAnnounced = false
			}
			return true
		}

		lateAck := w.enqueueWork(work)
		mergeCollabTargets(w.collabTargets, collectCollabTargets(work, w.name))
		h.env.markIndexesRead(w, lateAck)
		if len(work) > 0 {
			w.lastActivity = util.NowMillis()
			if w.role == "worker" {
				h.workerDone[w.name] = false
				h.reviewAnnounced = false
			}
			didWork = true
		}
	}

	if len(w.pendingTexts) > 0 && w.child == nil {
		lines, indexes := w.popPromptBatch()
		if len(lines) == 0 {
			return didWork
		}
		prompt := w.promptPrefix + "\n\n" + strings.Join(lines, "\n")
		didWork = true
		child, err := codex.Start(w.invocation(h.opts.CodexBin, prompt), w.cwd)
		if err != nil {
			h.publishWorkerResult(w, 127, err.Error())
			h.env.markIndexesRead(w, indexes)
			if w.role == "worker" {
				h.workerDone[w.name] = false
				h.reviewAnnounced = false
			}
		} else {
			w.child = child
			w.activeStarted = util.NowMillis()
			w.lastActivity = w.activeStarted
			w.activeIndexes = nonNegative(indexes)
			if w.role == "worker" {
				h.workerDone[w.name] = false
				h.reviewAnnounced = false
			}
		}
	}

	if w.child != nil {
		w.child.Drain(false)
		if !w.child.Running() {
			w.child.Drain(true)
			exitCode := w.child.ExitCode()
			runOut := w.child.Output()
			w.child.Close()
			w.child = nil
			w.activeStarted = 0
			h.publishWorkerResult(w, exitCode, runOut)
			ackOK := h.env.markIndexesRead(w, w.activeIndexes)
			w.activeIndexes = nil
			if w.role == "worker" {
				noUnread := !h.env.hasUnread(w.name)
				h.workerDone[w.name] = exitCode == 0 &&
					len(w.pendingTexts) == 0 &&
					len(w.pendingIndexes) == 0 &&
					len(w.inFlight) == 0 &&
					ackOK && noUnread
				if !noUnread {
					w.forceMailboxCheck = true
				}
				h.reviewAnnounced = false
			}
			didWork = true
		}
	}

	now := util.NowMillis()
	if !w.stopped && w.child == nil &&
		now-w.lastActivity >= int64(h.opts.IdleMs) &&
		now-w.lastIdleSent >= int64(h.opts.IdleMs) {
		h.env.sendIdle(h.cfg, w.name)
		h.env.busSend(w.name, h.lead, "status", "idle notification sent")
		w.lastIdleSent = now
		didWork = true
	}

	return didWork
}

// publishWorkerResult reports a finished run to the lead and fans the
// collaboration updates out to the peers that triggered it.
func (h *Hub) publishWorkerResult(w *workerState, exitCode int, runOut string) {
	summary := util.Summarize(runOut, SummaryLimit)
	if summary == "" {
		summary = "empty output"
	}
	kind, state := "status", "complete"
	if exitCode != 0 {
		kind, state = "blocker", "failed"
	}
	label, tag := "worker_result", "worker-run-complete"
	if exitCode != 0 {
		tag = "worker-run-failed"
	}
	if w.role == "reviewer" {
		label = "reviewer_result"
		tag = "reviewer-run-complete"
		if exitCode != 0 {
			tag = "reviewer-run-failed"
		}
	}
	body := fmt.Sprintf("%s state=%s exit=%d summary=%s", label, state, exitCode, summary)
	if w.name != h.lead {
		h.env.busSend(w.name, h.lead, kind, body)
		h.env.dispatch(h.cfg, teamfs.Dispatch{
			Type:      "message",
			Sender:    w.name,
			Recipient: h.lead,
			Text:      body,
			Summary:   tag,
			Meta: map[string]interface{}{
				"source":    "worker-result",
				"worker":    w.name,
				"state":     state,
				"exit_code": exitCode,
			},
		})
	}
	h.env.emitCollabUpdates(w, h.cfg, h.lead, body, exitCode)
	w.collabTargets = make(map[string]map[string]bool)
	w.lastActivity = util.NowMillis()
}

// scanLeadMailbox reads the lead's unread mail without consuming it,
// looking for worker traffic that should push the team out of the
// review-ready state. The scan is gated on the lead's mention token and
// keeps its own cursor; the mailbox stays untouched for the lead.
func (h *Hub) scanLeadMailbox() bool {
	token := h.env.signalToken(h.lead)
	if !h.forceLeadScan && token == h.lastLeadToken {
		return false
	}

	rows := h.env.readUnreadAt(h.lead, LeadMailboxScanBatch, h.leadScanIndex)
	if len(rows) == 0 && h.leadScanIndex > 0 {
		oldest := h.env.readUnreadAt(h.lead, 1, 0)
		if len(oldest) > 0 && oldest[0].Index >= 0 && oldest[0].Index < h.leadScanIndex {
			h.leadScanIndex = oldest[0].Index
			rows = h.env.readUnreadAt(h.lead, LeadMailboxScanBatch, h.leadScanIndex)
		}
	}

	for _, row := range rows {
		if row.Index >= h.leadScanIndex {
			h.leadScanIndex = row.Index + 1
		}
		sender := strings.TrimSpace(row.Message.From)
		if _, tracked := h.workerDone[sender]; !tracked {
			continue
		}
		mtype := strings.TrimSpace(row.Message.Type)
		summary := strings.ToLower(strings.TrimSpace(row.Message.Summary))
		source := strings.ToLower(strings.TrimSpace(row.Message.MetaString("source")))
		if source == "worker-result" {
			continue
		}
		if source == "collab-update" && strings.HasPrefix(summary, "peer-") {
			continue
		}
		switch {
		case mtype == "question" || mtype == "blocker" || mtype == "task" || mtype == "shutdown_request":
			h.workerDone[sender] = false
			h.reviewAnnounced = false
		case mtype == "message" && summary != "worker-run-complete" && summary != "worker-run-failed":
			h.workerDone[sender] = false
			h.reviewAnnounced = false
		}
	}

	h.forceLeadScan = len(rows) >= LeadMailboxScanBatch
	if !h.forceLeadScan {
		h.lastLeadToken = token
	}
	return len(rows) > 0
}

// allWorkersReviewReady reports whether every live worker-role agent
// finished its last run cleanly with nothing queued, in flight, or
// awaiting a forced re-scan.
func (h *Hub) allWorkersReviewReady() bool {
	if len(h.workerDone) == 0 {
		return false
	}
	for _, w := range h.workers {
		if w.role != "worker" || w.stopped {
			continue
		}
		if !h.workerDone[w.name] {
			return false
		}
		if w.child != nil {
			return false
		}
		if len(w.pendingTexts) > 0 {
			return false
		}
		if len(w.pendingIndexes) > 0 || len(w.inFlight) > 0 {
			return false
		}
		if w.forceMailboxCheck {
			return false
		}
	}
	return true
}

// notifyReviewReady tells the lead the worker pool is drained and hands
// each reviewer a review-only mission.
func (h *Hub) notifyReviewReady() {
	var doneWorkers []string
	for name, done := range h.workerDone {
		if done {
			doneWorkers = append(doneWorkers, name)
		}
	}
	sort.Strings(doneWorkers)
	body := "all worker-* agents are runtime-complete (last run successful, queue drained). " +
		fmt.Sprintf("ready for independent lead+reviewer review. workers=%s ", strings.Join(doneWorkers, ",")) +
		"if any issue is found, synthesize remediation and re-delegate fixes to workers."
	h.env.busSend("system", h.lead, "status", body)
	h.env.dispatch(h.cfg, teamfs.Dispatch{
		Type:      "status",
		Sender:    "system",
		Recipient: h.lead,
		Text:      body,
		Summary:   "review-ready",
	})

	reviewerPrompt := "review-only mission: workers are complete. " +
		"Review worker changes independently. Do not modify files. " +
		"Report findings to lead with severity/file:line evidence and conclude with result=pass|issues."
	for _, reviewer := range h.reviewers {
		h.env.busSend("system", reviewer, "task", reviewerPrompt)
		h.env.dispatch(h.cfg, teamfs.Dispatch{
			Type:      "task",
			Sender:    "system",
			Recipient: reviewer,
			Text:      reviewerPrompt,
			Summary:   "review-round-trigger",
		})
	}
}

func (h *Hub) workerOnline(w *workerState) {
	h.env.callFS("runtime-set", func() error {
		_, err := h.fs.SetRuntime(w.name, "in-process-shared", "running", 0, "", "in-process-shared")
		return err
	})
	h.env.register(w.name, w.role)
	h.env.broadcastStatus(w.name, fmt.Sprintf("online backend=in-process-shared pid=0 hub_pid=%d permission_mode=%s",
		os.Getpid(), w.permissionMode))
}

func (h *Hub) workerOffline(w *workerState) {
	h.env.callFS("runtime-mark", func() error {
		_, err := h.fs.MarkRuntime(w.name, "terminated", nil)
		return err
	})
	h.env.broadcastStatus(w.name, "offline backend=in-process-shared")
}

// maybeHeartbeat rewrites the heartbeat file when at least
// max(500ms, poll interval) has passed since the previous write.
func (h *Hub) maybeHeartbeat() {
	interval := int64(500)
	if int64(h.opts.PollMs) > interval {
		interval = int64(h.opts.PollMs)
	}
	now := util.NowMillis()
	if now-h.lastHeartbeat < interval {
		return
	}
	writeHeartbeat(h.opts.HeartbeatFile, heartbeat{
		TS:            util.UTCTimestamp(),
		PID:           os.Getpid(),
		Session:       h.opts.Session,
		Room:          h.opts.Room,
		ActiveWorkers: h.countRunning(),
		TotalWorkers:  len(h.workers),
		Stop:          h.stopped(),
	})
	h.lastHeartbeat = now
}

// loopSleep picks the next tick delay: immediate follow-up after any
// work or a saturated lead scan, a fast poll while a child is running,
// and the configured poll interval capped at 250ms when idle.
func (h *Hub) loopSleep(didWork bool) time.Duration {
	if didWork || h.forceLeadScan {
		return ActiveLoopSleep
	}
	childPresent := false
	for _, w := range h.workers {
		if w.stopped {
			continue
		}
		if w.child != nil {
			childPresent = true
			continue
		}
		if len(w.pendingTexts) > 0 || w.forceMailboxCheck {
			return ActiveLoopSleep
		}
	}
	if childPresent {
		return FastLoopSleep
	}
	idle := time.Duration(h.opts.PollMs) * time.Millisecond
	if idle < FastLoopSleep {
		idle = FastLoopSleep
	}
	if idle > MaxIdleSleep {
		idle = MaxIdleSleep
	}
	return idle
}

func nonNegative(indexes []int) []int {
	var out []int
	for _, idx := range indexes {
		if idx >= 0 {
			out = append(out, idx)
		}
	}
	return out
}
