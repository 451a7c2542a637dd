package hub

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/codex"
	"github.com/codexteams/codexteams/internal/teamfs"
	"github.com/codexteams/codexteams/internal/util"
)

// SoloOptions configures a standalone single-agent loop.
type SoloOptions struct {
	Repo    string
	Session string
	Room    string
	Agent   string
	Role    string
	Cwd     string

	Profile string
	Model   string

	CodexBin         string
	PollMs           int
	IdleMs           int
	PermissionMode   string
	PlanModeRequired bool

	InitialTask string
}

// Solo runs one agent as its own process. It shares the hub's worker
// semantics: mention-token gated scans, in-flight acknowledgement of
// work messages, control handling, and collaboration fan-out. The
// external runs are blocking since there is nothing else to schedule.
type Solo struct {
	opts SoloOptions
	env  *env
	fs   *teamfs.Store
	bus  *bus.Store

	paths teamfs.Paths
	cfg   *teamfs.TeamConfig
	lead  string

	worker *workerState

	stopFlag atomic.Bool
}

// RunSolo drives a standalone agent loop until a termination signal or
// an approved shutdown request arrives.
func RunSolo(opts SoloOptions) int {
	s, err := NewSolo(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		return 1
	}
	defer s.Close()
	return s.run()
}

// NewSolo resolves paths and opens the session stores for one agent.
func NewSolo(opts SoloOptions) (*Solo, error) {
	repo, err := filepath.Abs(opts.Repo)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}
	opts.Repo = repo
	cwd, err := filepath.Abs(opts.Cwd)
	if err != nil {
		return nil, fmt.Errorf("resolving cwd: %w", err)
	}
	opts.Cwd = cwd

	fs := teamfs.New(repo, opts.Session)
	paths := fs.Paths()
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	busStore, err := bus.Open(paths.BusDB())
	if err != nil {
		return nil, fmt.Errorf("opening bus: %w", err)
	}

	s := &Solo{
		opts:  opts,
		fs:    fs,
		bus:   busStore,
		paths: paths,
	}
	s.env = &env{
		fs:          fs,
		bus:         busStore,
		room:        opts.Room,
		fsAttempts:  1,
		busAttempts: 1,
	}

	cfg, err := fs.LoadConfig()
	if err != nil || cfg == nil {
		cfg = &teamfs.TeamConfig{}
	}
	s.cfg = cfg
	s.lead = cfg.LeadName()

	prefix := buildTeamContextPrompt(opts.Agent, opts.Session, paths.Config(), paths.Tasks(), s.lead)
	s.worker = newWorkerState(opts.Agent, opts.Role, cwd, opts.Profile, opts.Model,
		opts.PermissionMode, prefix, util.NowMillis())
	return s, nil
}

// Close releases the bus handle.
func (s *Solo) Close() {
	if s.bus != nil {
		s.bus.Close()
	}
}

func (s *Solo) stopped() bool {
	return s.stopFlag.Load()
}

func (s *Solo) run() int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		s.stopFlag.Store(true)
	}()

	w := s.worker
	s.env.callFS("runtime-set", func() error {
		_, err := s.fs.SetRuntime(w.name, "in-process", "running", os.Getpid(), "", "in-process")
		return err
	})
	s.env.register(w.name, w.role)
	s.env.broadcastStatus(w.name, fmt.Sprintf("online backend=in-process pid=%d permission_mode=%s",
		os.Getpid(), w.permissionMode))

	if task := strings.TrimSpace(s.opts.InitialTask); task != "" {
		w.pendingTexts = append(w.pendingTexts, task)
		w.pendingIndexes = append(w.pendingIndexes, -1)
		s.env.busSend(w.name, s.lead, "status", "initial task accepted")
	}

	for !s.stopped() {
		if s.tick() {
			break
		}
		time.Sleep(s.sleepFor())
	}

	s.env.callFS("runtime-mark", func() error {
		_, err := s.fs.MarkRuntime(w.name, "terminated", nil)
		return err
	})
	s.env.broadcastStatus(w.name, "offline backend=in-process")
	return 0
}

// tick advances the loop one step and reports whether an approved
// shutdown request ended it.
func (s *Solo) tick() bool {
	w := s.worker

	token := s.env.signalToken(w.name)
	shouldCheck := w.forceMailboxCheck || token != w.lastToken
	var unread []teamfs.IndexedMail
	if shouldCheck {
		s.refreshConfig()
		unread = s.env.loadUnread(w, WorkerMailboxBatch)
		w.forceMailboxCheck = false
		w.lastToken = token
		if len(unread) >= WorkerMailboxBatch {
			w.forceMailboxCheck = true
		}
	}

	if len(unread) > 0 {
		shouldShutdown, work := s.env.handleControlMessages(w, s.cfg, unread)

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
		s.env.markIndexesRead(w, immediateAck)

		if shouldShutdown {
			actionableIndexes := make([]int, 0, len(actionable))
			for idx := range actionable {
				actionableIndexes = append(actionableIndexes, idx)
			}
			s.env.markIndexesRead(w, actionableIndexes)
			return true
		}

		lateAck := w.enqueueWork(work)
		mergeCollabTargets(w.collabTargets, collectCollabTargets(work, w.name))
		s.env.markIndexesRead(w, lateAck)
		if len(work) > 0 {
			w.lastActivity = util.NowMillis()
		}
	}

	if len(w.pendingTexts) > 0 {
		lines, indexes := w.popPromptBatch()
		if len(lines) > 0 {
			prompt := w.promptPrefix + "\n\n" + strings.Join(lines, "\n")
			exitCode, runOut := codex.Run(w.invocation(s.opts.CodexBin, prompt), w.cwd)
			s.publishResult(exitCode, runOut)
			s.env.markIndexesRead(w, indexes)
		}
	}

	now := util.NowMillis()
	if now-w.lastActivity >= int64(s.opts.IdleMs) && now-w.lastIdleSent >= int64(s.opts.IdleMs) {
		s.env.sendIdle(s.cfg, w.name)
		s.env.busSend(w.name, s.lead, "status", "idle notification sent")
		w.lastIdleSent = now
	}

	return false
}

// refreshConfig re-reads the team config; a lead handoff rebuilds the
// context prompt.
func (s *Solo) refreshConfig() {
	latest, err := s.fs.LoadConfig()
	if err != nil || latest == nil {
		return
	}
	latestLead := latest.LeadName()
	if latestLead != "" && latestLead != s.lead {
		s.lead = latestLead
		s.worker.promptPrefix = buildTeamContextPrompt(s.opts.Agent, s.opts.Session,
			s.paths.Config(), s.paths.Tasks(), s.lead)
	}
	s.cfg = latest
}

// publishResult reports one blocking run to the lead and fans out the
// collaboration updates.
func (s *Solo) publishResult(exitCode int, runOut string) {
	w := s.worker
	summary := util.Summarize(runOut, SummaryLimit)
	if summary == "" {
		summary = "empty output"
	}
	kind := "status"
	body := fmt.Sprintf("processed prompt exit=%d summary=%s", exitCode, summary)
	if exitCode != 0 {
		kind = "blocker"
		body = fmt.Sprintf("codex exec failed exit=%d summary=%s", exitCode, summary)
	}

	if w.name != s.lead {
		s.env.busSend(w.name, s.lead, kind, body)
		tag := "work-update"
		if exitCode != 0 {
			tag = "work-blocker"
		}
		s.env.dispatch(s.cfg, teamfs.Dispatch{
			Type:      "message",
			Sender:    w.name,
			Recipient: s.lead,
			Text:      body,
			Summary:   tag,
		})
	}

	s.env.emitCollabUpdates(w, s.cfg, s.lead, body, exitCode)
	w.collabTargets = make(map[string]map[string]bool)
	w.lastActivity = util.NowMillis()
}

// sleepFor keeps the loop tight while work is queued or a re-scan is
// forced, and otherwise polls at the configured interval with a 100ms
// floor.
func (s *Solo) sleepFor() time.Duration {
	if len(s.worker.pendingTexts) > 0 || s.worker.forceMailboxCheck {
		return ActiveLoopSleep
	}
	idle := time.Duration(s.opts.PollMs) * time.Millisecond
	if idle < 100*time.Millisecond {
		idle = 100 * time.Millisecond
	}
	return idle
}
