package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/style"
)

var busCmd = &cobra.Command{
	Use:     "bus",
	GroupID: GroupBus,
	Short:   "Room-log operations",
	RunE:    requireSubcommand,
	Long: `Operate on the append-only room log (SQLite).

The room log is the total-order record of team traffic: every message
is appended once and fanned out to per-recipient mailbox rows that
consumers read and mark. Control requests live here too, as a small
state machine next to the messages they produce.`,
}

var busInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the bus database and schema",
	RunE:  runBusInit,
}

var busRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an agent in a room (idempotent upsert)",
	RunE:  runBusRegister,
}

var busSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Append a message and fan it out to recipient mailboxes",
	RunE:  runBusSend,
}

var busTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print room messages, optionally following new ones",
	RunE:  runBusTail,
}

var busStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize a room: members, messages, pending control",
	RunE:  runBusStatus,
}

var busMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "List room members",
	RunE:  runBusMembers,
}

var (
	busRepo    string
	busSession string
	busDB      string
	busRoom    string

	busRegisterAgent  string
	busRegisterRole   string
	busRegisterStatus string

	busSendFrom    string
	busSendTo      string
	busSendKind    string
	busSendBody    string
	busSendMeta    string
	busSendPrintID bool

	busTailSinceID int64
	busTailViewer  string
	busTailAll     bool
	busTailLimit   int
	busTailFollow  bool
	busTailPollMs  int
	busTailJSON    bool

	busStatusJSON  bool
	busMembersOnly bool
	busMembersJSON bool
)

func init() {
	busCmd.PersistentFlags().StringVar(&busRepo, "repo", ".", "Repository root")
	busCmd.PersistentFlags().StringVar(&busSession, "session", "", "Team session name")
	busCmd.PersistentFlags().StringVar(&busDB, "db", "", "Bus database path (overrides --repo/--session)")
	busCmd.PersistentFlags().StringVar(&busRoom, "room", "main", "Room name")

	busRegisterCmd.Flags().StringVar(&busRegisterAgent, "agent", "", "Agent name")
	busRegisterCmd.Flags().StringVar(&busRegisterRole, "role", "member", "Member role")
	busRegisterCmd.Flags().StringVar(&busRegisterStatus, "status", "active", "Member status")
	_ = busRegisterCmd.MarkFlagRequired("agent")

	busSendCmd.Flags().StringVar(&busSendFrom, "from", "", "Sender agent name")
	busSendCmd.Flags().StringVar(&busSendTo, "to", "all", "Recipient agent name, or 'all' to broadcast")
	busSendCmd.Flags().StringVar(&busSendKind, "kind", "message", "Message kind")
	busSendCmd.Flags().StringVar(&busSendBody, "body", "", "Message body")
	busSendCmd.Flags().StringVar(&busSendMeta, "meta", "", "Meta JSON object")
	busSendCmd.Flags().BoolVar(&busSendPrintID, "print-id", false, "Print only the new message id")
	_ = busSendCmd.MarkFlagRequired("from")

	busTailCmd.Flags().Int64Var(&busTailSinceID, "since-id", 0, "Only messages with id greater than this")
	busTailCmd.Flags().StringVar(&busTailViewer, "viewer", "", "Restrict to messages visible to this agent")
	busTailCmd.Flags().BoolVar(&busTailAll, "all", false, "Include messages for every recipient")
	busTailCmd.Flags().IntVar(&busTailLimit, "limit", 50, "Maximum rows per fetch")
	busTailCmd.Flags().BoolVar(&busTailFollow, "follow", false, "Keep polling for new messages")
	busTailCmd.Flags().IntVar(&busTailPollMs, "poll-ms", 1000, "Poll interval for --follow")
	busTailCmd.Flags().BoolVar(&busTailJSON, "json", false, "Emit JSON rows")

	busStatusCmd.Flags().BoolVar(&busStatusJSON, "json", false, "Emit JSON")

	busMembersCmd.Flags().BoolVar(&busMembersOnly, "active", false, "Only active member names")
	busMembersCmd.Flags().BoolVar(&busMembersJSON, "json", false, "Emit JSON")

	busCmd.AddCommand(busInitCmd)
	busCmd.AddCommand(busRegisterCmd)
	busCmd.AddCommand(busSendCmd)
	busCmd.AddCommand(busTailCmd)
	busCmd.AddCommand(busStatusCmd)
	busCmd.AddCommand(busInboxCmd)
	busCmd.AddCommand(busMarkReadCmd)
	busCmd.AddCommand(busMembersCmd)
	busCmd.AddCommand(busControlRequestCmd)
	busCmd.AddCommand(busControlRespondCmd)
	busCmd.AddCommand(busControlPendingCmd)

	rootCmd.AddCommand(busCmd)
}

func runBusInit(cmd *cobra.Command, args []string) error {
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Printf("initialized bus at %s\n", store.Path())
	return nil
}

func runBusRegister(cmd *cobra.Command, args []string) error {
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.TouchMember(busRoom, busRegisterAgent, busRegisterRole, busRegisterStatus); err != nil {
		return fmt.Errorf("registering member: %w", err)
	}
	fmt.Printf("registered %s room=%s role=%s\n", busRegisterAgent, busRoom, busRegisterRole)
	return nil
}

func runBusSend(cmd *cobra.Command, args []string) error {
	meta, err := parseMetaJSON(busSendMeta)
	if err != nil {
		return err
	}
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	id, fanout, err := sendWithRetry(func() (int64, int64, error) {
		id, fanout, err := store.Send(busRoom, busSendFrom, busSendTo, busSendKind, busSendBody, meta)
		return id, int64(fanout), err
	})
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	if busSendPrintID {
		fmt.Println(id)
		return nil
	}
	fmt.Printf("sent message #%d fanout=%d\n", id, fanout)
	return nil
}

// kindColors styles tail output by message kind when stdout is a tty.
var kindColors = map[string]style.Color{
	"blocker":  style.Red,
	"question": style.Yellow,
	"answer":   style.Green,
	"task":     style.Blue,
	"status":   style.Cyan,
	"system":   style.Purple,
}

func renderTailLine(m bus.Message, styled bool) string {
	line := bus.RenderMessage(m)
	if !styled {
		return line
	}
	color, ok := kindColors[m.Kind]
	if !ok {
		return line
	}
	return style.Render(color, line)
}

func runBusTail(cmd *cobra.Command, args []string) error {
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	includeAll := busTailAll || busTailViewer == ""
	styled := !busTailJSON && stdoutIsTTY()
	sinceID := busTailSinceID

	for {
		msgs, err := store.FetchMessages(busRoom, sinceID, busTailViewer, includeAll, busTailLimit)
		if err != nil {
			return fmt.Errorf("fetching messages: %w", err)
		}
		for _, m := range msgs {
			if busTailJSON {
				if err := printJSON(m); err != nil {
					return err
				}
			} else {
				fmt.Println(renderTailLine(m, styled))
			}
			sinceID = m.ID
		}
		if !busTailFollow {
			return nil
		}
		time.Sleep(time.Duration(busTailPollMs) * time.Millisecond)
	}
}

func runBusStatus(cmd *cobra.Command, args []string) error {
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(busRoom)
	if err != nil {
		return fmt.Errorf("gathering stats: %w", err)
	}
	if busStatusJSON {
		return printJSON(st)
	}

	active := 0
	for _, m := range st.Members {
		if m.Status == "active" {
			active++
		}
	}
	pending := 0
	for _, p := range st.PendingControl {
		pending += p.Count
	}

	fmt.Printf("room: %s\n", busRoom)
	fmt.Printf("members: %d (active %d)\n", len(st.Members), active)
	fmt.Printf("messages: %d (last id %d)\n", st.TotalMessages, st.LastID)
	fmt.Printf("pending control requests: %d\n", pending)
	for _, p := range st.UnreadCounts {
		fmt.Printf("unread %s: %d\n", p.Name, p.Count)
	}
	return nil
}

func runBusMembers(cmd *cobra.Command, args []string) error {
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	if busMembersOnly {
		names, err := store.ActiveMembers(busRoom)
		if err != nil {
			return fmt.Errorf("listing members: %w", err)
		}
		if busMembersJSON {
			return printJSON(names)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	members, err := store.Members(busRoom)
	if err != nil {
		return fmt.Errorf("listing members: %w", err)
	}
	if busMembersJSON {
		return printJSON(members)
	}
	for _, m := range members {
		fmt.Printf("%s role=%s status=%s last_seen=%s\n", m.Agent, m.Role, m.Status, m.LastSeenTS)
	}
	return nil
}
