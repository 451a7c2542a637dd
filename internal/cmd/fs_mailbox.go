package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/teamfs"
	"github.com/codexteams/codexteams/internal/util"
)

var fsMailboxWriteCmd = &cobra.Command{
	Use:   "mailbox-write",
	Short: "Append a raw message to an agent's mailbox",
	RunE:  runFsMailboxWrite,
}

var fsMailboxReadCmd = &cobra.Command{
	Use:   "mailbox-read",
	Short: "Print an agent's mailbox entries",
	RunE:  runFsMailboxRead,
}

var fsMailboxMarkReadCmd = &cobra.Command{
	Use:   "mailbox-mark-read",
	Short: "Mark mailbox entries read by index or all at once",
	RunE:  runFsMailboxMarkRead,
}

var fsMailboxFormatCmd = &cobra.Command{
	Use:   "mailbox-format",
	Short: "Render mailbox entries as teammate-message lines",
	RunE:  runFsMailboxFormat,
}

var fsDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver a typed message to a member or broadcast to all",
	RunE:  runFsDispatch,
}

var fsSendToLeadCmd = &cobra.Command{
	Use:   "send-to-lead",
	Short: "Write a plain message into the lead's mailbox",
	RunE:  runFsSendToLead,
}

var fsSendIdleCmd = &cobra.Command{
	Use:   "send-idle",
	Short: "Notify the lead that an agent has gone idle",
	RunE:  runFsSendIdle,
}

var fsInboxPollCmd = &cobra.Command{
	Use:   "inbox-poll",
	Short: "Queue unread mailbox entries into the state inbox",
	RunE:  runFsInboxPoll,
}

var (
	fsMailAgent     string
	fsMailFrom      string
	fsMailText      string
	fsMailSummary   string
	fsMailColor     string
	fsMailType      string
	fsMailRequestID string
	fsMailApprove   string
	fsMailMeta      string

	fsMailReadAgent  string
	fsMailReadUnread bool
	fsMailReadLimit  int
	fsMailReadJSON   bool

	fsMailMarkAgent   string
	fsMailMarkIndexes []int
	fsMailMarkAll     bool

	fsMailFmtAgent  string
	fsMailFmtUnread bool
	fsMailFmtLimit  int

	fsDispatchType      string
	fsDispatchFrom      string
	fsDispatchRecipient string
	fsDispatchContent   string
	fsDispatchSummary   string
	fsDispatchRequestID string
	fsDispatchApprove   string
	fsDispatchMeta      string

	fsLeadFrom    string
	fsLeadText    string
	fsLeadSummary string
	fsLeadColor   string

	fsIdleAgent string

	fsPollAgent    string
	fsPollLimit    int
	fsPollMarkRead bool
	fsPollJSON     bool
)

func init() {
	fsMailboxWriteCmd.Flags().StringVar(&fsMailAgent, "agent", "", "Mailbox owner")
	fsMailboxWriteCmd.Flags().StringVar(&fsMailFrom, "from", "", "Sender name")
	fsMailboxWriteCmd.Flags().StringVar(&fsMailText, "text", "", "Message text")
	fsMailboxWriteCmd.Flags().StringVar(&fsMailSummary, "summary", "", "Short summary")
	fsMailboxWriteCmd.Flags().StringVar(&fsMailColor, "color", "blue", "Sender color")
	fsMailboxWriteCmd.Flags().StringVar(&fsMailType, "type", "", "Message type")
	fsMailboxWriteCmd.Flags().StringVar(&fsMailRequestID, "request-id", "", "Control request id")
	fsMailboxWriteCmd.Flags().StringVar(&fsMailApprove, "approve", "", "Approval verdict: true or false")
	fsMailboxWriteCmd.Flags().StringVar(&fsMailMeta, "meta", "", "Meta JSON object")
	_ = fsMailboxWriteCmd.MarkFlagRequired("agent")
	_ = fsMailboxWriteCmd.MarkFlagRequired("from")
	_ = fsMailboxWriteCmd.MarkFlagRequired("text")
	_ = fsMailboxWriteCmd.MarkFlagRequired("type")

	fsMailboxReadCmd.Flags().StringVar(&fsMailReadAgent, "agent", "", "Mailbox owner")
	fsMailboxReadCmd.Flags().BoolVar(&fsMailReadUnread, "unread", false, "Only unread entries")
	fsMailboxReadCmd.Flags().IntVar(&fsMailReadLimit, "limit", 100, "Keep only the newest N entries")
	fsMailboxReadCmd.Flags().BoolVar(&fsMailReadJSON, "json", false, "Emit JSON rows")
	_ = fsMailboxReadCmd.MarkFlagRequired("agent")

	fsMailboxMarkReadCmd.Flags().StringVar(&fsMailMarkAgent, "agent", "", "Mailbox owner")
	fsMailboxMarkReadCmd.Flags().IntSliceVar(&fsMailMarkIndexes, "index", nil, "Mailbox index (repeatable)")
	fsMailboxMarkReadCmd.Flags().BoolVar(&fsMailMarkAll, "all", false, "Mark every entry read")
	_ = fsMailboxMarkReadCmd.MarkFlagRequired("agent")

	fsMailboxFormatCmd.Flags().StringVar(&fsMailFmtAgent, "agent", "", "Mailbox owner")
	fsMailboxFormatCmd.Flags().BoolVar(&fsMailFmtUnread, "unread", false, "Only unread entries")
	fsMailboxFormatCmd.Flags().IntVar(&fsMailFmtLimit, "limit", 100, "Keep only the newest N entries")
	_ = fsMailboxFormatCmd.MarkFlagRequired("agent")

	fsDispatchCmd.Flags().StringVar(&fsDispatchType, "type", "", "Message type")
	fsDispatchCmd.Flags().StringVar(&fsDispatchFrom, "from", "", "Sender name")
	fsDispatchCmd.Flags().StringVar(&fsDispatchRecipient, "recipient", "", "Recipient name (unused for broadcast)")
	fsDispatchCmd.Flags().StringVar(&fsDispatchContent, "content", "", "Message text")
	fsDispatchCmd.Flags().StringVar(&fsDispatchSummary, "summary", "", "Short summary")
	fsDispatchCmd.Flags().StringVar(&fsDispatchRequestID, "request-id", "", "Control request id")
	fsDispatchCmd.Flags().StringVar(&fsDispatchApprove, "approve", "", "Approval verdict: true or false")
	fsDispatchCmd.Flags().StringVar(&fsDispatchMeta, "meta", "", "Meta JSON object")
	_ = fsDispatchCmd.MarkFlagRequired("type")
	_ = fsDispatchCmd.MarkFlagRequired("from")
	_ = fsDispatchCmd.MarkFlagRequired("content")

	fsSendToLeadCmd.Flags().StringVar(&fsLeadFrom, "from", "", "Sender name")
	fsSendToLeadCmd.Flags().StringVar(&fsLeadText, "text", "", "Message text")
	fsSendToLeadCmd.Flags().StringVar(&fsLeadSummary, "summary", "", "Short summary")
	fsSendToLeadCmd.Flags().StringVar(&fsLeadColor, "color", "blue", "Sender color")
	_ = fsSendToLeadCmd.MarkFlagRequired("from")
	_ = fsSendToLeadCmd.MarkFlagRequired("text")

	fsSendIdleCmd.Flags().StringVar(&fsIdleAgent, "agent", "", "Idle agent name")
	_ = fsSendIdleCmd.MarkFlagRequired("agent")

	fsInboxPollCmd.Flags().StringVar(&fsPollAgent, "agent", "", "Mailbox owner")
	fsInboxPollCmd.Flags().IntVar(&fsPollLimit, "limit", 100, "Maximum entries to queue")
	fsInboxPollCmd.Flags().BoolVar(&fsPollMarkRead, "mark-read", false, "Mark the queued entries read")
	fsInboxPollCmd.Flags().BoolVar(&fsPollJSON, "json", false, "Emit JSON rows")
	_ = fsInboxPollCmd.MarkFlagRequired("agent")
}

// parseLooseBool accepts the value forms the original tools emitted.
func parseLooseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// optionalBool maps an unset string flag to nil and anything else to a
// parsed verdict.
func optionalBool(cmd *cobra.Command, name, raw string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v := parseLooseBool(raw)
	return &v
}

// printDelivered emits the {"delivered": [...]} line shared by the
// delivery commands.
func printDelivered(delivered []string) error {
	if delivered == nil {
		delivered = []string{}
	}
	out, err := json.Marshal(map[string][]string{"delivered": delivered})
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runFsMailboxWrite(cmd *cobra.Command, args []string) error {
	meta, err := decodeMeta(fsMailMeta)
	if err != nil {
		return err
	}
	store, err := fsStore()
	if err != nil {
		return err
	}
	msg := teamfs.MailMessage{
		Type:      fsMailType,
		From:      fsMailFrom,
		Text:      fsMailText,
		Summary:   fsMailSummary,
		Timestamp: util.UTCTimestampMillis(),
		Color:     fsMailColor,
		Read:      false,
		RequestID: fsMailRequestID,
		Approve:   optionalBool(cmd, "approve", fsMailApprove),
		Meta:      meta,
	}
	idx, err := store.AppendMail(fsMailAgent, msg)
	if err != nil {
		return fmt.Errorf("writing mailbox: %w", err)
	}
	fmt.Printf("mailbox_index=%d\n", idx)
	return nil
}

// mailboxRow flattens an indexed entry for JSON output.
type mailboxRow struct {
	Index int `json:"index"`
	teamfs.MailMessage
}

func runFsMailboxRead(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	rows, err := store.ReadIndexed(fsMailReadAgent, teamfs.ReadOptions{
		UnreadOnly: fsMailReadUnread,
		Limit:      fsMailReadLimit,
	})
	if err != nil {
		return fmt.Errorf("reading mailbox: %w", err)
	}
	if fsMailReadJSON {
		out := make([]mailboxRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, mailboxRow{Index: r.Index, MailMessage: r.Message})
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}
	for _, r := range rows {
		fmt.Printf("[%04d] read=%t type=%s from=%s summary=%s text=%s\n",
			r.Index, r.Message.Read, r.Message.Type, r.Message.From,
			r.Message.Summary, r.Message.Text)
	}
	return nil
}

func runFsMailboxMarkRead(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	changed, err := store.MarkRead(fsMailMarkAgent, fsMailMarkIndexes, fsMailMarkAll)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	fmt.Printf("marked=%d\n", changed)
	return nil
}

func runFsMailboxFormat(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	rows, err := store.ReadIndexed(fsMailFmtAgent, teamfs.ReadOptions{
		UnreadOnly: fsMailFmtUnread,
		Limit:      fsMailFmtLimit,
	})
	if err != nil {
		return fmt.Errorf("reading mailbox: %w", err)
	}
	msgs := make([]teamfs.MailMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.Message)
	}
	fmt.Println(teamfs.FormatMail(msgs))
	return nil
}

func runFsDispatch(cmd *cobra.Command, args []string) error {
	meta, err := decodeMeta(fsDispatchMeta)
	if err != nil {
		return err
	}
	store, err := fsStore()
	if err != nil {
		return err
	}
	cfg, err := fsConfig(store)
	if err != nil {
		return err
	}
	delivered, err := store.Dispatch(cfg, teamfs.Dispatch{
		Type:      fsDispatchType,
		Sender:    fsDispatchFrom,
		Recipient: fsDispatchRecipient,
		Text:      fsDispatchContent,
		Summary:   fsDispatchSummary,
		RequestID: fsDispatchRequestID,
		Approve:   optionalBool(cmd, "approve", fsDispatchApprove),
		Meta:      meta,
	})
	if err != nil {
		return err
	}
	return printDelivered(delivered)
}

func runFsSendToLead(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	cfg, err := fsConfig(store)
	if err != nil {
		return err
	}
	delivered, err := store.SendToLead(cfg, fsLeadFrom, fsLeadText, fsLeadSummary, fsLeadColor)
	if err != nil {
		return fmt.Errorf("sending to lead: %w", err)
	}
	return printDelivered(delivered)
}

func runFsSendIdle(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	cfg, err := fsConfig(store)
	if err != nil {
		return err
	}
	delivered, err := store.SendIdle(cfg, fsIdleAgent)
	if err != nil {
		return fmt.Errorf("sending idle notification: %w", err)
	}
	return printDelivered(delivered)
}

func runFsInboxPoll(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	items, err := store.InboxPoll(fsPollAgent, fsPollLimit, fsPollMarkRead)
	if err != nil {
		return fmt.Errorf("polling inbox: %w", err)
	}
	if fsPollJSON {
		if items == nil {
			items = []teamfs.PolledItem{}
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(items)
	}
	for _, it := range items {
		fmt.Printf("queued mailbox_index=%d type=%s from=%s summary=%s\n",
			it.MailboxIndex, it.Message.Type, it.Message.From, it.Message.Summary)
	}
	return nil
}
