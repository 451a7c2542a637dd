package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/teamfs"
)

var sendMessageCmd = &cobra.Command{
	Use:     "sendmessage",
	GroupID: GroupBus,
	Short:   "Deliver a message to a teammate's mailbox and the room log",
	Long: `Deliver a typed message to a teammate.

The message lands in the recipient's session mailbox (broadcast fans out
to every member except the sender) and is mirrored into the room log
when the session has one. This is the send verb agent prompts reference.`,
	RunE: runSendMessage,
}

var (
	sendMsgRepo      string
	sendMsgSession   string
	sendMsgRoom      string
	sendMsgType      string
	sendMsgFrom      string
	sendMsgTo        string
	sendMsgSummary   string
	sendMsgContent   string
	sendMsgRequestID string
	sendMsgApprove   string
	sendMsgMeta      string
)

func init() {
	sendMessageCmd.Flags().StringVar(&sendMsgRepo, "repo", ".", "Repository root")
	sendMessageCmd.Flags().StringVar(&sendMsgSession, "session", "", "Team session name")
	sendMessageCmd.Flags().StringVar(&sendMsgRoom, "room", "main", "Room name for the log mirror")
	sendMessageCmd.Flags().StringVar(&sendMsgType, "type", "", "Message type")
	sendMessageCmd.Flags().StringVar(&sendMsgFrom, "from", "", "Sender name")
	sendMessageCmd.Flags().StringVar(&sendMsgTo, "to", "", "Recipient name (unused for broadcast)")
	sendMessageCmd.Flags().StringVar(&sendMsgSummary, "summary", "", "Short summary")
	sendMessageCmd.Flags().StringVar(&sendMsgContent, "content", "", "Message text")
	sendMessageCmd.Flags().StringVar(&sendMsgRequestID, "request-id", "", "Control request id")
	sendMessageCmd.Flags().StringVar(&sendMsgApprove, "approve", "", "Approval verdict: true or false")
	sendMessageCmd.Flags().StringVar(&sendMsgMeta, "meta", "", "Meta JSON object")
	_ = sendMessageCmd.MarkFlagRequired("session")
	_ = sendMessageCmd.MarkFlagRequired("type")
	_ = sendMessageCmd.MarkFlagRequired("from")
	_ = sendMessageCmd.MarkFlagRequired("content")

	rootCmd.AddCommand(sendMessageCmd)
}

func runSendMessage(cmd *cobra.Command, args []string) error {
	meta, err := decodeMeta(sendMsgMeta)
	if err != nil {
		return err
	}
	store := teamfs.New(sendMsgRepo, sendMsgSession)
	cfg, err := store.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading team config: %w", err)
	}

	delivered, err := store.Dispatch(cfg, teamfs.Dispatch{
		Type:      sendMsgType,
		Sender:    sendMsgFrom,
		Recipient: sendMsgTo,
		Text:      sendMsgContent,
		Summary:   sendMsgSummary,
		RequestID: sendMsgRequestID,
		Approve:   optionalBool(cmd, "approve", sendMsgApprove),
		Meta:      meta,
	})
	if err != nil {
		return err
	}

	mirrorRoomLog(store, delivered)
	return printDelivered(delivered)
}

// mirrorRoomLog copies the delivery into the session's room log when one
// exists. The mailbox write is the delivery of record; a mirror failure
// must not fail the send.
func mirrorRoomLog(store *teamfs.Store, delivered []string) {
	dbPath := store.Paths().BusDB()
	if _, err := os.Stat(dbPath); err != nil {
		return
	}
	log, err := bus.Open(dbPath)
	if err != nil {
		return
	}
	defer log.Close()

	recipient := sendMsgTo
	if sendMsgType == "broadcast" || recipient == "" {
		recipient = "all"
	}
	meta := "{}"
	if sendMsgSummary != "" {
		meta = fmt.Sprintf(`{"summary":%q}`, sendMsgSummary)
	}
	_, _, _ = sendWithRetry(func() (int64, int64, error) {
		id, fanout, err := log.Send(sendMsgRoom, sendMsgFrom, recipient, sendMsgType, sendMsgContent, meta)
		return id, int64(fanout), err
	})
}
