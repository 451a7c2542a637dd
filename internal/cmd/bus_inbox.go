package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/bus"
)

var busInboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Read an agent's fanout mailbox rows",
	RunE:  runBusInbox,
}

var busMarkReadCmd = &cobra.Command{
	Use:   "mark-read",
	Short: "Mark mailbox rows read by id, up to an id, or all",
	RunE:  runBusMarkRead,
}

var (
	busInboxAgent    string
	busInboxUnread   bool
	busInboxSinceID  int64
	busInboxLimit    int
	busInboxMarkRead bool
	busInboxJSON     bool

	busMarkReadAgent string
	busMarkReadIDs   []int64
	busMarkReadUpTo  int64
	busMarkReadAll   bool
)

func init() {
	busInboxCmd.Flags().StringVar(&busInboxAgent, "agent", "", "Agent whose mailbox to read")
	busInboxCmd.Flags().BoolVar(&busInboxUnread, "unread", false, "Only unread rows")
	busInboxCmd.Flags().Int64Var(&busInboxSinceID, "since-mailbox-id", 0, "Only rows with mailbox id greater than this")
	busInboxCmd.Flags().IntVar(&busInboxLimit, "limit", 50, "Maximum rows")
	busInboxCmd.Flags().BoolVar(&busInboxMarkRead, "mark-read", false, "Mark the printed rows read")
	busInboxCmd.Flags().BoolVar(&busInboxJSON, "json", false, "Emit JSON rows")
	_ = busInboxCmd.MarkFlagRequired("agent")

	busMarkReadCmd.Flags().StringVar(&busMarkReadAgent, "agent", "", "Agent whose mailbox to update")
	busMarkReadCmd.Flags().Int64SliceVar(&busMarkReadIDs, "id", nil, "Mailbox row id (repeatable)")
	busMarkReadCmd.Flags().Int64Var(&busMarkReadUpTo, "up-to", 0, "Mark every row with mailbox id at or below this")
	busMarkReadCmd.Flags().BoolVar(&busMarkReadAll, "all", false, "Mark every unread row")
	_ = busMarkReadCmd.MarkFlagRequired("agent")
}

func runBusInbox(cmd *cobra.Command, args []string) error {
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.FetchInbox(busRoom, busInboxAgent, busInboxUnread, busInboxSinceID, busInboxLimit)
	if err != nil {
		return fmt.Errorf("fetching inbox: %w", err)
	}
	for _, it := range items {
		if busInboxJSON {
			if err := printJSON(it); err != nil {
				return err
			}
		} else {
			fmt.Println(bus.RenderMailItem(it))
		}
	}
	if busInboxMarkRead && len(items) > 0 {
		ids := make([]int64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.MailboxID)
		}
		n, err := store.MarkReadIDs(busRoom, busInboxAgent, ids)
		if err != nil {
			return fmt.Errorf("marking read: %w", err)
		}
		if !busInboxJSON {
			fmt.Printf("marked %d read\n", n)
		}
	}
	return nil
}

func runBusMarkRead(cmd *cobra.Command, args []string) error {
	selectors := 0
	if len(busMarkReadIDs) > 0 {
		selectors++
	}
	if busMarkReadUpTo > 0 {
		selectors++
	}
	if busMarkReadAll {
		selectors++
	}
	if selectors != 1 {
		return fmt.Errorf("exactly one of --id, --up-to, or --all is required")
	}

	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	var n int64
	switch {
	case len(busMarkReadIDs) > 0:
		n, err = store.MarkReadIDs(busRoom, busMarkReadAgent, busMarkReadIDs)
	case busMarkReadUpTo > 0:
		n, err = store.MarkReadUpTo(busRoom, busMarkReadAgent, busMarkReadUpTo)
	default:
		n, err = store.MarkReadAll(busRoom, busMarkReadAgent)
	}
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	fmt.Printf("marked %d read\n", n)
	return nil
}
