package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/bus"
)

var busControlRequestCmd = &cobra.Command{
	Use:   "control-request",
	Short: "Open a control request and send its paired request message",
	RunE:  runBusControlRequest,
}

var busControlRespondCmd = &cobra.Command{
	Use:   "control-respond",
	Short: "Resolve a pending control request with approve or reject",
	RunE:  runBusControlRespond,
}

var busControlPendingCmd = &cobra.Command{
	Use:   "control-pending",
	Short: "List control requests for a room",
	RunE:  runBusControlPending,
}

var (
	busCtrlReqType    string
	busCtrlReqFrom    string
	busCtrlReqTo      string
	busCtrlReqBody    string
	busCtrlReqSummary string
	busCtrlReqID      string
	busCtrlReqPrintID bool

	busCtrlRespID      string
	busCtrlRespFrom    string
	busCtrlRespApprove bool
	busCtrlRespReject  bool
	busCtrlRespBody    string

	busCtrlPendingTo    string
	busCtrlPendingAll   bool
	busCtrlPendingLimit int
	busCtrlPendingJSON  bool
)

func init() {
	busControlRequestCmd.Flags().StringVar(&busCtrlReqType, "type", "", "Control type: plan_approval, shutdown, permission, mode_set")
	busControlRequestCmd.Flags().StringVar(&busCtrlReqFrom, "from", "", "Requesting agent")
	busControlRequestCmd.Flags().StringVar(&busCtrlReqTo, "to", "", "Deciding agent")
	busControlRequestCmd.Flags().StringVar(&busCtrlReqBody, "body", "", "Request body")
	busControlRequestCmd.Flags().StringVar(&busCtrlReqSummary, "summary", "", "Short request summary")
	busControlRequestCmd.Flags().StringVar(&busCtrlReqID, "request-id", "", "Request id (generated when empty)")
	busControlRequestCmd.Flags().BoolVar(&busCtrlReqPrintID, "print-id", false, "Print only the request id")
	_ = busControlRequestCmd.MarkFlagRequired("type")
	_ = busControlRequestCmd.MarkFlagRequired("from")
	_ = busControlRequestCmd.MarkFlagRequired("to")

	busControlRespondCmd.Flags().StringVar(&busCtrlRespID, "request-id", "", "Request id to resolve")
	busControlRespondCmd.Flags().StringVar(&busCtrlRespFrom, "from", "", "Responding agent")
	busControlRespondCmd.Flags().BoolVar(&busCtrlRespApprove, "approve", false, "Approve the request")
	busControlRespondCmd.Flags().BoolVar(&busCtrlRespReject, "reject", false, "Reject the request")
	busControlRespondCmd.Flags().StringVar(&busCtrlRespBody, "body", "", "Response body")
	_ = busControlRespondCmd.MarkFlagRequired("request-id")
	_ = busControlRespondCmd.MarkFlagRequired("from")

	busControlPendingCmd.Flags().StringVar(&busCtrlPendingTo, "to", "", "Only requests addressed to this agent")
	busControlPendingCmd.Flags().BoolVar(&busCtrlPendingAll, "all-status", false, "Include resolved requests")
	busControlPendingCmd.Flags().IntVar(&busCtrlPendingLimit, "limit", 50, "Maximum rows")
	busControlPendingCmd.Flags().BoolVar(&busCtrlPendingJSON, "json", false, "Emit JSON rows")
}

func runBusControlRequest(cmd *cobra.Command, args []string) error {
	reqType, err := bus.NormalizeControlType(busCtrlReqType)
	if err != nil {
		return err
	}
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	rid, err := store.CreateControlRequest(busRoom, reqType, busCtrlReqFrom, busCtrlReqTo, busCtrlReqBody, busCtrlReqSummary, busCtrlReqID)
	if err != nil {
		return fmt.Errorf("creating control request: %w", err)
	}
	if busCtrlReqPrintID {
		fmt.Println(rid)
		return nil
	}
	fmt.Printf("control request %s type=%s %s -> %s\n", rid, reqType, busCtrlReqFrom, busCtrlReqTo)
	return nil
}

func runBusControlRespond(cmd *cobra.Command, args []string) error {
	if err := exactlyOne("approve", busCtrlRespApprove, "reject", busCtrlRespReject); err != nil {
		return err
	}
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	req, err := store.RespondControlRequest(busCtrlRespID, busCtrlRespFrom, busCtrlRespApprove, busCtrlRespBody)
	if err != nil {
		return fmt.Errorf("responding to control request: %w", err)
	}
	fmt.Printf("control request %s %s\n", req.RequestID, req.Status)
	return nil
}

func runBusControlPending(cmd *cobra.Command, args []string) error {
	store, err := openBus()
	if err != nil {
		return err
	}
	defer store.Close()

	reqs, err := store.ListControlRequests(busRoom, busCtrlPendingTo, busCtrlPendingAll, busCtrlPendingLimit)
	if err != nil {
		return fmt.Errorf("listing control requests: %w", err)
	}
	if busCtrlPendingJSON {
		return printJSON(reqs)
	}
	for _, r := range reqs {
		fmt.Printf("%s %s [%s] %s -> %s: %s\n", r.RequestID, r.Status, r.ReqType, r.Sender, r.Recipient, r.Body)
	}
	return nil
}
