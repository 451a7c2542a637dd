package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexteams/codexteams/internal/teamfs"
)

var fsControlRequestCmd = &cobra.Command{
	Use:   "control-request",
	Short: "Open a control request and deliver its request message",
	RunE:  runFsControlRequest,
}

var fsControlRespondCmd = &cobra.Command{
	Use:   "control-respond",
	Short: "Resolve a pending control request",
	RunE:  runFsControlRespond,
}

var fsControlPendingCmd = &cobra.Command{
	Use:   "control-pending",
	Short: "List control requests addressed to an agent",
	RunE:  runFsControlPending,
}

var fsControlGetCmd = &cobra.Command{
	Use:   "control-get",
	Short: "Print one control request",
	RunE:  runFsControlGet,
}

var (
	fsCtrlType      string
	fsCtrlFrom      string
	fsCtrlTo        string
	fsCtrlBody      string
	fsCtrlSummary   string
	fsCtrlRequestID string

	fsCtrlRespID      string
	fsCtrlRespFrom    string
	fsCtrlRespApprove bool
	fsCtrlRespReject  bool
	fsCtrlRespBody    string
	fsCtrlRespTo      string
	fsCtrlRespReqType string

	fsCtrlPendingAgent string
	fsCtrlPendingAll   bool
	fsCtrlPendingLimit int
	fsCtrlPendingJSON  bool

	fsCtrlGetID   string
	fsCtrlGetJSON bool
)

func init() {
	fsControlRequestCmd.Flags().StringVar(&fsCtrlType, "type", "", "Control type: plan_approval, shutdown, permission, mode_set")
	fsControlRequestCmd.Flags().StringVar(&fsCtrlFrom, "from", "", "Requesting agent")
	fsControlRequestCmd.Flags().StringVar(&fsCtrlTo, "to", "", "Deciding agent")
	fsControlRequestCmd.Flags().StringVar(&fsCtrlBody, "body", "", "Request body")
	fsControlRequestCmd.Flags().StringVar(&fsCtrlSummary, "summary", "", "Short request summary")
	fsControlRequestCmd.Flags().StringVar(&fsCtrlRequestID, "request-id", "", "Request id (generated when empty)")
	_ = fsControlRequestCmd.MarkFlagRequired("type")
	_ = fsControlRequestCmd.MarkFlagRequired("from")
	_ = fsControlRequestCmd.MarkFlagRequired("to")
	_ = fsControlRequestCmd.MarkFlagRequired("body")

	fsControlRespondCmd.Flags().StringVar(&fsCtrlRespID, "request-id", "", "Request id to resolve")
	fsControlRespondCmd.Flags().StringVar(&fsCtrlRespFrom, "from", "", "Responding agent")
	fsControlRespondCmd.Flags().BoolVar(&fsCtrlRespApprove, "approve", false, "Approve the request")
	fsControlRespondCmd.Flags().BoolVar(&fsCtrlRespReject, "reject", false, "Reject the request")
	fsControlRespondCmd.Flags().StringVar(&fsCtrlRespBody, "body", "", "Response body")
	fsControlRespondCmd.Flags().StringVar(&fsCtrlRespTo, "to", "", "Response recipient override")
	fsControlRespondCmd.Flags().StringVar(&fsCtrlRespReqType, "req-type", "", "Request type override for unmirrored requests")
	_ = fsControlRespondCmd.MarkFlagRequired("request-id")
	_ = fsControlRespondCmd.MarkFlagRequired("from")

	fsControlPendingCmd.Flags().StringVar(&fsCtrlPendingAgent, "agent", "", "Recipient to list requests for")
	fsControlPendingCmd.Flags().BoolVar(&fsCtrlPendingAll, "all-status", false, "Include resolved requests")
	fsControlPendingCmd.Flags().IntVar(&fsCtrlPendingLimit, "limit", 100, "Maximum rows")
	fsControlPendingCmd.Flags().BoolVar(&fsCtrlPendingJSON, "json", false, "Emit JSON rows")
	_ = fsControlPendingCmd.MarkFlagRequired("agent")

	fsControlGetCmd.Flags().StringVar(&fsCtrlGetID, "request-id", "", "Request id")
	fsControlGetCmd.Flags().BoolVar(&fsCtrlGetJSON, "json", false, "Emit JSON")
	_ = fsControlGetCmd.MarkFlagRequired("request-id")
}

func runFsControlRequest(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	cfg, err := fsConfig(store)
	if err != nil {
		return err
	}
	rid, err := store.CreateControlRequest(cfg, fsCtrlType, fsCtrlFrom, fsCtrlTo, fsCtrlBody, fsCtrlSummary, fsCtrlRequestID)
	if err != nil {
		return err
	}
	fmt.Printf("request_id=%s\n", rid)
	return nil
}

func runFsControlRespond(cmd *cobra.Command, args []string) error {
	if err := exactlyOne("approve", fsCtrlRespApprove, "reject", fsCtrlRespReject); err != nil {
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
	body := fsCtrlRespBody
	if body == "" {
		if fsCtrlRespApprove {
			body = "approved"
		} else {
			body = "rejected"
		}
	}
	req, err := store.RespondControl(cfg, teamfs.ControlResponse{
		RequestID:         fsCtrlRespID,
		Responder:         fsCtrlRespFrom,
		Approve:           fsCtrlRespApprove,
		Body:              body,
		RecipientOverride: fsCtrlRespTo,
		ReqTypeOverride:   fsCtrlRespReqType,
	})
	if err != nil {
		return err
	}
	fmt.Printf("request_id=%s\n", req.RequestID)
	fmt.Printf("status=%s\n", req.Status)
	fmt.Printf("req_type=%s\n", req.ReqType)
	fmt.Printf("sender=%s\n", req.Sender)
	fmt.Printf("recipient=%s\n", req.Recipient)
	return nil
}

func runFsControlPending(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	rows, err := store.ListControlRequests(fsCtrlPendingAgent, fsCtrlPendingAll, fsCtrlPendingLimit)
	if err != nil {
		return fmt.Errorf("listing control requests: %w", err)
	}
	if fsCtrlPendingJSON {
		if rows == nil {
			rows = []teamfs.ControlRecord{}
		}
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("(no requests)")
		return nil
	}
	for _, r := range rows {
		fmt.Printf("request_id=%s type=%s from=%s to=%s status=%s created=%s\n",
			r.RequestID, r.ReqType, r.Sender, r.Recipient, r.Status, r.CreatedTS)
		fmt.Printf("body=%s\n", r.Body)
		if r.ResponseBody != "" {
			fmt.Printf("response=%s\n", r.ResponseBody)
		}
	}
	return nil
}

func runFsControlGet(cmd *cobra.Command, args []string) error {
	store, err := fsStore()
	if err != nil {
		return err
	}
	req, err := store.GetControlRequest(fsCtrlGetID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("request not found: %s", fsCtrlGetID)
	}
	if fsCtrlGetJSON {
		return printJSON(req)
	}
	fmt.Printf("request_id=%s\n", req.RequestID)
	fmt.Printf("req_type=%s\n", req.ReqType)
	fmt.Printf("sender=%s\n", req.Sender)
	fmt.Printf("recipient=%s\n", req.Recipient)
	fmt.Printf("status=%s\n", req.Status)
	fmt.Printf("created_ts=%s\n", req.CreatedTS)
	fmt.Printf("updated_ts=%s\n", req.UpdatedTS)
	fmt.Printf("body=%s\n", req.Body)
	fmt.Printf("response_body=%s\n", req.ResponseBody)
	return nil
}
