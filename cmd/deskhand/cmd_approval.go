package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/deskhand/internal/approval"
	"github.com/user/deskhand/internal/types"
)

func init() {
	rootCmd.AddCommand(approvalCmd)
	approvalCmd.AddCommand(approvalListCmd, approveCmd, rejectCmd)
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rationale for the rejection (required)")
}

var rejectReason string

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Review pending approval requests",
}

func newGate() (*approval.Gate, error) {
	cfg := loadConfig()
	store, log := openVault(cfg)
	return approval.NewGate(store, log, types.AgentID(cfg.AgentID)), nil
}

var approvalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gate, err := newGate()
		if err != nil {
			return err
		}
		pending, err := gate.Pending(context.Background())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintln(os.Stdout, "No pending approvals.")
			return nil
		}
		for _, req := range pending {
			fmt.Fprintf(os.Stdout, "%s  [%s]  created %s\n%s\n",
				req.ID, req.Category, req.CreatedAt.Format("2006-01-02 15:04:05"), req.Context)
		}
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gate, err := newGate()
		if err != nil {
			return err
		}
		if err := gate.Decide(context.Background(), types.ApprovalID(args[0]), true, ""); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Approved %s. The daemon executes it on its next tick.\n", args[0])
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gate, err := newGate()
		if err != nil {
			return err
		}
		if err := gate.Decide(context.Background(), types.ApprovalID(args[0]), false, rejectReason); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Rejected %s.\n", args[0])
		return nil
	},
}
