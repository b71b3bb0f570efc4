package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deskhand/internal/recovery"
	"github.com/user/deskhand/internal/types"
)

var quarantineReason string

func init() {
	rootCmd.AddCommand(recoveryCmd)
	recoveryCmd.AddCommand(recoveryListCmd, recoveryRetryCmd, recoveryQuarantineCmd, recoveryHealthCmd)
	recoveryQuarantineCmd.Flags().StringVar(&quarantineReason, "reason", "manual quarantine", "why the record is being isolated")
}

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Inspect and drive the resilience layer",
}

var recoveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued recovery entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, log := openVault(cfg)
		queue := recovery.NewQueue(store, log, types.AgentID(cfg.AgentID))

		entries, err := queue.List(context.Background())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stdout, "Recovery queue is empty.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OPERATION\tACTION\tCATEGORY\tRETRIES\tNEXT ELIGIBLE\tLAST ERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				e.OperationID, e.Action, e.Category, e.RetryCount,
				e.NextEligible.Format("2006-01-02 15:04:05"), e.LastError)
		}
		return w.Flush()
	},
}

var recoveryRetryCmd = &cobra.Command{
	Use:   "retry <operation-id>",
	Short: "Make a queued entry immediately eligible for retry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, log := openVault(cfg)
		queue := recovery.NewQueue(store, log, types.AgentID(cfg.AgentID))
		ctx := context.Background()

		entry, err := queue.Get(ctx, types.OperationID(args[0]))
		if err != nil {
			return err
		}
		// A zero-delay policy makes the next-eligible time "now".
		if err := queue.Reschedule(ctx, entry, 0, nil, &recovery.BackoffPolicy{}); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Entry %s is now eligible; the daemon retries it on its next tick.\n", args[0])
		return nil
	},
}

var recoveryQuarantineCmd = &cobra.Command{
	Use:   "quarantine <bucket/record>",
	Short: "Manually isolate a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, log := openVault(cfg)

		bucket, name := path.Split(args[0])
		bucket = strings.TrimSuffix(bucket, "/")
		if bucket == "" || name == "" {
			return fmt.Errorf("expected <bucket>/<record>, got %q", args[0])
		}

		alerts := recovery.NewAlerter(store)
		q := recovery.NewQuarantine(store, log, types.AgentID(cfg.AgentID), alerts)
		if err := q.Isolate(context.Background(), bucket, name, quarantineReason); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Quarantined %s.\n", args[0])
		return nil
	},
}

var recoveryHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run a functional health check now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, _ := openVault(cfg)

		checker := recovery.NewHealthChecker(store, nil)
		report, err := checker.Check(context.Background())
		if err != nil {
			return err
		}
		status := "healthy"
		if !report.Healthy {
			status = "UNHEALTHY"
		}
		fmt.Fprintf(os.Stdout, "Status: %s\n", status)
		fmt.Fprintf(os.Stdout, "Store writable: %v\n", report.StoreWritable)
		fmt.Fprintf(os.Stdout, "Incoming backlog: %d\n", report.IncomingBacklog)
		fmt.Fprintf(os.Stdout, "Recovery queue: %d\n", report.QueueDepth)
		fmt.Fprintf(os.Stdout, "Quarantine: %d\n", report.QuarantineCount)
		fmt.Fprintf(os.Stdout, "Active loops: %d\n", report.ActiveLoops)
		fmt.Fprintf(os.Stdout, "Pending approvals: %d\n", report.PendingApprovals)
		for _, p := range report.Problems {
			fmt.Fprintf(os.Stdout, "Problem: %s\n", p)
		}
		if !report.Healthy {
			return fmt.Errorf("health check reported problems")
		}
		return nil
	},
}
