package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/deskhand/internal/audit"
)

var (
	auditSince  string
	auditAction string
	auditActor  string
	auditResult string
	auditLimit  int
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditQueryCmd.Flags().StringVar(&auditSince, "since", "", "only entries after this time (RFC3339 or 2006-01-02)")
	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "filter by action")
	auditQueryCmd.Flags().StringVar(&auditActor, "actor", "", "filter by actor")
	auditQueryCmd.Flags().StringVar(&auditResult, "result", "", "filter by result")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Show audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		_, log := openVault(cfg)

		filter := audit.Filter{
			Action: auditAction,
			Actor:  auditActor,
			Result: auditResult,
			Limit:  auditLimit,
		}
		if auditSince != "" {
			t, err := parseTime(auditSince)
			if err != nil {
				return err
			}
			filter.Since = &t
		}

		entries, err := log.Query(filter)
		if err != nil {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-10s %-20s %-30s %s",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Result, e.Action, e.Target, e.Actor)
			if e.Error != "" {
				line += "  error=" + e.Error
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (use RFC3339 or 2006-01-02)", s)
}
