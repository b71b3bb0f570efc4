package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deskhand/internal/claim"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

func init() {
	rootCmd.AddCommand(itemCmd, claimCmd)
	itemCmd.AddCommand(itemListCmd)
}

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Inspect work items",
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List incoming and in-progress work items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, _ := openVault(cfg)
		ctx := context.Background()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BUCKET\tID\tTYPE\tPRIORITY\tSOURCE")

		printBucket := func(bucket string) error {
			names, err := store.List(ctx, bucket)
			if err != nil {
				return err
			}
			for _, name := range names {
				if strings.HasSuffix(name, ".claim.json") {
					continue
				}
				var item types.WorkItem
				if err := store.Get(ctx, bucket, name, &item); err != nil {
					fmt.Fprintf(w, "%s\t%s\t<unreadable>\t\t\n", bucket, name)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					bucket, item.ID, item.Type, item.Priority, item.Source)
			}
			return nil
		}

		if err := printBucket(vault.BucketIncoming); err != nil {
			return err
		}
		agents, err := store.Subbuckets(ctx, vault.BucketInProgress)
		if err != nil {
			return err
		}
		for _, agent := range agents {
			if err := printBucket(vault.BucketInProgress + "/" + agent); err != nil {
				return err
			}
		}
		return w.Flush()
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim <item-record>",
	Short: "Claim an incoming work item for this agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, log := openVault(cfg)

		name := args[0]
		if !strings.HasSuffix(name, ".json") {
			name += ".json"
		}

		claims := claim.NewManager(store, types.AgentID(cfg.AgentID), log)
		record, err := claims.Claim(context.Background(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Claimed %s (item %s) at %s.\n",
			name, record.ItemID, record.ClaimedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}
