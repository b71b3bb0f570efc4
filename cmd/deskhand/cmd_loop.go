package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deskhand/internal/approval"
	"github.com/user/deskhand/internal/loop"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

var (
	loopMaxIterations int
	loopPromise       string
	loopArtifact      string
	loopItem          string
)

func init() {
	rootCmd.AddCommand(loopCmd)
	loopCmd.AddCommand(loopStartCmd, loopStopCmd, loopStatusCmd, loopListCmd)
	loopStartCmd.Flags().IntVar(&loopMaxIterations, "max-iterations", 0, "iteration budget (0 uses the configured default)")
	loopStartCmd.Flags().StringVar(&loopPromise, "promise", "", "completion promise token")
	loopStartCmd.Flags().StringVar(&loopArtifact, "artifact", "", "watched artifact record name")
	loopStartCmd.Flags().StringVar(&loopItem, "item", "", "linked work item id")
}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Manage autonomous loops",
}

// newLoopDriver builds a driver for CLI inspection and control. The CLI
// never runs work units; the daemon does that.
func newLoopDriver() *loop.Driver {
	cfg := loadConfig()
	store, log := openVault(cfg)
	agent := types.AgentID(cfg.AgentID)
	gate := approval.NewGate(store, log, agent)
	return loop.NewDriver(store, gate, log, agent, nil, 0)
}

var loopStartCmd = &cobra.Command{
	Use:   "start <prompt>",
	Short: "Start a bounded autonomous loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if loopMaxIterations <= 0 {
			loopMaxIterations = cfg.Loop.MaxIterations
		}
		driver := newLoopDriver()
		state, err := driver.Start(context.Background(), loop.Options{
			ItemID:            types.ItemID(loopItem),
			Prompt:            args[0],
			MaxIterations:     loopMaxIterations,
			CompletionPromise: loopPromise,
			WatchArtifact:     loopArtifact,
			DoneBucket:        vault.BucketDone,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Started loop %s (max %d iterations).\n", state.ID, state.MaxIterations)
		return nil
	},
}

var loopStopCmd = &cobra.Command{
	Use:   "stop <loop-id>",
	Short: "Manually stop a running loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		driver := newLoopDriver()
		if err := driver.Stop(context.Background(), types.LoopID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Stopped loop %s.\n", args[0])
		return nil
	},
}

var loopStatusCmd = &cobra.Command{
	Use:   "status <loop-id>",
	Short: "Show a loop's state and recent iterations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		driver := newLoopDriver()
		state, err := driver.Get(context.Background(), types.LoopID(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Loop %s: %s (%d/%d iterations)\n",
			state.ID, state.Status, state.CurrentIteration, state.MaxIterations)
		fmt.Fprintf(os.Stdout, "Task: %s\n", state.Prompt)
		for _, it := range state.Iterations {
			fmt.Fprintf(os.Stdout, "  #%d %s  %s\n",
				it.Number, it.Timestamp.Format("15:04:05"), it.OutputPreview)
		}
		return nil
	},
}

var loopListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active loops",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, _ := openVault(cfg)
		ctx := context.Background()

		names, err := store.List(ctx, vault.BucketLoops)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tITERATIONS\tPROMPT")
		for _, name := range names {
			var state types.LoopState
			if err := store.Get(ctx, vault.BucketLoops, name, &state); err != nil {
				continue
			}
			prompt := state.Prompt
			if len(prompt) > 60 {
				prompt = prompt[:60] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n",
				state.ID, state.Status, state.CurrentIteration, state.MaxIterations, prompt)
		}
		return w.Flush()
	},
}
