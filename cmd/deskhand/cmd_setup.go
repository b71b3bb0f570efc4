package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/deskhand/internal/config"
	"github.com/user/deskhand/internal/vault"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Deskhand Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.VaultDir = prompt(scanner, "Vault directory", cfg.VaultDir)
		cfg.AgentID = prompt(scanner, "Agent identity", cfg.AgentID)
		cfg.Reasoner.BaseURL = prompt(scanner, "Reasoner base URL", cfg.Reasoner.BaseURL)
		cfg.Reasoner.APIKey = prompt(scanner, "Reasoner API key (optional)", cfg.Reasoner.APIKey)
		cfg.Reasoner.Model = prompt(scanner, "Reasoner model name", cfg.Reasoner.Model)

		maxIterStr := prompt(scanner, "Loop max iterations", strconv.Itoa(cfg.Loop.MaxIterations))
		if n, err := strconv.Atoi(maxIterStr); err == nil && n > 0 {
			cfg.Loop.MaxIterations = n
		}

		cfg.Watch.DropDir = prompt(scanner, "Drop folder to watch (optional)", cfg.Watch.DropDir)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			chatStr := prompt(scanner, "Telegram chat id", strconv.FormatInt(cfg.Telegram.ChatID, 10))
			if id, err := strconv.ParseInt(chatStr, 10, 64); err == nil {
				cfg.Telegram.ChatID = id
			}
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		if err := vault.New(cfg.VaultDir).EnsureStructure(); err != nil {
			return fmt.Errorf("create vault structure: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		fmt.Println("Vault initialized at", cfg.VaultDir)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
