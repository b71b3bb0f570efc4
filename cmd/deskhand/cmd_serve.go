package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/deskhand/internal/approval"
	"github.com/user/deskhand/internal/claim"
	"github.com/user/deskhand/internal/ingest"
	"github.com/user/deskhand/internal/loop"
	"github.com/user/deskhand/internal/notify"
	"github.com/user/deskhand/internal/orchestrator"
	"github.com/user/deskhand/internal/plan"
	"github.com/user/deskhand/internal/recovery"
	"github.com/user/deskhand/internal/scheduler"
	"github.com/user/deskhand/internal/skill"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
	"github.com/user/deskhand/pkg/llm"
	"github.com/user/deskhand/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deskhand daemon",
	RunE:  runServe,
}

func writePIDFile(vaultDir string) (string, error) {
	pidPath := filepath.Join(vaultDir, "deskhand.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	store, auditLog := openVault(cfg)
	if err := store.EnsureStructure(); err != nil {
		return fmt.Errorf("prepare vault: %w", err)
	}

	pidPath, err := writePIDFile(cfg.VaultDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	agent := types.AgentID(cfg.AgentID)
	claims := claim.NewManager(store, agent, auditLog)

	// Reasoner (optional; templates carry planning without it)
	var provider llm.Provider
	var reasoner types.Reasoner
	if cfg.Reasoner.APIKey != "" {
		provider = openai.New(&llm.Config{
			BaseURL:     cfg.Reasoner.BaseURL,
			APIKey:      cfg.Reasoner.APIKey,
			Model:       cfg.Reasoner.Model,
			MaxTokens:   cfg.Reasoner.MaxTokens,
			Temperature: cfg.Reasoner.Temperature,
		})
		prompts, err := plan.NewPromptBuilder(cfg.Reasoner.Model, cfg.Reasoner.MaxContextTokens)
		if err != nil {
			return fmt.Errorf("create prompt builder: %w", err)
		}
		reasoner = plan.NewLLMReasoner(provider, prompts,
			cfg.Reasoner.MaxCallsPerMinute,
			time.Duration(cfg.Reasoner.TimeoutSeconds)*time.Second)
	} else {
		slog.Warn("reasoner disabled (no API key), plans use templates only")
	}

	// Operator-supplied background for the reasoner, if present.
	contextText := ""
	if data, err := os.ReadFile(filepath.Join(cfg.VaultDir, "context.md")); err == nil {
		contextText = string(data)
	}

	plans := plan.NewGenerator(store, reasoner, auditLog, agent, contextText)
	gate := approval.NewGate(store, auditLog, agent)

	// Notifier
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		notifier = tg
		slog.Info("telegram notifier enabled")
	} else {
		slog.Warn("telegram notifier disabled (no token)")
	}

	// Resilience layer
	policy := &recovery.BackoffPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      time.Duration(cfg.Retry.BaseDelay * float64(time.Second)),
		MaxDelay:       time.Duration(cfg.Retry.MaxDelay * float64(time.Second)),
		Kind:           recovery.BackoffKind(cfg.Retry.Backoff),
		JitterFraction: cfg.Retry.JitterFraction,
	}
	queue := recovery.NewQueue(store, auditLog, agent)
	alerts := recovery.NewAlerter(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alerts.Notify = func(ctx context.Context, alert *types.Alert) {
		notifier.Alert(ctx, alert)
	}
	quarantine := recovery.NewQuarantine(store, auditLog, agent, alerts)
	executor := recovery.NewExecutor(queue, quarantine, alerts, policy)
	health := recovery.NewHealthChecker(store, alerts)

	// Loop driver: each iteration hands the loop prompt to the reasoner
	// backend; without one, iterations record a stub so artifact-watched
	// loops can still complete.
	workFn := func(ctx context.Context, state *types.LoopState) (string, error) {
		if provider == nil {
			return "no reasoner configured; waiting on external progress", nil
		}
		prompt := state.Prompt
		if state.CompletionPromise != "" {
			prompt += fmt.Sprintf("\n\nWhen the task is fully complete, output <promise>%s</promise>.", state.CompletionPromise)
		}
		if n := len(state.Iterations); n > 0 {
			prompt += "\n\nPrevious attempt:\n" + state.Iterations[n-1].OutputPreview
		}
		resp, err := provider.Complete(ctx, []llm.Message{
			{Role: "system", Content: "You are an autonomous assistant working a task to completion, one bounded step per call."},
			{Role: "user", Content: prompt},
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
	loops := loop.NewDriver(store, gate, auditLog, agent, workFn,
		time.Duration(cfg.Loop.IterationPause)*time.Second)

	// Skills
	skills := skill.NewRegistry(skill.Recorder{})
	skills.Register(skill.DraftWriter{Dir: filepath.Join(cfg.VaultDir, "drafts")},
		"draft", "compose", "write a", "format")

	orch := orchestrator.New(orchestrator.Deps{
		Store:      store,
		Claims:     claims,
		Plans:      plans,
		Gate:       gate,
		Loops:      loops,
		Skills:     skills,
		Executor:   executor,
		Quarantine: quarantine,
		Health:     health,
		Notifier:   notifier,
		Log:        auditLog,
		Agent:      agent,
		Tick:       time.Duration(cfg.PollInterval) * time.Second,
		MaxWatch:   cfg.MaxWatchers,
	})

	if cfg.Watch.DropDir != "" {
		orch.AddWatcher(ingest.NewDropWatcher(store, auditLog, alerts, agent,
			cfg.Watch.DropDir, time.Duration(cfg.Watch.PollInterval)*time.Second))
	}

	// Maintenance scheduler
	notifiedEscalations := map[string]bool{}
	sched := scheduler.New(
		scheduler.Job{Name: "health_check", Schedule: cfg.Schedules.HealthCheck, Run: func() {
			if _, err := health.Check(ctx); err != nil {
				slog.Error("health check failed", "error", err)
			}
		}},
		scheduler.Job{Name: "status_snapshot", Schedule: cfg.Schedules.StatusSnapshot, Run: func() {
			if err := orch.WriteStatus(ctx); err != nil {
				slog.Error("status snapshot failed", "error", err)
			}
		}},
		scheduler.Job{Name: "audit_archive", Schedule: cfg.Schedules.AuditArchive, Run: func() {
			n, err := auditLog.Archive(time.Duration(cfg.AuditRetentionDays) * 24 * time.Hour)
			if err != nil {
				slog.Error("audit archive failed", "error", err)
				return
			}
			slog.Info("audit archive done", "files", n)
		}},
		scheduler.Job{Name: "escalation_notify", Schedule: "@every 30s", Run: func() {
			names, err := store.List(ctx, vault.BucketEscalations)
			if err != nil {
				return
			}
			for _, name := range names {
				if notifiedEscalations[name] {
					continue
				}
				var esc types.Escalation
				if err := store.Get(ctx, vault.BucketEscalations, name, &esc); err != nil {
					continue
				}
				notifier.Escalation(ctx, &esc)
				notifiedEscalations[name] = true
			}
		}},
	)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Ingest HTTP server
	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: ingest.NewServer(store, auditLog, agent),
		}
		go func() {
			slog.Info("ingest server started", "listen", cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("ingest server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	go func() {
		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("orchestrator stopped", "error", err)
		}
	}()

	slog.Info("deskhand started",
		"vault_dir", cfg.VaultDir,
		"agent", cfg.AgentID,
		"log_level", cfg.LogLevel,
		"poll_interval", cfg.PollInterval,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.VaultDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
