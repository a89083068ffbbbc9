package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgebot/forgebot/pkg/agent"
	"github.com/forgebot/forgebot/pkg/bus"
	"github.com/forgebot/forgebot/pkg/channels"
	"github.com/forgebot/forgebot/pkg/config"
	"github.com/forgebot/forgebot/pkg/guard"
	"github.com/forgebot/forgebot/pkg/logger"
	"github.com/forgebot/forgebot/pkg/providers"
	"github.com/forgebot/forgebot/pkg/session"
	"github.com/forgebot/forgebot/pkg/tools"
	"github.com/forgebot/forgebot/pkg/worktree"
)

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if debug {
				logger.SetLevel(logger.DEBUG)
			} else {
				logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
			}
			if cfg.Logging.File != "" {
				if err := logger.EnableFileLogging(cfg.Logging.File); err != nil {
					return fmt.Errorf("failed to enable file logging: %w", err)
				}
			}

			return runBot(cmd.Context(), cfg)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runBot(parent context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sessions, err := session.NewManager(cfg.SessionDB)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	worktrees := worktree.NewManager(cfg.WorktreeBaseDir(), cfg.Worktree.BranchPrefix)
	monitor := guard.NewMonitor(guard.MonitorConfig{
		ApprovedRoot:          cfg.Security.ApprovedRoot,
		AllowedTools:          cfg.Security.AllowedTools,
		DisallowedTools:       cfg.Security.DisallowedTools,
		DisableToolValidation: cfg.Security.DisableToolValidation,
		AgenticMode:           cfg.Security.AgenticMode,
	}, guard.NewWorkspaceValidator(cfg.Security.ApprovedRoot))

	registry := tools.NewRegistry()
	execTimeout := time.Duration(cfg.Agent.ExecTimeout) * time.Second
	registry.Register(tools.NewExecTool(cfg.Security.ApprovedRoot, execTimeout))
	registry.Register(tools.NewReadFileTool(cfg.Security.ApprovedRoot))
	registry.Register(tools.NewWriteFileTool(cfg.Security.ApprovedRoot))
	registry.Register(tools.NewEditFileTool(cfg.Security.ApprovedRoot))

	provider := providers.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens)

	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	telegram, err := channels.NewTelegramChannel(cfg.Telegram, messageBus)
	if err != nil {
		return fmt.Errorf("failed to create telegram channel: %w", err)
	}
	if err := telegram.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telegram channel: %w", err)
	}
	defer telegram.Stop(context.Background())

	loop := agent.NewLoop(agent.Options{
		Bus:           messageBus,
		Provider:      provider,
		Registry:      registry,
		Monitor:       monitor,
		Sessions:      sessions,
		Worktrees:     worktrees,
		RepoPath:      cfg.Security.ApprovedRoot,
		MaxIterations: cfg.Agent.MaxToolIterations,
		MaxPerUser:    cfg.Worktree.MaxPerUser,
	})

	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorCF("main", "Agent loop exited", map[string]any{"error": err.Error()})
			cancel()
		}
	}()

	// Outbound dispatcher
	go func() {
		for {
			msg, ok := messageBus.ConsumeOutbound(ctx)
			if !ok {
				return
			}
			if err := telegram.Send(ctx, msg); err != nil {
				logger.ErrorCF("main", "Failed to send message", map[string]any{
					"chat_id": msg.ChatID,
					"error":   err.Error(),
				})
			}
		}
	}()

	logger.InfoCF("main", "forgebot started", map[string]any{
		"approved_root": cfg.Security.ApprovedRoot,
		"model":         cfg.LLM.Model,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.InfoC("main", "Shutting down...")
	case <-ctx.Done():
	}
	return nil
}
