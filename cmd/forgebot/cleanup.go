package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgebot/forgebot/pkg/config"
	"github.com/forgebot/forgebot/pkg/session"
	"github.com/forgebot/forgebot/pkg/worktree"
)

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove worktrees whose sessions no longer exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			sessions, err := session.NewManager(cfg.SessionDB)
			if err != nil {
				return fmt.Errorf("failed to open session store: %w", err)
			}
			defer sessions.Close()

			active, err := sessions.ActiveSessionIDs(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}

			worktrees := worktree.NewManager(cfg.WorktreeBaseDir(), cfg.Worktree.BranchPrefix)
			removed, err := worktrees.CleanupStale(cmd.Context(), cfg.Security.ApprovedRoot, active)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}

			fmt.Printf("Removed %d stale worktree(s)\n", removed)
			return nil
		},
	}
}
