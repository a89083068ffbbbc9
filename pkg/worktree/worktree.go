// Package worktree isolates agent sessions from each other by giving every
// session its own git worktree and branch. The filesystem and the git
// repository are the state of record; the manager keeps no in-memory state
// beyond a per-session lock table.
package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/forgebot/forgebot/pkg/logger"
)

// GitError reports a git invocation that exited non-zero. Infrastructure
// faults like this propagate as errors; they are never policy decisions.
type GitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s failed (rc=%d): %s", strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

// Manager creates and reclaims per-session git worktrees under a single base
// directory. Branches are named <prefix>/<sanitized session id>.
type Manager struct {
	baseDir      string
	branchPrefix string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(baseDir, branchPrefix string) *Manager {
	return &Manager{
		baseDir:      baseDir,
		branchPrefix: branchPrefix,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (m *Manager) BaseDir() string { return m.baseDir }

// runGit is the single subprocess primitive every operation goes through.
// The child inherits ctx cancellation, so an abandoned call does not leave
// a git process behind.
func (m *Manager) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &GitError{
				Args:     args,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// IsGitRepo reports whether path is inside a git repository.
func (m *Manager) IsGitRepo(ctx context.Context, path string) bool {
	_, err := m.runGit(ctx, path, "rev-parse", "--git-dir")
	return err == nil
}

// RepoRoot returns the top-level directory of the repository containing path.
func (m *Manager) RepoRoot(ctx context.Context, path string) (string, error) {
	return m.runGit(ctx, path, "rev-parse", "--show-toplevel")
}

// DefaultBranch detects the repository's default branch: origin/HEAD when a
// remote is configured, otherwise a local main or master, otherwise the
// literal "HEAD".
func (m *Manager) DefaultBranch(ctx context.Context, repoPath string) string {
	if ref, err := m.runGit(ctx, repoPath, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		if idx := strings.LastIndex(ref, "/"); idx >= 0 {
			return ref[idx+1:]
		}
		return ref
	}
	if _, err := m.runGit(ctx, repoPath, "rev-parse", "--verify", "main"); err == nil {
		return "main"
	}
	if _, err := m.runGit(ctx, repoPath, "rev-parse", "--verify", "master"); err == nil {
		return "master"
	}
	return "HEAD"
}

// sanitizeSessionID makes a session id safe for use as a directory and
// branch-name component. Session ids can be attacker-influenced.
func sanitizeSessionID(sessionID string) string {
	safe := strings.ReplaceAll(sessionID, "/", "_")
	return strings.ReplaceAll(safe, "..", "_")
}

// WorktreePath returns the filesystem path for a session's worktree.
func (m *Manager) WorktreePath(sessionID string) string {
	return filepath.Join(m.baseDir, sanitizeSessionID(sessionID))
}

// BranchName returns the branch backing a session's worktree.
func (m *Manager) BranchName(sessionID string) string {
	return m.branchPrefix + "/" + sanitizeSessionID(sessionID)
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sanitizeSessionID(sessionID)
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// Create makes a worktree for sessionID branched from baseBranch (or the
// repo's default branch when empty). Idempotent: an existing worktree
// directory is returned as-is. The exists-then-create window is serialized
// per session id, so two concurrent callers cannot both reach git worktree
// add for the same session.
func (m *Manager) Create(ctx context.Context, repoPath, sessionID, baseBranch string) (string, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	wtPath := m.WorktreePath(sessionID)
	branch := m.BranchName(sessionID)

	if _, err := os.Stat(wtPath); err == nil {
		logger.InfoCF("worktree", "Worktree already exists", map[string]any{
			"session_id": sessionID,
			"path":       wtPath,
		})
		return wtPath, nil
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create worktree base directory: %w", err)
	}

	if baseBranch == "" {
		baseBranch = m.DefaultBranch(ctx, repoPath)
	}

	logger.InfoCF("worktree", "Creating worktree", map[string]any{
		"session_id":  sessionID,
		"repo":        repoPath,
		"branch":      branch,
		"base_branch": baseBranch,
		"path":        wtPath,
	})

	if _, err := m.runGit(ctx, repoPath, "worktree", "add", "-b", branch, wtPath, baseBranch); err != nil {
		return "", err
	}

	return wtPath, nil
}

// Get returns the worktree path if it exists on disk. No git call is made.
func (m *Manager) Get(sessionID string) (string, bool) {
	wtPath := m.WorktreePath(sessionID)
	info, err := os.Stat(wtPath)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return wtPath, true
}

// GetOrCreate returns the existing worktree or creates a new one.
func (m *Manager) GetOrCreate(ctx context.Context, repoPath, sessionID, baseBranch string) (string, error) {
	if existing, ok := m.Get(sessionID); ok {
		return existing, nil
	}
	return m.Create(ctx, repoPath, sessionID, baseBranch)
}

// Remove deletes a session's worktree and branch. When git worktree remove
// fails (metadata already inconsistent), the directory is force-deleted and
// stale references pruned. Branch deletion is always best-effort: the branch
// may legitimately not exist.
func (m *Manager) Remove(ctx context.Context, repoPath, sessionID string) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	wtPath := m.WorktreePath(sessionID)
	branch := m.BranchName(sessionID)

	if _, err := os.Stat(wtPath); err == nil {
		logger.InfoCF("worktree", "Removing worktree", map[string]any{
			"session_id": sessionID,
			"path":       wtPath,
		})

		if _, err := m.runGit(ctx, repoPath, "worktree", "remove", "--force", wtPath); err != nil {
			logger.WarnCF("worktree", "git worktree remove failed, cleaning directory manually", map[string]any{
				"path":  wtPath,
				"error": err.Error(),
			})
			if rmErr := os.RemoveAll(wtPath); rmErr != nil {
				return fmt.Errorf("failed to remove worktree directory: %w", rmErr)
			}
			_, _ = m.runGit(ctx, repoPath, "worktree", "prune")
		}
	}

	_, _ = m.runGit(ctx, repoPath, "branch", "-D", branch)
	return nil
}

// List returns the paths of worktrees managed under the base directory.
// Worktrees elsewhere in the repository (a developer's manual worktree) are
// never reported, and so never touched by the staleness sweep.
func (m *Manager) List(ctx context.Context, repoPath string) []string {
	output, err := m.runGit(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil
	}

	var paths []string
	for _, line := range strings.Split(output, "\n") {
		wtPath, ok := strings.CutPrefix(line, "worktree ")
		if !ok {
			continue
		}
		if rel, err := filepath.Rel(m.baseDir, wtPath); err == nil && filepath.IsLocal(rel) {
			paths = append(paths, wtPath)
		}
	}
	return paths
}

// CleanupStale removes every managed worktree whose session id (its
// directory name) is not in activeSessionIDs, returning the number removed.
// Meant to be run periodically by an external scheduler.
func (m *Manager) CleanupStale(ctx context.Context, repoPath string, activeSessionIDs map[string]struct{}) (int, error) {
	if _, err := os.Stat(m.baseDir); err != nil {
		return 0, nil
	}

	removed := 0
	for _, wtPath := range m.List(ctx, repoPath) {
		sessionID := filepath.Base(wtPath)
		if _, active := activeSessionIDs[sessionID]; active {
			continue
		}
		logger.InfoCF("worktree", "Cleaning stale worktree", map[string]any{
			"session_id": sessionID,
			"path":       wtPath,
		})
		if err := m.Remove(ctx, repoPath, sessionID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// CountUserWorktrees counts how many of the given session ids currently have
// a worktree on disk.
func (m *Manager) CountUserWorktrees(userSessionIDs map[string]struct{}) int {
	count := 0
	for sessionID := range userSessionIDs {
		if _, ok := m.Get(sessionID); ok {
			count++
		}
	}
	return count
}
