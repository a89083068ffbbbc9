package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/forgebot/forgebot/pkg/bus"
	"github.com/forgebot/forgebot/pkg/guard"
	"github.com/forgebot/forgebot/pkg/logger"
	"github.com/forgebot/forgebot/pkg/providers"
	"github.com/forgebot/forgebot/pkg/session"
	"github.com/forgebot/forgebot/pkg/tools"
	"github.com/forgebot/forgebot/pkg/worktree"
)

const systemPrompt = `You are a coding assistant working inside an isolated git worktree.
Use the available tools to read, create, and edit files and to run shell commands.
All file paths are relative to your working directory. Stay inside it.`

// Loop consumes inbound messages, drives the model through tool
// iterations, and publishes replies. Every tool call passes through the
// guard monitor before execution.
type Loop struct {
	bus           *bus.MessageBus
	provider      providers.Provider
	registry      *tools.Registry
	monitor       *guard.Monitor
	sessions      *session.Manager
	worktrees     *worktree.Manager
	repoPath      string
	maxIterations int
	maxPerUser    int

	historyMu sync.Mutex
	history   map[string][]providers.Message
}

type Options struct {
	Bus           *bus.MessageBus
	Provider      providers.Provider
	Registry      *tools.Registry
	Monitor       *guard.Monitor
	Sessions      *session.Manager
	Worktrees     *worktree.Manager
	RepoPath      string
	MaxIterations int
	MaxPerUser    int
}

func NewLoop(opts Options) *Loop {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 20
	}
	return &Loop{
		bus:           opts.Bus,
		provider:      opts.Provider,
		registry:      opts.Registry,
		monitor:       opts.Monitor,
		sessions:      opts.Sessions,
		worktrees:     opts.Worktrees,
		repoPath:      opts.RepoPath,
		maxIterations: maxIterations,
		maxPerUser:    opts.MaxPerUser,
	}
}

// Run blocks until ctx is cancelled, processing one inbound message at
// a time so concurrent turns cannot race on the same worktree.
func (l *Loop) Run(ctx context.Context) error {
	logger.InfoC("agent", "Agent loop started")
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("agent", "Agent loop stopped")
			return ctx.Err()
		}

		reply, err := l.processMessage(ctx, msg)
		if err != nil {
			logger.ErrorCF("agent", "Message processing failed", map[string]any{
				"scope": msg.Scope,
				"error": err.Error(),
			})
			reply = fmt.Sprintf("Error: %v", err)
		}
		if reply != "" {
			l.bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: reply,
			})
		}
	}
}

func (l *Loop) processMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", nil
	}

	if content == "/new" {
		return l.startNewSession(ctx, msg)
	}

	sess, err := l.sessions.Resolve(ctx, msg.Scope, msg.SenderID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve session: %w", err)
	}

	workDir, err := l.ensureWorktree(ctx, sess)
	if err != nil {
		return "", err
	}

	messages := l.appendHistory(sess.ID, providers.Message{Role: "user", Content: content})
	reply, finalMessages, err := l.runIterations(ctx, messages, workDir, msg.SenderID)
	if err != nil {
		return "", err
	}
	l.setHistory(sess.ID, finalMessages)

	if touchErr := l.sessions.Touch(ctx, sess.ID); touchErr != nil {
		logger.WarnCF("agent", "Failed to touch session", map[string]any{
			"session_id": sess.ID,
			"error":      touchErr.Error(),
		})
	}
	return reply, nil
}

func (l *Loop) startNewSession(ctx context.Context, msg bus.InboundMessage) (string, error) {
	if old, err := l.sessions.Resolve(ctx, msg.Scope, msg.SenderID); err == nil {
		if removeErr := l.worktrees.Remove(ctx, l.repoPath, old.ID); removeErr != nil {
			logger.WarnCF("agent", "Failed to remove old worktree", map[string]any{
				"session_id": old.ID,
				"error":      removeErr.Error(),
			})
		}
		l.setHistory(old.ID, nil)
	}

	sess, err := l.sessions.StartNew(ctx, msg.Scope, msg.SenderID)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return fmt.Sprintf("Started a new session (%s).", sess.ID[:8]), nil
}

// ensureWorktree creates the session worktree on first use, enforcing
// the per-user cap before a new one is added.
func (l *Loop) ensureWorktree(ctx context.Context, sess session.Session) (string, error) {
	if path, ok := l.worktrees.Get(sess.ID); ok {
		return path, nil
	}

	if l.maxPerUser > 0 {
		userSessions, err := l.sessions.UserSessionIDs(ctx, sess.UserID)
		if err != nil {
			return "", fmt.Errorf("failed to list user sessions: %w", err)
		}
		delete(userSessions, sess.ID)
		if l.worktrees.CountUserWorktrees(userSessions) >= l.maxPerUser {
			return "", fmt.Errorf("worktree limit reached (%d); finish or /new an existing session first", l.maxPerUser)
		}
	}

	path, err := l.worktrees.Create(ctx, l.repoPath, sess.ID, "")
	if err != nil {
		return "", fmt.Errorf("failed to create worktree: %w", err)
	}
	return path, nil
}

func (l *Loop) runIterations(ctx context.Context, messages []providers.Message, workDir string, userID int64) (string, []providers.Message, error) {
	if len(messages) == 0 || messages[0].Role != "system" {
		messages = append([]providers.Message{{Role: "system", Content: systemPrompt}}, messages...)
	}

	toolDefs := l.registry.Definitions()

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		logger.DebugCF("agent", "LLM iteration", map[string]any{
			"iteration": iteration,
			"max":       l.maxIterations,
			"messages":  len(messages),
		})

		response, err := l.provider.Chat(ctx, messages, toolDefs)
		if err != nil {
			return "", messages, fmt.Errorf("LLM request failed: %w", err)
		}

		if len(response.ToolCalls) == 0 {
			messages = append(messages, providers.Message{Role: "assistant", Content: response.Content})
			return response.Content, messages, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, tc := range response.ToolCalls {
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    l.executeToolCall(ctx, tc, workDir, userID),
				ToolCallID: tc.ID,
			})
		}
	}

	return "Reached the tool iteration limit without a final answer.", messages, nil
}

// executeToolCall gates the call through the monitor, then runs it with
// the session working directory injected.
func (l *Loop) executeToolCall(ctx context.Context, tc providers.ToolCall, workDir string, userID int64) string {
	argsJSON, _ := json.Marshal(tc.Arguments)
	logger.InfoCF("agent", fmt.Sprintf("Tool call: %s", tc.Name), map[string]any{
		"tool": tc.Name,
		"args": string(argsJSON),
	})

	allowed, reason := l.monitor.ValidateToolCall(tc.Name, tc.Arguments, workDir, userID)
	if !allowed {
		logger.WarnCF("agent", "Tool call rejected", map[string]any{
			"tool":   tc.Name,
			"reason": reason,
		})
		return fmt.Sprintf("Tool call rejected: %s", reason)
	}

	args := make(map[string]any, len(tc.Arguments)+1)
	for k, v := range tc.Arguments {
		args[k] = v
	}
	args["working_dir"] = workDir

	result := l.registry.Execute(ctx, tc.Name, args)
	content := result.ForLLM
	if content == "" && result.Err != nil {
		content = result.Err.Error()
	}
	if content == "" {
		content = "(no output)"
	}
	return content
}

func (l *Loop) appendHistory(sessionID string, msg providers.Message) []providers.Message {
	l.historyMu.Lock()
	defer l.historyMu.Unlock()
	if l.history == nil {
		l.history = make(map[string][]providers.Message)
	}
	l.history[sessionID] = append(l.history[sessionID], msg)
	out := make([]providers.Message, len(l.history[sessionID]))
	copy(out, l.history[sessionID])
	return out
}

func (l *Loop) setHistory(sessionID string, messages []providers.Message) {
	l.historyMu.Lock()
	defer l.historyMu.Unlock()
	if l.history == nil {
		l.history = make(map[string][]providers.Message)
	}
	if messages == nil {
		delete(l.history, sessionID)
		return
	}
	l.history[sessionID] = messages
}
