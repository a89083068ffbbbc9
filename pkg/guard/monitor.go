// Package guard gates every tool call the agent proposes: an allow/deny list
// on tool names, path validation for file operations, and a two-stage check
// on shell commands (dangerous-pattern scan, then directory boundary
// enforcement). Denials are values that the caller surfaces back to the
// model; only infrastructure faults become errors.
package guard

import (
	"fmt"
	"strings"
	"sync"

	"github.com/forgebot/forgebot/pkg/logger"
)

// FileOperationKind classifies file-operation tool names across the backend
// vocabularies the agent may emit (create_file vs Write, etc.).
type FileOperationKind int

const (
	FileOpRead FileOperationKind = iota
	FileOpWrite
	FileOpEdit
)

var fileToolKinds = map[string]FileOperationKind{
	"read_file":   FileOpRead,
	"Read":        FileOpRead,
	"create_file": FileOpWrite,
	"Write":       FileOpWrite,
	"edit_file":   FileOpEdit,
	"Edit":        FileOpEdit,
}

var shellToolNames = map[string]struct{}{
	"bash":  {},
	"shell": {},
	"Bash":  {},
}

// Substrings that deny a shell command outright, checked case-insensitively
// and before the finer-grained boundary check.
var dangerousPatterns = []string{
	"rm -rf",
	"sudo",
	"chmod 777",
	"curl",
	"wget",
	"nc ",
	"netcat",
	">",
	">>",
	"|",
	"&",
	";",
	"$(",
	"`",
}

// Violation types recorded by the monitor.
const (
	ViolationDisallowedTool       = "disallowed_tool"
	ViolationExplicitlyDisallowed = "explicitly_disallowed_tool"
	ViolationInvalidFilePath      = "invalid_file_path"
	ViolationDangerousCommand     = "dangerous_command"
	ViolationDirectoryBoundary    = "directory_boundary_violation"
)

// Violation is an append-only record of a rejected tool call.
type Violation struct {
	Type       string `json:"type"`
	ToolName   string `json:"tool_name"`
	Command    string `json:"command,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	UserID     int64  `json:"user_id"`
	WorkingDir string `json:"working_directory"`
	Error      string `json:"error,omitempty"`
}

// Stats summarizes tool usage since the last reset.
type Stats struct {
	TotalCalls         int
	ByTool             map[string]int
	UniqueTools        int
	SecurityViolations int
}

// UserStats summarizes violations attributed to one user.
type UserStats struct {
	UserID             int64
	SecurityViolations int
	ViolationTypes     []string
}

// MonitorConfig is read-only for the monitor's lifetime.
type MonitorConfig struct {
	// ApprovedRoot is the outer boundary no shell command may escape.
	ApprovedRoot string

	// AllowedTools, when non-empty, is the only set of permitted tool names.
	AllowedTools []string

	// DisallowedTools are always rejected by name.
	DisallowedTools []string

	// DisableToolValidation skips only the name-based allow/disallow gate.
	// Path and shell-command safety stay active.
	DisableToolValidation bool

	// AgenticMode skips shell-command validation entirely: the agent's own
	// sandbox is trusted to enforce the boundary, and the dangerous-pattern
	// list would block normal git/gh usage.
	AgenticMode bool
}

// Monitor validates tool calls and accumulates usage counters and violation
// records. One instance per logical scope; state lives until Reset.
type Monitor struct {
	cfg           MonitorConfig
	allowedSet    map[string]struct{}
	disallowedSet map[string]struct{}
	pathValidator PathValidator

	mu         sync.Mutex
	usage      map[string]int
	violations []Violation
}

// NewMonitor builds a monitor. pathValidator may be nil, in which case
// file-operation paths are only checked for presence.
func NewMonitor(cfg MonitorConfig, pathValidator PathValidator) *Monitor {
	m := &Monitor{
		cfg:           cfg,
		allowedSet:    make(map[string]struct{}, len(cfg.AllowedTools)),
		disallowedSet: make(map[string]struct{}, len(cfg.DisallowedTools)),
		pathValidator: pathValidator,
		usage:         make(map[string]int),
	}
	for _, name := range cfg.AllowedTools {
		m.allowedSet[name] = struct{}{}
	}
	for _, name := range cfg.DisallowedTools {
		m.disallowedSet[name] = struct{}{}
	}
	return m
}

// ValidateToolCall checks a proposed tool call before execution. The stages
// run in strict order and short-circuit: name gate, file-path gate, shell
// gate. Every denial appends a Violation before returning.
func (m *Monitor) ValidateToolCall(toolName string, toolInput map[string]any, workingDir string, userID int64) (bool, string) {
	logger.DebugCF("guard", "Validating tool call", map[string]any{
		"tool":              toolName,
		"working_directory": workingDir,
		"user_id":           userID,
	})

	if !m.cfg.DisableToolValidation {
		if len(m.allowedSet) > 0 {
			if _, ok := m.allowedSet[toolName]; !ok {
				m.recordViolation(Violation{
					Type:       ViolationDisallowedTool,
					ToolName:   toolName,
					UserID:     userID,
					WorkingDir: workingDir,
				})
				return false, fmt.Sprintf("Tool not allowed: %s", toolName)
			}
		}
		if _, ok := m.disallowedSet[toolName]; ok {
			m.recordViolation(Violation{
				Type:       ViolationExplicitlyDisallowed,
				ToolName:   toolName,
				UserID:     userID,
				WorkingDir: workingDir,
			})
			return false, fmt.Sprintf("Tool explicitly disallowed: %s", toolName)
		}
	}

	if _, isFileOp := fileToolKinds[toolName]; isFileOp {
		filePath, _ := toolInput["path"].(string)
		if filePath == "" {
			filePath, _ = toolInput["file_path"].(string)
		}
		if filePath == "" {
			return false, "File path required"
		}

		if m.pathValidator != nil {
			ok, _, reason := m.pathValidator.ValidatePath(filePath, workingDir)
			if !ok {
				m.recordViolation(Violation{
					Type:       ViolationInvalidFilePath,
					ToolName:   toolName,
					FilePath:   filePath,
					UserID:     userID,
					WorkingDir: workingDir,
					Error:      reason,
				})
				return false, reason
			}
		}
	}

	if _, isShell := shellToolNames[toolName]; isShell && !m.cfg.AgenticMode {
		command, _ := toolInput["command"].(string)
		lower := strings.ToLower(command)

		for _, pattern := range dangerousPatterns {
			if strings.Contains(lower, pattern) {
				m.recordViolation(Violation{
					Type:       ViolationDangerousCommand,
					ToolName:   toolName,
					Command:    command,
					Pattern:    pattern,
					UserID:     userID,
					WorkingDir: workingDir,
				})
				return false, fmt.Sprintf("Dangerous command pattern detected: %s", pattern)
			}
		}

		ok, reason := CheckCommandBoundary(command, workingDir, m.cfg.ApprovedRoot)
		if !ok {
			m.recordViolation(Violation{
				Type:       ViolationDirectoryBoundary,
				ToolName:   toolName,
				Command:    command,
				UserID:     userID,
				WorkingDir: workingDir,
				Error:      reason,
			})
			return false, reason
		}
	}

	m.mu.Lock()
	m.usage[toolName]++
	m.mu.Unlock()

	return true, ""
}

// IsToolAllowed checks the name gate only, without recording anything.
func (m *Monitor) IsToolAllowed(toolName string) bool {
	if len(m.allowedSet) > 0 {
		if _, ok := m.allowedSet[toolName]; !ok {
			return false
		}
	}
	_, denied := m.disallowedSet[toolName]
	return !denied
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTool := make(map[string]int, len(m.usage))
	total := 0
	for name, count := range m.usage {
		byTool[name] = count
		total += count
	}
	return Stats{
		TotalCalls:         total,
		ByTool:             byTool,
		UniqueTools:        len(byTool),
		SecurityViolations: len(m.violations),
	}
}

// Violations returns a copy of the violation history.
func (m *Monitor) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// UserStats aggregates violations for a single user.
func (m *Monitor) UserStats(userID int64) UserStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	count := 0
	for _, v := range m.violations {
		if v.UserID != userID {
			continue
		}
		count++
		seen[v.Type] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	return UserStats{UserID: userID, SecurityViolations: count, ViolationTypes: types}
}

// Reset clears usage counters and violation history.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = make(map[string]int)
	m.violations = nil
	logger.InfoC("guard", "Tool monitor statistics reset")
}

func (m *Monitor) recordViolation(v Violation) {
	m.mu.Lock()
	m.violations = append(m.violations, v)
	m.mu.Unlock()

	logger.WarnCF("guard", "Tool call rejected", map[string]any{
		"type":              v.Type,
		"tool":              v.ToolName,
		"user_id":           v.UserID,
		"working_directory": v.WorkingDir,
		"error":             v.Error,
	})
}
