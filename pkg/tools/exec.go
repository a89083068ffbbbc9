package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

const maxOutputLen = 10000

// ExecTool runs shell commands inside the session working directory.
// Boundary and pattern checks happen before the call reaches this tool,
// so Execute only handles process mechanics.
type ExecTool struct {
	workingDir string
	timeout    time.Duration
}

func NewExecTool(workingDir string, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecTool{
		workingDir: workingDir,
		timeout:    timeout,
	}
}

func (t *ExecTool) Name() string {
	return "bash"
}

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use with caution."
}

func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	command, ok := args["command"].(string)
	if !ok {
		return ErrorResult("command is required")
	}

	cwd := t.workingDir
	if wd, ok := args["working_dir"].(string); ok && wd != "" {
		cwd = wd
	}

	cmdCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nSTDERR:\n" + stderr.String()
	}

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("Command timed out after %v", t.timeout))
		}
		output += fmt.Sprintf("\nExit code: %v", err)
	}

	if output == "" {
		output = "(no output)"
	}

	if len(output) > maxOutputLen {
		output = output[:maxOutputLen] + fmt.Sprintf("\n... (truncated, %d more chars)", len(output)-maxOutputLen)
	}

	if err != nil {
		return &ToolResult{ForLLM: output, ForUser: output, IsError: true}
	}
	return NewToolResult(output)
}
