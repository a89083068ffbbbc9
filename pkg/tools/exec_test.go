package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExecTool_Basic(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10*time.Second)

	result := tool.Execute(context.Background(), map[string]any{
		"command": "echo hello",
	})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "hello") {
		t.Errorf("Expected output to contain 'hello', got: %q", result.ForLLM)
	}
}

func TestExecTool_MissingCommand(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10*time.Second)

	result := tool.Execute(context.Background(), map[string]any{})
	if !result.IsError {
		t.Error("Expected error for missing command")
	}
}

func TestExecTool_WorkingDirOverride(t *testing.T) {
	dir := t.TempDir()
	tool := NewExecTool("/", 10*time.Second)

	result := tool.Execute(context.Background(), map[string]any{
		"command":     "pwd",
		"working_dir": dir,
	})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, dir) {
		t.Errorf("Expected pwd output under %s, got: %q", dir, result.ForLLM)
	}
}

func TestExecTool_NonZeroExit(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10*time.Second)

	result := tool.Execute(context.Background(), map[string]any{
		"command": "exit 3",
	})
	if !result.IsError {
		t.Error("Expected error result for non-zero exit")
	}
	if !strings.Contains(result.ForLLM, "Exit code") {
		t.Errorf("Expected exit code in output, got: %q", result.ForLLM)
	}
}

func TestExecTool_Timeout(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 100*time.Millisecond)

	result := tool.Execute(context.Background(), map[string]any{
		"command": "sleep 5",
	})
	if !result.IsError {
		t.Error("Expected error result for timeout")
	}
	if !strings.Contains(result.ForLLM, "timed out") {
		t.Errorf("Expected timeout message, got: %q", result.ForLLM)
	}
}

func TestExecTool_TruncatesLongOutput(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10*time.Second)

	result := tool.Execute(context.Background(), map[string]any{
		"command": "head -c 20000 /dev/zero | tr '\\0' 'x'",
	})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "truncated") {
		t.Error("Expected truncation marker in long output")
	}
	if len(result.ForLLM) > maxOutputLen+100 {
		t.Errorf("Expected output capped near %d chars, got %d", maxOutputLen, len(result.ForLLM))
	}
}
