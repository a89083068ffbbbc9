package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveToolPath anchors relative paths to the working directory handed
// to the tool call. Absolute paths pass through cleaned.
func resolveToolPath(path, workingDir string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workingDir, path)
}

func pathArgs(args map[string]any) (string, string, bool) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", "", false
	}
	workingDir, _ := args["working_dir"].(string)
	return path, workingDir, true
}

type ReadFileTool struct {
	workingDir string
}

func NewReadFileTool(workingDir string) *ReadFileTool {
	return &ReadFileTool{workingDir: workingDir}
}

func (t *ReadFileTool) Name() string {
	return "read_file"
}

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file"
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	path, workingDir, ok := pathArgs(args)
	if !ok {
		return ErrorResult("path is required")
	}
	if workingDir == "" {
		workingDir = t.workingDir
	}

	content, err := os.ReadFile(resolveToolPath(path, workingDir))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult(fmt.Sprintf("file not found: %s", path))
		}
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}
	return NewToolResult(string(content))
}

type WriteFileTool struct {
	workingDir string
}

func NewWriteFileTool(workingDir string) *WriteFileTool {
	return &WriteFileTool{workingDir: workingDir}
}

func (t *WriteFileTool) Name() string {
	return "create_file"
}

func (t *WriteFileTool) Description() string {
	return "Create a file with the given content, overwriting any existing file"
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to create",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write to the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	path, workingDir, ok := pathArgs(args)
	if !ok {
		return ErrorResult("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult("content is required")
	}
	if workingDir == "" {
		workingDir = t.workingDir
	}

	target := resolveToolPath(path, workingDir)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create parent directory: %v", err))
	}
	if err := os.WriteFile(target, []byte(content), 0o600); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return SilentResult(fmt.Sprintf("File written: %s", path))
}

// EditFileTool replaces old_text with new_text. The old_text must exist
// exactly once in the file.
type EditFileTool struct {
	workingDir string
}

func NewEditFileTool(workingDir string) *EditFileTool {
	return &EditFileTool{workingDir: workingDir}
}

func (t *EditFileTool) Name() string {
	return "edit_file"
}

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. The old_text must exist exactly in the file."
}

func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The file path to edit",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "The exact text to find and replace",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "The text to replace with",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	path, workingDir, ok := pathArgs(args)
	if !ok {
		return ErrorResult("path is required")
	}
	oldText, ok := args["old_text"].(string)
	if !ok {
		return ErrorResult("old_text is required")
	}
	newText, ok := args["new_text"].(string)
	if !ok {
		return ErrorResult("new_text is required")
	}
	if workingDir == "" {
		workingDir = t.workingDir
	}

	target := resolveToolPath(path, workingDir)
	content, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult(fmt.Sprintf("file not found: %s", path))
		}
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}

	text := string(content)
	count := strings.Count(text, oldText)
	if count == 0 {
		return ErrorResult("old_text not found in file")
	}
	if count > 1 {
		return ErrorResult(fmt.Sprintf("old_text matches %d locations, provide more context", count))
	}

	updated := strings.Replace(text, oldText, newText, 1)
	if err := os.WriteFile(target, []byte(updated), 0o600); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return SilentResult(fmt.Sprintf("File edited: %s", path))
}
