package tools

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewExecTool("", 10*time.Second))

	if _, ok := registry.Get("bash"); !ok {
		t.Error("Expected bash tool to be registered")
	}
	if _, ok := registry.Get("nonexistent"); ok {
		t.Error("Expected nonexistent tool lookup to fail")
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry()

	result := registry.Execute(context.Background(), "missing", map[string]any{})
	if !result.IsError {
		t.Error("Expected error for unknown tool")
	}
	if result.Err == nil {
		t.Error("Expected underlying error to be set")
	}
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	registry.Register(NewWriteFileTool(dir))
	registry.Register(NewExecTool(dir, 10*time.Second))
	registry.Register(NewReadFileTool(dir))
	registry.Register(NewEditFileTool(dir))

	defs := registry.Definitions()
	if len(defs) != 4 {
		t.Fatalf("Expected 4 definitions, got %d", len(defs))
	}
	want := []string{"bash", "create_file", "edit_file", "read_file"}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("Expected definition %d to be %q, got %q", i, name, defs[i].Name)
		}
	}
}
