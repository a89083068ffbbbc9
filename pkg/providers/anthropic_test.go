package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicProvider_ChatParsesToolUse(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "Creating the file."},
				{"type": "tool_use", "id": "tu_1", "name": "write_file", "input": {"path": "a.txt", "content": "hi"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider("key", server.URL, "test-model", 1024)
	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "make a file"},
	}, []ToolDefinition{{Name: "write_file", Description: "write", Parameters: map[string]any{"type": "object"}}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Content != "Creating the file." {
		t.Errorf("Expected text content, got: %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "write_file" {
		t.Fatalf("Expected one write_file tool call, got: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["path"] != "a.txt" {
		t.Errorf("Expected tool arguments preserved, got: %v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("Expected usage parsed, got: %+v", resp.Usage)
	}

	// System prompt travels in the dedicated field, not the message list.
	if captured["system"] != "be helpful" {
		t.Errorf("Expected system field, got: %v", captured["system"])
	}
	msgs := captured["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("Expected system message excluded from messages, got: %v", msgs)
	}
}

func TestAnthropicProvider_ChatToolResultRoundTrip(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"content": [{"type": "text", "text": "done"}], "stop_reason": "end_turn", "usage": {}}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider("key", server.URL, "test-model", 1024)
	_, err := p.Chat(context.Background(), []Message{
		{Role: "user", Content: "make a file"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "tu_1", Name: "write_file", Arguments: map[string]any{"path": "a.txt"}}}},
		{Role: "tool", Content: "File written: a.txt", ToolCallID: "tu_1"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	msgs := captured["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 converted messages, got: %d", len(msgs))
	}

	// Assistant tool call becomes a tool_use block.
	assistant := msgs[1].(map[string]any)
	blocks := assistant["content"].([]any)
	if blocks[0].(map[string]any)["type"] != "tool_use" {
		t.Errorf("Expected tool_use block, got: %v", blocks[0])
	}

	// Tool result becomes a user message with a tool_result block.
	result := msgs[2].(map[string]any)
	if result["role"] != "user" {
		t.Errorf("Expected tool result as user role, got: %v", result["role"])
	}
	rblocks := result["content"].([]any)
	if rblocks[0].(map[string]any)["tool_use_id"] != "tu_1" {
		t.Errorf("Expected tool_use_id linkage, got: %v", rblocks[0])
	}
}

func TestAnthropicProvider_ChatAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider("key", server.URL, "test-model", 1024)
	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("Expected error for non-OK status")
	}
}
