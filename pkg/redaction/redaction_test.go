package redaction

import (
	"strings"
	"testing"
)

func TestRedact_TelegramBotToken(t *testing.T) {
	input := "telego: request failed for bot 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1"
	out := Redact(input)

	if strings.Contains(out, "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1") {
		t.Errorf("Expected bot token to be masked, got: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("Expected replacement marker, got: %s", out)
	}
}

func TestRedact_AnthropicKey(t *testing.T) {
	out := Redact("auth failed with key sk-ant-REDACTED")
	if strings.Contains(out, "sk-ant-") {
		t.Errorf("Expected anthropic key to be masked, got: %s", out)
	}
}

func TestRedact_KeyValueAssignment(t *testing.T) {
	out := Redact(`config error: api_key=abcdef1234567890abcdef`)
	if strings.Contains(out, "abcdef1234567890abcdef") {
		t.Errorf("Expected credential value to be masked, got: %s", out)
	}
	// Key name itself survives so the line stays debuggable
	if !strings.Contains(out, "api_key") {
		t.Errorf("Expected key name to survive, got: %s", out)
	}
}

func TestRedact_PlainTextUntouched(t *testing.T) {
	input := "worktree created for session tg-42"
	if out := Redact(input); out != input {
		t.Errorf("Expected plain text unchanged, got: %s", out)
	}
}

func TestRedactFields_SensitiveKeyNames(t *testing.T) {
	fields := RedactFields(map[string]any{
		"token":      "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1",
		"session_id": "tg-42",
		"nested":     map[string]any{"api_key": "hunter2hunter2hunter2"},
	})

	if fields["token"] != "[REDACTED]" {
		t.Errorf("Expected token field masked, got: %v", fields["token"])
	}
	if fields["session_id"] != "tg-42" {
		t.Errorf("Expected session_id untouched, got: %v", fields["session_id"])
	}
	nested, ok := fields["nested"].(map[string]any)
	if !ok || nested["api_key"] != "[REDACTED]" {
		t.Errorf("Expected nested api_key masked, got: %v", fields["nested"])
	}
}
