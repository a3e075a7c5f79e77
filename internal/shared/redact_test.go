package shared

import (
	"testing"
)

func TestRedact_BearerToken(t *testing.T) {
	input := "Bearer abc123def456ghi789jkl0"
	result := Redact(input)
	if result != "Bearer [REDACTED]" {
		t.Fatalf("expected 'Bearer [REDACTED]', got %q", result)
	}
}

func TestRedact_APIKey(t *testing.T) {
	input := `api_key=abcdef1234567890abcdef`
	result := Redact(input)
	if result == input {
		t.Fatalf("expected redaction, got %q", result)
	}
}

func TestRedact_TelegramBotToken(t *testing.T) {
	input := "bot 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1 failed"
	result := Redact(input)
	if result == input {
		t.Fatalf("expected redaction, got %q", result)
	}
}

func TestRedact_NoSecret(t *testing.T) {
	input := "invoice INV-2026-014 sent to billing@acme.example"
	if result := Redact(input); result != input {
		t.Fatalf("expected no redaction, got %q", result)
	}
}

func TestRedact_Empty(t *testing.T) {
	if result := Redact(""); result != "" {
		t.Fatalf("expected empty, got %q", result)
	}
}

func TestRedactMapValue(t *testing.T) {
	cases := []struct {
		key, value string
		expect     string
	}{
		{"telegram_token", "some-secret", "[REDACTED]"},
		{"smtp_password", "s3cret", "[REDACTED]"},
		{"from", "alice@example.com", "alice@example.com"},
		{"subject", "Q3 numbers", "Q3 numbers"},
	}
	for _, tc := range cases {
		got := RedactMapValue(tc.key, tc.value)
		if got != tc.expect {
			t.Errorf("RedactMapValue(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.expect)
		}
	}
}
