package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithContextAddsTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	log := New("tips", Config{Level: "debug", Format: "json"})
	log.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	log.WithContext(ctx).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["trace_id"] != "trace-1" || entry["user_id"] != "user-1" || entry["service"] != "tips" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestContextHelpersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetUserID(ctx) != "" || GetRole(ctx) != "" {
		t.Fatalf("expected empty values")
	}
	if WithTraceID(ctx, "") != ctx {
		t.Fatalf("empty trace id should not wrap context")
	}
	if NewTraceID() == NewTraceID() {
		t.Fatalf("trace ids should be unique")
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	log := New("tips", Config{Level: "loud"})
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}
