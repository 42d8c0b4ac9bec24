package migrations

import (
	"io"
	"os"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first version 1, got %d", first)
	}

	next, err := src.Next(first)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected version 2, got %d", next)
	}

	body, _, err := src.ReadUp(next)
	if err != nil {
		t.Fatalf("read up: %v", err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(raw), "tips_sender_nonce_key UNIQUE (sender_id, nonce)") {
		t.Fatalf("tips migration must carry the sender/nonce constraint")
	}
}

func TestUpIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	if err := Up(dsn); err != nil {
		t.Fatalf("up: %v", err)
	}
	// A second run is a no-op.
	if err := Up(dsn); err != nil {
		t.Fatalf("second up: %v", err)
	}
	version, dirty, err := Version(dsn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("unexpected version %d dirty=%v", version, dirty)
	}
}
