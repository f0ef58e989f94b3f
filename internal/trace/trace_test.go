package trace

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if len(a) != traceIDLen {
		t.Fatalf("len = %d, want %d", len(a), traceIDLen)
	}
	if a == b {
		t.Fatalf("two ids collide: %s", a)
	}
}

func TestLogPrefix(t *testing.T) {
	var buf bytes.Buffer
	prev, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prev)
		log.SetFlags(prevFlags)
	}()

	ctx := WithTraceID(context.Background(), "abc123")
	Log(ctx, "poller: cycle %d", 3)
	Warn(context.Background(), "dup %s", "AAPL")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if lines[0] != "TRACE=abc123 | poller: cycle 3" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "TRACE=- | WARN | dup AAPL" {
		t.Errorf("line 1 = %q", lines[1])
	}
}
