package monitoring

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/geoanchor/internal/timeutil"
)

type captured struct {
	mu    sync.Mutex
	lines []string
}

func (c *captured) logf(format string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func (c *captured) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestHealthReporterDetectsStall(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()
	c := &captured{}
	SetLogger(c.logf)

	var frames uint64
	h := NewHealthReporter(nil, time.Second, func() Snapshot {
		return Snapshot{SessionID: "ses_x", State: "localizing", Frames: frames, AnchorCount: 1}
	})

	frames = 30
	if !h.Report() {
		t.Error("first report with frames should progress")
	}
	if h.Report() {
		t.Error("report without new frames should flag a stall")
	}
	h.Report()
	frames = 45
	if !h.Report() {
		t.Error("report after new frames should progress")
	}

	lines := c.all()
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "frames=30 (+30)") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "stalled at 30 frames") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "resumed") || !strings.Contains(lines[3], "(+15)") {
		t.Errorf("lines = %v", lines[2:])
	}
}

func TestHealthReporterRunStopsOnCancel(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()
	SetLogger(nil)

	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var mu sync.Mutex
	calls := 0
	h := NewHealthReporter(clock, time.Second, func() Snapshot {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return Snapshot{Frames: uint64(calls)}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
