package resource

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/pieceserver/pieceserver/internal/config"
)

func testGuard(t *testing.T) (*Guard, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		MaxConnections:     2,
		MaxGoroutines:      100000,
		CPURejectThreshold: 85,
		CPUPauseThreshold:  90,
	}
	g := NewGuard(cfg, zerolog.Nop(), nil)
	return g, cfg
}

func TestShouldAcceptConnectionUnderLimits(t *testing.T) {
	g, _ := testGuard(t)
	if accept, reason := g.ShouldAcceptConnection(); !accept {
		t.Fatalf("expected accept, got rejected: %s", reason)
	}
}

func TestShouldAcceptConnectionAtMaxConnections(t *testing.T) {
	g, cfg := testGuard(t)
	for i := 0; i < cfg.MaxConnections; i++ {
		g.ConnectionOpened()
	}
	if accept, _ := g.ShouldAcceptConnection(); accept {
		t.Fatal("expected rejection at max connections")
	}
	g.ConnectionClosed()
	if accept, reason := g.ShouldAcceptConnection(); !accept {
		t.Fatalf("expected acceptance after closing a connection, got: %s", reason)
	}
}

func TestShouldAcceptConnectionRejectsOnHighCPU(t *testing.T) {
	g, cfg := testGuard(t)
	g.cpuPct.Store(cfg.CPURejectThreshold + 1)
	if accept, _ := g.ShouldAcceptConnection(); accept {
		t.Fatal("expected rejection when cpu exceeds reject threshold")
	}
}

func TestShouldPauseBroadcastRespectsPauseThreshold(t *testing.T) {
	g, cfg := testGuard(t)
	g.cpuPct.Store(cfg.CPUPauseThreshold - 1)
	if g.ShouldPauseBroadcast() {
		t.Fatal("expected no pause below threshold")
	}
	g.cpuPct.Store(cfg.CPUPauseThreshold + 1)
	if !g.ShouldPauseBroadcast() {
		t.Fatal("expected pause above threshold")
	}
}

func TestGoroutineLimiterBoundsConcurrentHolders(t *testing.T) {
	l := NewGoroutineLimiter(1)
	if !l.Acquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if l.Acquire() {
		t.Fatal("expected second acquire to fail while limiter is full")
	}
	l.Release()
	if !l.Acquire() {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestAcquireReleaseGoroutine(t *testing.T) {
	cfg := &config.Config{MaxConnections: 10, MaxGoroutines: 1, CPURejectThreshold: 85, CPUPauseThreshold: 90}
	g := NewGuard(cfg, zerolog.Nop(), nil)

	if !g.AcquireGoroutine() {
		t.Fatal("expected first acquire to succeed")
	}
	if g.AcquireGoroutine() {
		t.Fatal("expected second acquire to fail at ceiling of 1")
	}
	g.ReleaseGoroutine()
	if !g.AcquireGoroutine() {
		t.Fatal("expected acquire to succeed after release")
	}
}
