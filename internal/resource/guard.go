// Package resource implements the admission-control guard that
// decides whether a new connection may be accepted, grounded on the
// teacher's src/resource_guard.go and
// ws/internal/shared/limits/resource_guard.go. Unlike the teacher's
// container-aware variant (ws/internal/single/platform/cgroup_cpu.go,
// which parses cgroupfs), this guard samples host CPU via gopsutil
// directly — pieceserver targets a plain host process, not a
// container runtime, so cgroup parsing has nowhere to plug in.
package resource

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pieceserver/pieceserver/internal/config"
	"github.com/pieceserver/pieceserver/internal/metrics"
)

// GoroutineLimiter bounds concurrently active goroutines with a
// semaphore, matching the teacher's GoroutineLimiter.
type GoroutineLimiter struct {
	sem chan struct{}
	max int
}

// NewGoroutineLimiter returns a limiter admitting up to max concurrent holders.
func NewGoroutineLimiter(max int) *GoroutineLimiter {
	return &GoroutineLimiter{sem: make(chan struct{}, max), max: max}
}

// Acquire attempts to take a slot without blocking.
func (l *GoroutineLimiter) Acquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (l *GoroutineLimiter) Release() { <-l.sem }

// Guard enforces static capacity limits and CPU safety thresholds
// before a connection is admitted.
type Guard struct {
	cfg    *config.Config
	logger zerolog.Logger
	metrics *metrics.Registry

	goroutines *GoroutineLimiter
	conns      int64 // atomic
	cpuPct     atomic.Value
}

// NewGuard returns a ready Guard with a CPU reading of 0. It does not
// sample CPU itself; Run does.
func NewGuard(cfg *config.Config, logger zerolog.Logger, reg *metrics.Registry) *Guard {
	g := &Guard{
		cfg:        cfg,
		logger:     logger,
		metrics:    reg,
		goroutines: NewGoroutineLimiter(cfg.MaxGoroutines),
	}
	g.cpuPct.Store(0.0)
	return g
}

// Run samples host CPU percentage every interval until ctx is done.
// Piece-table operations never observe this loop directly; it only
// feeds ShouldAcceptConnection and ShouldPauseBroadcast.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pct, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(pct) == 0 {
				continue
			}
			g.cpuPct.Store(pct[0])
		}
	}
}

// ConnectionOpened records one more live connection.
func (g *Guard) ConnectionOpened() { atomic.AddInt64(&g.conns, 1) }

// ConnectionClosed records one fewer live connection.
func (g *Guard) ConnectionClosed() { atomic.AddInt64(&g.conns, -1) }

// ShouldAcceptConnection checks the hard connection limit, the CPU
// reject threshold, available memory and the goroutine ceiling, in
// that order, returning the first failing reason.
func (g *Guard) ShouldAcceptConnection() (accept bool, reason string) {
	current := atomic.LoadInt64(&g.conns)
	if current >= int64(g.cfg.MaxConnections) {
		g.reject("at max connections")
		return false, fmt.Sprintf("at max connections (%d)", g.cfg.MaxConnections)
	}

	cpuPct, _ := g.cpuPct.Load().(float64)
	if cpuPct > g.cfg.CPURejectThreshold {
		g.reject("cpu overload")
		return false, fmt.Sprintf("cpu %.1f%% > %.1f%%", cpuPct, g.cfg.CPURejectThreshold)
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm.UsedPercent > 97 {
		g.reject("memory exhausted")
		return false, fmt.Sprintf("host memory %.1f%% used", vm.UsedPercent)
	}

	goros := runtime.NumGoroutine()
	if goros > g.cfg.MaxGoroutines {
		g.reject("goroutine limit")
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", goros, g.cfg.MaxGoroutines)
	}

	return true, "ok"
}

// ShouldPauseBroadcast reports whether CPU is hot enough that the
// server should momentarily stop fanning broadcasts out to peers.
// Broadcasts skipped while paused are not resent.
func (g *Guard) ShouldPauseBroadcast() bool {
	cpuPct, _ := g.cpuPct.Load().(float64)
	return cpuPct > g.cfg.CPUPauseThreshold
}

// AcquireGoroutine reserves a slot for a long-lived per-connection
// goroutine pair (read+write pump), returning false if the server is
// at its configured ceiling.
func (g *Guard) AcquireGoroutine() bool { return g.goroutines.Acquire() }

// ReleaseGoroutine returns a previously acquired slot.
func (g *Guard) ReleaseGoroutine() { g.goroutines.Release() }

func (g *Guard) reject(kind string) {
	if g.metrics != nil {
		g.metrics.ConnectionsRejected.Inc()
	}
	g.logger.Warn().Str("reason", kind).Msg("connection rejected by resource guard")
}
