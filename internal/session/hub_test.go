package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pieceserver/pieceserver/internal/config"
	"github.com/pieceserver/pieceserver/internal/resource"
	"github.com/pieceserver/pieceserver/internal/wire"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Addr:               ":0",
		DocsRoot:           t.TempDir(),
		MaxConnections:     10,
		MaxGoroutines:      100,
		MaxMessagesPerSec:  1000,
		MessageBurst:       1000,
		CPURejectThreshold: 90,
		CPUPauseThreshold:  95,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

func openHub(t *testing.T, path string) *Hub {
	t.Helper()
	cfg := testConfig(t)
	h, err := Open(path, cfg.DocsRoot, zerolog.Nop(), nil, nil, nil)
	if err != nil {
		t.Fatalf("open hub: %v", err)
	}
	return h
}

func TestHubJoinAssignsDistinctClients(t *testing.T) {
	h := openHub(t, "doc.txt")
	cfg := testConfig(t)

	c1, full1, peers1, err := h.Join("alice", cfg)
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if len(full1) == 0 {
		t.Fatal("expected non-empty full snapshot")
	}
	if len(peers1) != 0 {
		t.Fatalf("expected no prior peers, got %d", len(peers1))
	}

	c2, _, peers2, err := h.Join("bob", cfg)
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if c1.ClientID == c2.ClientID {
		t.Fatal("expected distinct client ids")
	}
	if len(peers2) != 1 {
		t.Fatalf("expected 1 prior peer for bob, got %d", len(peers2))
	}

	select {
	case frame := <-c1.Send:
		msg, err := wire.DecodeS2C(frame)
		if err != nil {
			t.Fatalf("decode announce: %v", err)
		}
		nc, ok := msg.(wire.NewClient)
		if !ok || nc.Username != "bob" {
			t.Fatalf("expected NewClient(bob), got %#v", msg)
		}
	default:
		t.Fatal("expected alice to receive bob's join announcement")
	}
}

func TestHubApplyC2SBroadcastsToOthers(t *testing.T) {
	h := openHub(t, "doc.txt")
	cfg := testConfig(t)

	alice, _, _, _ := h.Join("alice", cfg)
	bob, _, _, _ := h.Join("bob", cfg)
	drain(bob.Send) // discard alice's own join announcement to bob, if any

	if err := h.ApplyC2S(alice.ClientID, wire.EnterInsert{Row: 0, Col: 0}); err != nil {
		t.Fatalf("enter insert: %v", err)
	}
	if err := h.ApplyC2S(alice.ClientID, wire.Char{Rune: 'h'}); err != nil {
		t.Fatalf("push char: %v", err)
	}

	var sawChar bool
	for {
		select {
		case frame := <-bob.Send:
			msg, err := wire.DecodeS2C(frame)
			if err != nil {
				t.Fatalf("decode update: %v", err)
			}
			upd, ok := msg.(wire.Update)
			if !ok {
				continue
			}
			if c, ok := upd.Inner.(wire.Char); ok && c.Rune == 'h' {
				sawChar = true
			}
		default:
			if !sawChar {
				t.Fatal("bob never received alice's Char update")
			}
			return
		}
	}
}

func TestHubEnterCollapsesToNewlineChar(t *testing.T) {
	h := openHub(t, "doc.txt")
	cfg := testConfig(t)
	alice, _, _, _ := h.Join("alice", cfg)

	if err := h.ApplyC2S(alice.ClientID, wire.EnterInsert{Row: 0, Col: 0}); err != nil {
		t.Fatalf("enter insert: %v", err)
	}
	if err := h.ApplyC2S(alice.ClientID, wire.Char{Rune: 'a'}); err != nil {
		t.Fatalf("push a: %v", err)
	}
	if err := h.ApplyC2S(alice.ClientID, wire.Enter{}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := h.ApplyC2S(alice.ClientID, wire.Char{Rune: 'b'}); err != nil {
		t.Fatalf("push b: %v", err)
	}

	h.mu.Lock()
	lines := h.text.Lines()
	h.mu.Unlock()
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("expected [\"a\" \"b\"], got %v", lines)
	}
}

func TestHubSaveWritesAtomically(t *testing.T) {
	cfg := testConfig(t)
	h, err := Open("notes/a.txt", cfg.DocsRoot, zerolog.Nop(), nil, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	alice, _, _, _ := h.Join("alice", cfg)
	for _, op := range []wire.C2S{
		wire.EnterInsert{Row: 0, Col: 0},
		wire.Char{Rune: 'h'},
		wire.Char{Rune: 'i'},
		wire.Save{},
	} {
		if err := h.ApplyC2S(alice.ClientID, op); err != nil {
			t.Fatalf("apply %#v: %v", op, err)
		}
	}

	content, err := os.ReadFile(filepath.Join(cfg.DocsRoot, "notes", "a.txt"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(content) != "hi" {
		t.Fatalf("expected saved content %q, got %q", "hi", content)
	}
}

func TestHubBroadcastSkipsFanoutWhilePaused(t *testing.T) {
	cfg := testConfig(t)
	// A negative pause threshold makes the guard's zero-valued initial
	// CPU reading already exceed it, so ShouldPauseBroadcast is true
	// without needing a live CPU sample.
	guardCfg := &config.Config{CPURejectThreshold: -10, CPUPauseThreshold: -5, MaxGoroutines: 100}
	guard := resource.NewGuard(guardCfg, zerolog.Nop(), nil)

	h, err := Open("doc.txt", cfg.DocsRoot, zerolog.Nop(), nil, nil, guard)
	if err != nil {
		t.Fatalf("open hub: %v", err)
	}

	alice, _, _, _ := h.Join("alice", cfg)
	bob, _, _, _ := h.Join("bob", cfg)
	drain(bob.Send)

	if err := h.ApplyC2S(alice.ClientID, wire.EnterInsert{Row: 0, Col: 0}); err != nil {
		t.Fatalf("enter insert: %v", err)
	}
	if err := h.ApplyC2S(alice.ClientID, wire.Char{Rune: 'h'}); err != nil {
		t.Fatalf("push char: %v", err)
	}

	select {
	case frame := <-bob.Send:
		t.Fatalf("expected no fan-out while broadcast is paused, got frame %v", frame)
	default:
	}
}

func TestHubLeaveRemovesConnection(t *testing.T) {
	h := openHub(t, "doc.txt")
	cfg := testConfig(t)
	alice, _, _, _ := h.Join("alice", cfg)

	h.Leave(alice)

	if err := h.ApplyC2S(alice.ClientID, wire.EnterInsert{Row: 0, Col: 0}); err == nil {
		t.Fatal("expected error applying C2S for a client whose connection left")
	}
}

func drain(ch <-chan []byte) {
	select {
	case <-ch:
	default:
	}
}
