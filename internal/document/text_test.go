package document

import (
	"strings"
	"testing"
)

// S1: single client.
func TestSingleClientInsert(t *testing.T) {
	text := New()
	c := text.AddClient()
	if err := text.Client(c).EnterInsert(0); err != nil {
		t.Fatalf("enter insert: %v", err)
	}
	for _, r := range "andy" {
		if err := text.Client(c).PushChar(r); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	assertLines(t, text, []string{"andy"})
}

// S2: two clients, non-overlapping inserts.
func TestTwoClientsNonOverlapping(t *testing.T) {
	text := New()
	c1 := text.AddClient()
	c2 := text.AddClient()

	mustEnterInsert(t, text, c1, 0)
	mustPushStr(t, text, c1, "andy")

	mustEnterInsert(t, text, c2, 2)
	mustPushStr(t, text, c2, "andy")

	assertLines(t, text, []string{"anandydy"})
}

// S3: multiple lines, three clients.
func TestMultipleLinesThreeClients(t *testing.T) {
	text := New()
	c0 := text.AddClient()
	c1 := text.AddClient()

	mustEnterInsert(t, text, c0, 0)
	mustPushStr(t, text, c0, "andy")

	c2 := text.AddClient()

	mustEnterInsert(t, text, c1, 2)
	mustEnterInsert(t, text, c2, 4)
	mustPushStr(t, text, c1, "andy")
	mustPushStr(t, text, c2, "\n\na")

	assertLines(t, text, []string{"anandydy", "", "a"})
}

// S4: repeated insertions, single client.
func TestRepeatedInsertionsSingleClient(t *testing.T) {
	text := New()
	c0 := text.AddClient()

	mustEnterInsert(t, text, c0, 0)
	mustPushStr(t, text, c0, "Hello")
	mustExitInsert(t, text, c0)

	mustEnterInsert(t, text, c0, 5)
	mustPushStr(t, text, c0, "world!")
	mustExitInsert(t, text, c0)

	mustEnterInsert(t, text, c0, 5)
	mustPushStr(t, text, c0, " ")

	assertLines(t, text, []string{"Hello world!"})
}

// S5: backspace through own history.
func TestBackspaceThroughOwnHistory(t *testing.T) {
	text := New()
	c0 := text.AddClient()

	mustEnterInsert(t, text, c0, 0)
	mustPushStr(t, text, c0, "tekst")

	for i := 0; i < 3; i++ {
		if _, _, err := text.Client(c0).Backspace(); err != nil {
			t.Fatalf("backspace %d: %v", i, err)
		}
	}
	mustPushStr(t, text, c0, "xt")

	assertLines(t, text, []string{"text"})
}

// S6 setup: a second client enters insert mode at the end of the first
// client's piece before typing anything. The first client's two
// backspaces stay inside its own piece, so each deletes with zero
// swaps, and both clients' later typing lands in order.
func TestSwapBackspace(t *testing.T) {
	text := New()
	c0 := text.AddClient()
	c1 := text.AddClient()

	mustEnterInsert(t, text, c0, 0)
	mustPushStr(t, text, c0, "t")

	mustEnterInsert(t, text, c1, 1)
	mustPushStr(t, text, c0, "e")
	deleted1, swaps1, err := text.Client(c0).Backspace()
	if err != nil || !deleted1 || swaps1 != 0 {
		t.Fatalf("backspace 1: deleted=%v swaps=%d err=%v", deleted1, swaps1, err)
	}
	deleted2, swaps2, err := text.Client(c0).Backspace()
	if err != nil || !deleted2 || swaps2 != 0 {
		t.Fatalf("backspace 2: deleted=%v swaps=%d err=%v", deleted2, swaps2, err)
	}
	mustPushStr(t, text, c0, "t")
	mustPushStr(t, text, c1, "e")

	assertLines(t, text, []string{"te"})
}

// A client's active piece becoming fully empty mid-document, with no
// predecessor piece at all, makes any further backspace a no-op.
func TestBackspaceNoPredecessorIsNoop(t *testing.T) {
	text := New()
	c0 := text.AddClient()
	c1 := text.AddClient()

	mustEnterInsert(t, text, c0, 0)
	mustPushStr(t, text, c0, "t")

	mustEnterInsert(t, text, c1, 1)
	mustPushStr(t, text, c1, "x")

	if _, _, err := text.Client(c0).Backspace(); err != nil {
		t.Fatalf("backspace 1: %v", err)
	}
	deleted, swaps, err := text.Client(c0).Backspace()
	if err != nil {
		t.Fatalf("backspace 2: %v", err)
	}
	if deleted || swaps != 0 {
		t.Fatalf("expected no-op, got deleted=%v swaps=%d", deleted, swaps)
	}
	mustPushStr(t, text, c0, "te")

	assertLines(t, text, []string{"tex"})
}

// Boundary: backspace at document origin is a no-op.
func TestBackspaceAtOriginIsNoop(t *testing.T) {
	text := New()
	c0 := text.AddClient()
	mustEnterInsert(t, text, c0, 0)

	deleted, swaps, err := text.Client(c0).Backspace()
	if err != nil {
		t.Fatalf("backspace: %v", err)
	}
	if deleted || swaps != 0 {
		t.Fatalf("expected no-op, got deleted=%v swaps=%d", deleted, swaps)
	}
}

// Boundary: enter_insert at end-of-document appends.
func TestEnterInsertAtEndAppends(t *testing.T) {
	text := FromString("hi")
	c0 := text.AddClient()
	mustEnterInsert(t, text, c0, 2)
	mustPushStr(t, text, c0, "!")
	assertLines(t, text, []string{"hi!"})
}

// Boundary: enter_insert at a position already held by another
// client splits that client's piece rather than erroring.
func TestEnterInsertSplitsAnotherClientsPiece(t *testing.T) {
	text := New()
	c0 := text.AddClient()
	c1 := text.AddClient()

	mustEnterInsert(t, text, c0, 0)
	mustPushStr(t, text, c0, "ac")

	mustEnterInsert(t, text, c1, 1)
	mustPushStr(t, text, c1, "b")

	assertLines(t, text, []string{"abc"})
}

// Invariant 1: lines().flatten() with '\n' reinserted equals chars().
func TestLinesAndCharsAgree(t *testing.T) {
	text := New()
	c0 := text.AddClient()
	mustEnterInsert(t, text, c0, 0)
	mustPushStr(t, text, c0, "alpha\nbeta\ngamma")

	joined := strings.Join(text.Lines(), "\n")
	if joined != string(text.Chars()) {
		t.Fatalf("lines/chars disagree: %q vs %q", joined, string(text.Chars()))
	}
}

// Invariant 5: commutativity of disjoint edits.
func TestDisjointEditsCommute(t *testing.T) {
	run := func(firstA bool) string {
		text := New()
		ca := text.AddClient()
		cb := text.AddClient()
		apply := func() {
			mustEnterInsert(t, text, ca, 0)
			mustPushStr(t, text, ca, "AAA")
		}
		applyB := func() {
			mustEnterInsert(t, text, cb, 0)
			mustPushStr(t, text, cb, "BBB")
		}
		if firstA {
			apply()
			// b must target the offset after a's insert to stay disjoint
			mustEnterInsert(t, text, cb, 3)
			mustPushStr(t, text, cb, "BBB")
		} else {
			applyB()
			// a targets offset 0, ahead of b's insert, so it lands at the
			// same logical position as in the other ordering
			mustEnterInsert(t, text, ca, 0)
			mustPushStr(t, text, ca, "AAA")
		}
		return text.Lines()[0]
	}
	if got1, got2 := run(true), run(false); got1 != got2 {
		t.Fatalf("disjoint edits did not commute: %q vs %q", got1, got2)
	}
}

func assertLines(t *testing.T, text *Text, want []string) {
	t.Helper()
	got := text.Lines()
	if len(got) != len(want) {
		t.Fatalf("line count mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func mustEnterInsert(t *testing.T, text *Text, client uint64, offset int) {
	t.Helper()
	if err := text.Client(client).EnterInsert(offset); err != nil {
		t.Fatalf("enter insert: %v", err)
	}
}

func mustExitInsert(t *testing.T, text *Text, client uint64) {
	t.Helper()
	if err := text.Client(client).ExitInsert(); err != nil {
		t.Fatalf("exit insert: %v", err)
	}
}

func mustPushStr(t *testing.T, text *Text, client uint64, s string) {
	t.Helper()
	for _, r := range s {
		if err := text.Client(client).PushChar(r); err != nil {
			t.Fatalf("push %q: %v", r, err)
		}
	}
}
