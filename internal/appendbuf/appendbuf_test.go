package appendbuf

import "testing"

func TestSliceStableAcrossGrowth(t *testing.T) {
	b := New()
	b.PushBytes([]byte("hello"))
	s, err := b.Slice(0, 5)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	before := string(s.AsBytes())

	for i := 0; i < 1000; i++ {
		b.PushBytes([]byte("x"))
	}

	after := string(s.AsBytes())
	if before != after || after != "hello" {
		t.Fatalf("slice content changed after growth: before=%q after=%q", before, after)
	}
}

func TestSliceOutOfRange(t *testing.T) {
	b := New()
	b.PushBytes([]byte("ab"))
	if _, err := b.Slice(0, 3); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestCharIterRestartable(t *testing.T) {
	b := New()
	b.PushBytes([]byte("héllo"))
	s, _ := b.Slice(0, b.Len())

	collect := func() []rune {
		it := s.Chars()
		var out []rune
		for {
			r, ok := it.Next()
			if !ok {
				break
			}
			out = append(out, r)
		}
		return out
	}

	first := collect()
	second := collect()
	if len(first) != len(second) {
		t.Fatalf("char iteration not restartable: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("mismatch at %d: %q vs %q", i, first[i], second[i])
		}
	}
	if string(first) != "héllo" {
		t.Fatalf("unexpected decode: %q", string(first))
	}
}

func TestPushRuneAdvancesByUTF8Length(t *testing.T) {
	b := New()
	n := b.PushRune('é')
	if n != 2 {
		t.Fatalf("expected 2-byte utf8 encoding for 'é', got %d", n)
	}
	if b.Len() != 2 {
		t.Fatalf("expected buf len 2, got %d", b.Len())
	}
}

func TestEmptySliceAtCurrentEnd(t *testing.T) {
	b := New()
	b.PushBytes([]byte("abc"))
	s := Empty(b)
	if !s.IsEmpty() || s.Start() != 3 || s.End() != 3 {
		t.Fatalf("expected empty slice at offset 3, got start=%d end=%d", s.Start(), s.End())
	}
}
