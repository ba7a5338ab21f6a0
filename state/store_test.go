package state

import (
	"bytes"
	"testing"
)

func testKey(b ...byte) [32]byte {
	var key [32]byte
	copy(key[:], b)
	return key
}

func TestSetGetDelete(t *testing.T) {
	st := NewStore()
	key := testKey(1, 2, 3)
	st.Set(key, []byte("hello"))

	got, ok := st.Get(key)
	if !ok {
		t.Fatalf("expected key present")
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("unexpected value %q", got)
	}
	if st.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", st.Len())
	}

	if !st.Delete(key) {
		t.Fatalf("expected delete to report presence")
	}
	if st.Delete(key) {
		t.Fatalf("expected second delete to report absence")
	}
	if _, ok := st.Get(key); ok {
		t.Fatalf("expected key gone")
	}
}

func TestValueCopyDiscipline(t *testing.T) {
	st := NewStore()
	key := testKey(9)
	value := []byte("original")
	st.Set(key, value)
	value[0] = 'X'

	got, _ := st.Get(key)
	if !bytes.Equal(got, []byte("original")) {
		t.Fatalf("store aliased caller slice: %q", got)
	}
	got[0] = 'Y'
	again, _ := st.Get(key)
	if !bytes.Equal(again, []byte("original")) {
		t.Fatalf("returned slice aliased store: %q", again)
	}
}

func TestEntryCarriesWriteHeight(t *testing.T) {
	st := NewStore()
	st.SetHeight(7)
	st.Set(testKey(1), []byte("a"))
	st.SetHeight(9)
	st.Set(testKey(2), []byte("b"))

	first, ok := st.Entry(testKey(1))
	if !ok || first.Height != 7 {
		t.Fatalf("expected height 7, got %+v", first)
	}
	second, _ := st.Entry(testKey(2))
	if second.Height != 9 {
		t.Fatalf("expected height 9, got %d", second.Height)
	}
}

func TestRootTracksMutations(t *testing.T) {
	st := NewStore()
	empty := st.Root()

	st.Set(testKey(1), []byte("a"))
	afterSet := st.Root()
	if afterSet == empty {
		t.Fatalf("root unchanged after set")
	}

	st.Delete(testKey(1))
	if st.Root() != empty {
		t.Fatalf("root should return to empty digest after delete")
	}

	st.SetHeight(5)
	if st.Root() == empty {
		t.Fatalf("root unchanged after height move")
	}
}

func TestRootMatchesEquivalentStore(t *testing.T) {
	a := NewStore()
	b := NewStore()
	a.SetHeight(3)
	b.SetHeight(3)
	a.Set(testKey(1), []byte("x"))
	b.Set(testKey(200), []byte("completely different"))
	// The digest covers height and count, not contents.
	if a.Root() != b.Root() {
		t.Fatalf("stores with equal height and count must share a root")
	}
}

func TestIteratePrefix(t *testing.T) {
	st := NewStore()
	st.Set(testKey(0xAA, 1), []byte("1"))
	st.Set(testKey(0xAA, 2), []byte("2"))
	st.Set(testKey(0xBB, 1), []byte("3"))

	seen := 0
	st.IteratePrefix([]byte{0xAA}, func(e Entry) bool {
		if e.Key[0] != 0xAA {
			t.Errorf("visitor saw key outside prefix: %x", e.Key[:2])
		}
		seen++
		return false
	})
	if seen != 2 {
		t.Fatalf("expected 2 matches, got %d", seen)
	}

	visits := 0
	st.IteratePrefix(nil, func(Entry) bool {
		visits++
		return true
	})
	if visits != 1 {
		t.Fatalf("expected stop after first visit, got %d", visits)
	}
}
