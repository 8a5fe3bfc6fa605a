package critbit

import (
	"testing"
)

func keys(t *Tree) []uint64 {
	var out []uint64
	t.Ascend(func(k uint64, _ uint32) bool {
		out = append(out, k)
		return true
	})
	return out
}

func TestInsertFind(t *testing.T) {
	tr := New(16)
	prices := []uint64{50, 10, 90, 55, 54, 1, 1 << 40}
	for i, p := range prices {
		if err := tr.Insert(p, uint32(i)); err != nil {
			t.Fatalf("insert %d: %v", p, err)
		}
	}
	for i, p := range prices {
		got, ok := tr.Find(p)
		if !ok || got != uint32(i) {
			t.Errorf("Find(%d) = (%d, %v), want (%d, true)", p, got, ok, i)
		}
	}
	if _, ok := tr.Find(42); ok {
		t.Error("Find(42) should miss")
	}
	if tr.Len() != len(prices) {
		t.Errorf("Len = %d, want %d", tr.Len(), len(prices))
	}
}

func TestDuplicateInsertOverwritesInPlace(t *testing.T) {
	tr := New(8)
	if err := tr.Insert(50, 1); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(60, 2); err != nil {
		t.Fatal(err)
	}
	freeBefore := tr.FreeNodes()

	if err := tr.Insert(50, 7); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
	if tr.FreeNodes() != freeBefore {
		t.Errorf("duplicate insert consumed nodes: free %d -> %d", freeBefore, tr.FreeNodes())
	}
	if got, _ := tr.Find(50); got != 7 {
		t.Errorf("payload = %d, want 7", got)
	}
}

func TestRemove(t *testing.T) {
	tr := New(16)
	for i, p := range []uint64{50, 10, 90} {
		if err := tr.Insert(p, uint32(i)); err != nil {
			t.Fatal(err)
		}
	}

	payload, ok := tr.Remove(10)
	if !ok || payload != 1 {
		t.Fatalf("Remove(10) = (%d, %v), want (1, true)", payload, ok)
	}
	if _, ok := tr.Find(10); ok {
		t.Error("removed key still findable")
	}
	if _, ok := tr.Remove(10); ok {
		t.Error("double remove should miss")
	}
	if _, ok := tr.Remove(42); ok {
		t.Error("removing absent key should miss")
	}

	// Drain to the single-leaf case and then empty.
	tr.Remove(50)
	if k, _, ok := tr.Min(); !ok || k != 90 {
		t.Fatalf("Min = (%d, %v), want (90, true)", k, ok)
	}
	tr.Remove(90)
	if tr.Len() != 0 {
		t.Errorf("Len = %d after draining, want 0", tr.Len())
	}
	if _, _, ok := tr.Min(); ok {
		t.Error("Min on empty tree should miss")
	}
	if tr.FreeNodes() != 16 {
		t.Errorf("free nodes = %d, want all 16 back", tr.FreeNodes())
	}
}

func TestMinMaxAndOrdering(t *testing.T) {
	tr := New(32)
	prices := []uint64{77, 3, 1024, 55, 56, 2, 900}
	for _, p := range prices {
		if err := tr.Insert(p, uint32(p)); err != nil {
			t.Fatal(err)
		}
	}

	if k, _, _ := tr.Min(); k != 2 {
		t.Errorf("Min = %d, want 2", k)
	}
	if k, _, _ := tr.Max(); k != 1024 {
		t.Errorf("Max = %d, want 1024", k)
	}

	asc := keys(tr)
	for i := 1; i < len(asc); i++ {
		if asc[i-1] >= asc[i] {
			t.Fatalf("Ascend not sorted: %v", asc)
		}
	}

	var desc []uint64
	tr.Descend(func(k uint64, _ uint32) bool {
		desc = append(desc, k)
		return true
	})
	for i := 1; i < len(desc); i++ {
		if desc[i-1] <= desc[i] {
			t.Fatalf("Descend not sorted: %v", desc)
		}
	}
}

func TestInsertFullPreservesState(t *testing.T) {
	tr := New(4)
	// 1 node for the first leaf, 2 per additional key.
	if err := tr.Insert(10, 0); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(20, 1); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(30, 2); err != ErrFull {
		t.Fatalf("Insert into full tree = %v, want ErrFull", err)
	}
	// State unchanged by the failed insert.
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
	for _, p := range []uint64{10, 20} {
		if _, ok := tr.Find(p); !ok {
			t.Errorf("key %d lost after failed insert", p)
		}
	}
	if tr.CanInsert(30) {
		t.Error("CanInsert(30) should be false on a full tree")
	}
	if !tr.CanInsert(10) {
		t.Error("CanInsert(10) should be true for an existing key")
	}
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	tr := New(16)
	for _, p := range []uint64{50, 10, 90} {
		if err := tr.Insert(p, uint32(p)); err != nil {
			t.Fatal(err)
		}
	}
	before := keys(tr)
	freeBefore := tr.FreeNodes()

	if err := tr.Insert(55, 123); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Remove(55); !ok {
		t.Fatal("Remove(55) missed")
	}

	after := keys(tr)
	if len(after) != len(before) {
		t.Fatalf("leaf count changed: %v -> %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("leaf order changed: %v -> %v", before, after)
		}
	}
	if tr.FreeNodes() != freeBefore {
		t.Errorf("free nodes leaked: %d -> %d", freeBefore, tr.FreeNodes())
	}
}

func TestAdjacentKeys(t *testing.T) {
	// Keys differing only in the LSB exercise critBit = 0.
	tr := New(8)
	if err := tr.Insert(54, 0); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(55, 1); err != nil {
		t.Fatal(err)
	}
	if k, _, _ := tr.Min(); k != 54 {
		t.Errorf("Min = %d, want 54", k)
	}
	if k, _, _ := tr.Max(); k != 55 {
		t.Errorf("Max = %d, want 55", k)
	}
}
