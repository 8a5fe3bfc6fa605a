package book

import "testing"

func TestOrderArenaAllocFree(t *testing.T) {
	a := NewOrderArena(3)

	i1, ok := a.Alloc()
	if !ok {
		t.Fatal("alloc failed")
	}
	i2, _ := a.Alloc()
	i3, _ := a.Alloc()
	if _, ok := a.Alloc(); ok {
		t.Error("alloc on full arena should fail")
	}
	if a.InUse() != 3 {
		t.Errorf("InUse = %d, want 3", a.InUse())
	}

	a.Get(i2).Price = 42
	a.Free(i2)
	if a.InUse() != 2 {
		t.Errorf("InUse = %d after free, want 2", a.InUse())
	}

	// Freed slot is reused and handed back zeroed.
	i4, ok := a.Alloc()
	if !ok {
		t.Fatal("alloc after free failed")
	}
	if i4 != i2 {
		t.Errorf("expected slot %d reused, got %d", i2, i4)
	}
	if a.Get(i4).Price != 0 {
		t.Error("reused slot not zeroed")
	}
	_ = i1
	_ = i3
}

func TestQueueFIFO(t *testing.T) {
	a := NewOrderArena(8)
	var q Queue
	q.head, q.tail = empty, empty

	var idxs []uint32
	for i := 0; i < 4; i++ {
		idx, _ := a.Alloc()
		a.Get(idx).ClientOrderID = uint64(i)
		q.PushBack(a, idx)
		idxs = append(idxs, idx)
	}
	if q.Len() != 4 {
		t.Fatalf("Len = %d, want 4", q.Len())
	}

	for i := 0; i < 4; i++ {
		head, ok := q.PeekFront()
		if !ok {
			t.Fatal("peek on non-empty queue failed")
		}
		if got := a.Get(head).ClientOrderID; got != uint64(i) {
			t.Fatalf("FIFO broken: head tag %d, want %d", got, i)
		}
		popped, _ := q.PopFront(a)
		if popped != head {
			t.Fatal("pop returned a different index than peek")
		}
	}
	if !q.IsEmpty() {
		t.Error("queue should be empty after draining")
	}
	if _, ok := q.PopFront(a); ok {
		t.Error("pop on empty queue should fail")
	}
	_ = idxs
}

func TestQueueRemoveMiddleAndTail(t *testing.T) {
	a := NewOrderArena(8)
	var q Queue
	q.head, q.tail = empty, empty

	var idxs []uint32
	for i := 0; i < 3; i++ {
		idx, _ := a.Alloc()
		a.Get(idx).ClientOrderID = uint64(i)
		q.PushBack(a, idx)
		idxs = append(idxs, idx)
	}

	if !q.Remove(a, idxs[1]) {
		t.Fatal("remove middle failed")
	}
	if q.Remove(a, idxs[1]) {
		t.Error("double remove should fail")
	}
	if !q.Remove(a, idxs[2]) {
		t.Fatal("remove tail failed")
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}

	// Tail must be usable after tail removal.
	idx, _ := a.Alloc()
	a.Get(idx).ClientOrderID = 9
	q.PushBack(a, idx)
	q.PopFront(a) // drops idxs[0]
	head, _ := q.PeekFront()
	if a.Get(head).ClientOrderID != 9 {
		t.Error("queue links broken after tail removal")
	}
}

func TestQueueArena(t *testing.T) {
	qa := NewQueueArena(2)
	h1, ok := qa.Alloc(50)
	if !ok {
		t.Fatal("alloc failed")
	}
	if qa.Get(h1).Price() != 50 {
		t.Errorf("price = %d, want 50", qa.Get(h1).Price())
	}
	if !qa.Get(h1).IsEmpty() {
		t.Error("fresh queue should be empty")
	}
	qa.Alloc(60)
	if _, ok := qa.Alloc(70); ok {
		t.Error("alloc past capacity should fail")
	}
	qa.Free(h1)
	if !qa.HasFree() {
		t.Error("free slot not returned to pool")
	}
}
