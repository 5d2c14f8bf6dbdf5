package queue

import (
	"fmt"
	"sync"
	"testing"
)

// line is a simple struct for testing the generic ring
type line struct {
	Seq  int
	Text string
}

func TestRing_New(t *testing.T) {
	q := New[line](3)
	if q == nil {
		t.Fatal("expected non-nil ring")
	}
	if !q.Empty() {
		t.Error("expected empty ring")
	}
	if q.Cap() != 3 {
		t.Errorf("expected capacity 3, got %d", q.Cap())
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	q := New[int](0)
	if q.Cap() != 1 {
		t.Fatalf("expected capacity 1, got %d", q.Cap())
	}
	q.Push(1, 2)
	if got := q.Items(); len(got) != 1 || got[0] != 2 {
		t.Errorf("expected [2], got %v", got)
	}
}

func TestRing_PushEvictsOldest(t *testing.T) {
	q := New[line](3)

	if n := q.Push(line{Seq: 1}, line{Seq: 2}, line{Seq: 3}); n != 0 {
		t.Errorf("expected no eviction, got %d", n)
	}
	if n := q.Push(line{Seq: 4}, line{Seq: 5}); n != 2 {
		t.Errorf("expected 2 evictions, got %d", n)
	}

	got := q.Items()
	if len(got) != 3 || got[0].Seq != 3 || got[1].Seq != 4 || got[2].Seq != 5 {
		t.Errorf("unexpected items: %+v", got)
	}
	if q.Dropped() != 2 {
		t.Errorf("expected 2 dropped, got %d", q.Dropped())
	}
}

func TestRing_Pop(t *testing.T) {
	q := New[line](2)

	if _, ok := q.Pop(); ok {
		t.Error("expected empty pop to report false")
	}

	q.Push(line{Seq: 1, Text: "first"}, line{Seq: 2, Text: "second"}, line{Seq: 3, Text: "third"})
	first, ok := q.Pop()
	if !ok || first.Text != "second" {
		t.Errorf("expected second, got %+v", first)
	}
	if q.Len() != 1 {
		t.Errorf("expected length 1, got %d", q.Len())
	}

	// wraps around after a pop
	q.Push(line{Seq: 4}, line{Seq: 5})
	got := q.Items()
	if len(got) != 2 || got[0].Seq != 4 || got[1].Seq != 5 {
		t.Errorf("unexpected items after wrap: %+v", got)
	}
}

func TestRing_ItemsIsCopy(t *testing.T) {
	q := New[string](2)
	q.Push("a")

	items := q.Items()
	items[0] = "mutated"

	if got := q.Items(); got[0] != "a" {
		t.Errorf("ring changed through returned slice: %v", got)
	}
}

func TestRing_GetAndEmpty(t *testing.T) {
	q := New[line](5)
	q.Push(line{Seq: 1}, line{Seq: 2}, line{Seq: 3})

	result := q.GetAndEmpty()

	if len(result) != 3 || result[0].Seq != 1 || result[2].Seq != 3 {
		t.Errorf("unexpected items: %+v", result)
	}
	if !q.Empty() {
		t.Error("expected empty ring after GetAndEmpty")
	}
}

func TestRing_Clear(t *testing.T) {
	q := New[string](3)
	q.Push("a", "b")

	q.Clear()

	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
	q.Push("c")
	if got := q.Items(); len(got) != 1 || got[0] != "c" {
		t.Errorf("expected [c], got %v", got)
	}
}

func TestRing_Concurrent(t *testing.T) {
	q := New[string](50)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.Push(fmt.Sprintf("line %d", id))
		}(i)
	}
	wg.Wait()

	if q.Len() != 50 {
		t.Errorf("expected 50 items, got %d", q.Len())
	}
	if q.Dropped() != 50 {
		t.Errorf("expected 50 dropped, got %d", q.Dropped())
	}
}
