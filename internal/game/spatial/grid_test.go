package spatial

import (
	"reflect"
	"testing"
)

// TestGridQueryRadius verifies neighbours come back sorted and far entities are skipped
func TestGridQueryRadius(t *testing.T) {
	g := NewGrid(1000, 1000, 50, 16)
	g.Insert(3, 110, 110)
	g.Insert(1, 100, 100)
	g.Insert(2, 900, 900)
	g.Insert(0, 140, 90)

	got := g.QueryRadius(100, 100, 50)
	want := []int{0, 1, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("QueryRadius = %v, want %v", got, want)
	}

	g.Clear()
	if n := len(g.QueryRadius(100, 100, 50)); n != 0 {
		t.Errorf("expected empty grid after Clear, got %d candidates", n)
	}
}

// TestGridClampsOutOfBounds ensures positions outside the stage land in border cells
func TestGridClampsOutOfBounds(t *testing.T) {
	g := NewGrid(100, 100, 10, 4)
	g.Insert(7, -50, 500)

	stats := g.Stats()
	if stats.TotalEntities != 1 {
		t.Fatalf("TotalEntities = %d, want 1", stats.TotalEntities)
	}
	if got := g.QueryRadius(0, 99, 1); len(got) != 1 || got[0] != 7 {
		t.Errorf("expected entity 7 in the top-left cell, got %v", got)
	}
}

// TestSwapListCapAndRemove checks capacity caps and swap-remove semantics
func TestSwapListCapAndRemove(t *testing.T) {
	l := NewSwapList[int](3)
	for i := 1; i <= 4; i++ {
		added := l.Add(i)
		if i <= 3 && !added {
			t.Errorf("Add(%d) rejected below cap", i)
		}
		if i == 4 && added {
			t.Error("Add accepted an item beyond cap")
		}
	}

	removed := l.RemoveIf(func(v int) bool { return v == 1 })
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if want := []int{3, 2}; !reflect.DeepEqual(l.Items(), want) {
		t.Errorf("Items = %v, want %v (last moved into freed slot)", l.Items(), want)
	}
	if !l.Add(9) {
		t.Error("expected room after removal")
	}
}
