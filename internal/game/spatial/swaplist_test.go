package spatial

import (
	"slices"
	"testing"
)

// TestSwapListCapacity verifies Add refuses items once the list is full
func TestSwapListCapacity(t *testing.T) {
	tests := []struct {
		capacity int
		adds     int
		want     int
	}{
		{capacity: 3, adds: 2, want: 2},
		{capacity: 3, adds: 5, want: 3},
		{capacity: 0, adds: 1, want: 0},
		{capacity: -4, adds: 1, want: 0},
	}
	for _, tt := range tests {
		l := NewSwapList[int](tt.capacity)
		accepted := 0
		for i := 0; i < tt.adds; i++ {
			if l.Add(i) {
				accepted++
			}
		}
		if accepted != tt.want || l.Len() != tt.want {
			t.Errorf("capacity %d after %d adds: accepted %d, len %d, want %d",
				tt.capacity, tt.adds, accepted, l.Len(), tt.want)
		}
	}
}

// TestSwapListRemoveIfMovesLastIntoGap checks the swap-remove order
func TestSwapListRemoveIfMovesLastIntoGap(t *testing.T) {
	l := NewSwapList[int](8)
	for _, v := range []int{10, 11, 12, 13, 14} {
		l.Add(v)
	}

	if n := l.RemoveIf(func(v int) bool { return v == 11 }); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	if want := []int{10, 14, 12, 13}; !slices.Equal(l.Items(), want) {
		t.Errorf("items = %v, want %v", l.Items(), want)
	}

	// The element swapped into a freed slot is itself tested.
	if n := l.RemoveIf(func(v int) bool { return v%2 == 0 }); n != 3 {
		t.Fatalf("removed %d, want 3", n)
	}
	if want := []int{13}; !slices.Equal(l.Items(), want) {
		t.Errorf("items = %v, want %v", l.Items(), want)
	}

	if !l.Add(20) || l.Len() != 2 {
		t.Error("freed slots must be reusable")
	}
}

// TestSwapListRemoveAll empties the list and clears the backing array
func TestSwapListRemoveAll(t *testing.T) {
	l := NewSwapList[*int](4)
	for i := 0; i < 4; i++ {
		v := i
		l.Add(&v)
	}
	if n := l.RemoveIf(func(*int) bool { return true }); n != 4 {
		t.Fatalf("removed %d, want 4", n)
	}
	if l.Len() != 0 {
		t.Fatalf("len = %d after removing everything", l.Len())
	}
	for i, p := range l.items[:cap(l.items)] {
		if p != nil {
			t.Errorf("slot %d still references a removed item", i)
		}
	}
}
