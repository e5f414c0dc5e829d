package visited

import "testing"

func TestVisitReset(t *testing.T) {
	s := New(16)
	if s.Visited(3) {
		t.Fatal("fresh set should be empty")
	}
	s.Visit(3)
	s.Visit(3)
	s.Visit(200) // forces growth
	if !s.Visited(3) || !s.Visited(200) {
		t.Fatal("visited ordinals should report true")
	}
	if s.Count() != 2 {
		t.Fatalf("count: got %d", s.Count())
	}
	s.Reset()
	if s.Visited(3) || s.Visited(200) {
		t.Fatal("reset should clear all visited ordinals")
	}
	if s.Count() != 0 {
		t.Fatalf("count after reset: got %d", s.Count())
	}
}

func TestDenseReset(t *testing.T) {
	s := New(64)
	for i := 0; i < 4096; i++ {
		s.Visit(i)
	}
	s.Reset()
	for i := 0; i < 4096; i++ {
		if s.Visited(i) {
			t.Fatalf("ordinal %d should be cleared", i)
		}
	}
}
