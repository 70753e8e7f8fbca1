package cache

import (
	"testing"
	"time"
)

func TestSetGetRemove(t *testing.T) {
	c := New[string, int](4, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache returned a value")
	}

	c.Set("a", 1)
	c.Set("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d,%v", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("removed key still present")
	}
}

func TestEvictsAtCapacity(t *testing.T) {
	c := New[int, int](2, time.Minute)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3)

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get(1); ok {
		t.Fatal("oldest entry survived past capacity")
	}
	if v, ok := c.Get(3); !ok || v != 3 {
		t.Fatal("newest entry missing")
	}
}

func TestZeroSizeUsesDefault(t *testing.T) {
	c := New[string, string](0, time.Minute)
	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatal("default-sized cache unusable")
	}
}
