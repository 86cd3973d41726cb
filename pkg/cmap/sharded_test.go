package cmap

import (
	"fmt"
	"sync"
	"testing"
)

func TestMap_SetGetDelete(t *testing.T) {
	m := New[int]()

	m.Set("a", 1)
	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if !m.Has("a") {
		t.Fatalf("Has(a) = false")
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatalf("Get(a) after Delete returned a value")
	}
}

func TestMap_Pop(t *testing.T) {
	m := New[string]()
	m.Set("k", "v")

	v, ok := m.Pop("k")
	if !ok || v != "v" {
		t.Fatalf("Pop = %q, %v; want v, true", v, ok)
	}
	if _, ok := m.Pop("k"); ok {
		t.Fatalf("second Pop returned a value")
	}
}

func TestMap_CountAndRange(t *testing.T) {
	m := New[int]()
	for i := 0; i < 100; i++ {
		m.Set(fmt.Sprintf("key-%d", i), i)
	}

	if got := m.Count(); got != 100 {
		t.Fatalf("Count = %d, want 100", got)
	}

	seen := 0
	m.Range(func(_ string, _ int) bool {
		seen++
		return true
	})
	if seen != 100 {
		t.Fatalf("Range visited %d, want 100", seen)
	}

	if got := len(m.Keys()); got != 100 {
		t.Fatalf("len(Keys) = %d, want 100", got)
	}

	m.Clear()
	if got := m.Count(); got != 0 {
		t.Fatalf("Count after Clear = %d, want 0", got)
	}
}

func TestMap_RangeEarlyStop(t *testing.T) {
	m := New[int]()
	for i := 0; i < 10; i++ {
		m.Set(fmt.Sprintf("key-%d", i), i)
	}

	seen := 0
	m.Range(func(_ string, _ int) bool {
		seen++
		return seen < 3
	})
	if seen != 3 {
		t.Fatalf("Range visited %d after early stop, want 3", seen)
	}
}

func TestNewWithShards_InvalidFallsBack(t *testing.T) {
	for _, n := range []int{0, -1, 3, 12} {
		m := NewWithShards[int](n)
		if got := m.ShardCount(); got != DefaultShardCount {
			t.Fatalf("ShardCount(%d) = %d, want %d", n, got, DefaultShardCount)
		}
	}
	if got := NewWithShards[int](64).ShardCount(); got != 64 {
		t.Fatalf("ShardCount(64) = %d, want 64", got)
	}
}

func TestMap_ConcurrentAccess(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i)
				m.Set(key, i)
				m.Get(key)
				if i%3 == 0 {
					m.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()
}
