package util

import (
	"reflect"
	"testing"
)

func TestNewLRUInvalidCapacity(t *testing.T) {
	if _, err := NewLRU(LRUConfig[string, int]{Capacity: 0}); err == nil {
		t.Fatal("expected an error for zero capacity")
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	cache, err := NewLRU(LRUConfig[string, int]{
		Capacity: 2,
		OnEvict:  func(key string, _ int) { evicted = append(evicted, key) },
	})
	if err != nil {
		t.Fatalf("NewLRU() error = %v", err)
	}

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("c", 3)

	if !reflect.DeepEqual(evicted, []string{"a"}) {
		t.Errorf("expected a to be evicted, got %v", evicted)
	}
	if _, ok := cache.Get("a"); ok {
		t.Error("expected a to be gone")
	}
	if cache.Len() != 2 {
		t.Errorf("expected len 2, got %d", cache.Len())
	}
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	cache, _ := NewLRU(LRUConfig[string, int]{Capacity: 2})

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Get("a")
	cache.Put("c", 3)

	if _, ok := cache.Get("a"); !ok {
		t.Error("expected a to survive after being touched")
	}
	if _, ok := cache.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
}

func TestLRUPutRefreshesExisting(t *testing.T) {
	cache, _ := NewLRU(LRUConfig[string, int]{Capacity: 2})

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("a", 10)
	cache.Put("c", 3)

	if v, ok := cache.Get("a"); !ok || v != 10 {
		t.Errorf("expected a=10 to survive, got %d (%v)", v, ok)
	}
	if _, ok := cache.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
}

func TestLRURemove(t *testing.T) {
	var evicted []string
	cache, _ := NewLRU(LRUConfig[string, int]{
		Capacity: 4,
		OnEvict:  func(key string, _ int) { evicted = append(evicted, key) },
	})

	cache.Put("a", 1)
	if !cache.Remove("a") {
		t.Error("expected Remove to report the entry")
	}
	if cache.Remove("a") {
		t.Error("expected second Remove to report absence")
	}
	if !reflect.DeepEqual(evicted, []string{"a"}) {
		t.Errorf("expected OnEvict for removed entry, got %v", evicted)
	}
}

func TestLRUKeysOrder(t *testing.T) {
	cache, _ := NewLRU(LRUConfig[string, int]{Capacity: 3})

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("c", 3)
	cache.Get("a")

	want := []string{"a", "c", "b"}
	if got := cache.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}
