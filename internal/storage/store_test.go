package storage

import (
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryStore_CreateRead(t *testing.T) {
	store := NewInMemoryStore()

	if !store.Create("key1", "value1") {
		t.Fatal("Expected create of a new key to succeed")
	}
	v, ok := store.Read("key1")
	if !ok {
		t.Fatal("Expected key1 to exist")
	}
	if v != "value1" {
		t.Errorf("Expected 'value1', got '%s'", v)
	}

	if store.Create("key1", "other") {
		t.Error("Expected create of an existing key to fail")
	}
	if v, _ := store.Read("key1"); v != "value1" {
		t.Errorf("Failed create must not overwrite, got '%s'", v)
	}
}

func TestInMemoryStore_ReadNotFound(t *testing.T) {
	store := NewInMemoryStore()
	if v, ok := store.Read("nonexistent"); ok || v != "" {
		t.Errorf("Expected no value for a missing key, got %q", v)
	}
}

func TestInMemoryStore_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		seed   bool
		op     func(s *InMemoryStore) bool
		want   bool
		exists bool
		value  string
	}{
		{"update missing", false, func(s *InMemoryStore) bool { return s.Update("k", "v2") }, false, false, ""},
		{"update present", true, func(s *InMemoryStore) bool { return s.Update("k", "v2") }, true, true, "v2"},
		{"delete missing", false, func(s *InMemoryStore) bool { return s.Delete("k") }, false, false, ""},
		{"delete present", true, func(s *InMemoryStore) bool { return s.Delete("k") }, true, false, ""},
		{"create present", true, func(s *InMemoryStore) bool { return s.Create("k", "v2") }, false, true, "v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryStore()
			if tt.seed {
				store.Create("k", "v1")
			}
			if got := tt.op(store); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			v, ok := store.Read("k")
			if ok != tt.exists || v != tt.value {
				t.Errorf("Expected (%q, %v), got (%q, %v)", tt.value, tt.exists, v, ok)
			}
		})
	}
}

func TestInMemoryStore_SnapshotIsCopy(t *testing.T) {
	store := NewInMemoryStore()
	store.Create("a", "1")
	store.Create("b", "2")

	snap := store.Snapshot()
	if len(snap) != 2 || store.Len() != 2 {
		t.Fatalf("Expected 2 entries, got snapshot=%d len=%d", len(snap), store.Len())
	}
	snap["c"] = "3"
	delete(snap, "a")
	if store.Len() != 2 {
		t.Error("Mutating the snapshot changed the store")
	}
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	store := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d-%d", i, j)
				store.Create(key, "v")
				store.Read(key)
				store.Update(key, "w")
			}
		}(i)
	}
	wg.Wait()
	if store.Len() != 800 {
		t.Errorf("Expected 800 keys, got %d", store.Len())
	}
}
