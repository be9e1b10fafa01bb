package hashmap_test

import (
	"errors"
	"testing"

	"github.com/hicpool/pool-engine/internal/hashmap"
	"github.com/hicpool/pool-engine/internal/model"
)

func h(b byte) model.Hash {
	var out model.Hash
	out[31] = b
	return out
}

func assertInfo(t *testing.T, r *hashmap.Registry, first, next, count uint64) {
	t.Helper()
	gotFirst, gotNext, gotCount := r.Info()
	if gotFirst != first || gotNext != next || gotCount != count {
		t.Fatalf("info = (%d, %d, %d), want (%d, %d, %d)", gotFirst, gotNext, gotCount, first, next, count)
	}
}

func TestRegistry_InsertAndArchiveSequence(t *testing.T) {
	r := hashmap.New()
	assertInfo(t, r, 1, 1, 0)

	for i := byte(1); i <= 3; i++ {
		ord, err := r.Insert(h(i))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if ord != uint64(i) {
			t.Errorf("ordinal = %d, want %d", ord, i)
		}
	}
	assertInfo(t, r, 1, 4, 3)

	if err := r.Archive(h(2)); err != nil {
		t.Fatal(err)
	}
	assertInfo(t, r, 1, 4, 2)

	if err := r.Archive(h(1)); err != nil {
		t.Fatal(err)
	}
	assertInfo(t, r, 3, 4, 1)

	if err := r.Archive(h(3)); err != nil {
		t.Fatal(err)
	}
	assertInfo(t, r, 4, 4, 0)

	for i := byte(1); i <= 3; i++ {
		if r.IsActive(h(i)) || !r.IsArchived(h(i)) || !r.IsValid(h(i)) {
			t.Errorf("hash %d should be archived", i)
		}
		got, ok := r.Get(uint64(i))
		if !ok || got != h(i) {
			t.Errorf("Get(%d) = %s, want %s", i, got, h(i))
		}
	}
}

func TestRegistry_Errors(t *testing.T) {
	r := hashmap.New()
	if _, err := r.Insert(h(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Insert(h(1)); !errors.Is(err, hashmap.ErrDuplicateHash) {
		t.Errorf("duplicate insert: got %v", err)
	}
	if err := r.Archive(h(9)); !errors.Is(err, hashmap.ErrNotFound) {
		t.Errorf("archive absent: got %v", err)
	}
	if err := r.Archive(h(1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Archive(h(1)); !errors.Is(err, hashmap.ErrNotFound) {
		t.Errorf("archive twice: got %v", err)
	}
	// Archived hashes keep their slot and cannot be re-inserted.
	if _, err := r.Insert(h(1)); !errors.Is(err, hashmap.ErrDuplicateHash) {
		t.Errorf("re-insert archived: got %v", err)
	}
	if _, ok := r.Get(0); ok {
		t.Error("ordinal 0 must not resolve")
	}
}

func TestRegistry_ActiveAndClone(t *testing.T) {
	r := hashmap.New()
	for i := byte(1); i <= 4; i++ {
		r.Insert(h(i))
	}
	r.Archive(h(3))

	c := r.Clone()
	c.Archive(h(1))

	active := r.Active()
	if len(active) != 3 || active[0] != h(1) || active[2] != h(4) {
		t.Errorf("Active() = %v", active)
	}
	if r.Count != 3 || c.Count != 2 {
		t.Errorf("clone not independent: original %d, clone %d", r.Count, c.Count)
	}
}
