// Package hashmap implements the append/archive registry every pool entity
// type uses to track active and archived records by hash.
//
// Ordinals start at 1, are assigned in insertion order and are never
// reused. First is the lowest ordinal that may still be active, Next the
// ordinal the next insert receives and Count the number of active entries.
package hashmap

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hicpool/pool-engine/internal/model"
)

var (
	ErrDuplicateHash = errors.New("hashmap: hash already present")
	ErrNotFound      = errors.New("hashmap: hash not active")
)

// State of a hash within a registry.
type State int

const (
	Inactive State = iota
	Active
	Archived
)

// Entry is the registry record of one hash.
type Entry struct {
	Ordinal uint64 `json:"ordinal"`
	State   State  `json:"state"`
}

// Registry maps hashes to ordinal slots. The zero value is not usable; call New.
type Registry struct {
	First   uint64               `json:"first"`
	Next    uint64               `json:"next"`
	Count   uint64               `json:"count"`
	Entries map[model.Hash]Entry `json:"entries"`
	Hashes  []model.Hash         `json:"hashes"` // Hashes[ordinal-1]
}

func New() *Registry {
	return &Registry{
		First:   1,
		Next:    1,
		Entries: make(map[model.Hash]Entry),
	}
}

// Insert adds h as an active entry and returns its ordinal.
func (r *Registry) Insert(h model.Hash) (uint64, error) {
	if _, ok := r.Entries[h]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateHash, h)
	}
	ord := r.Next
	r.Entries[h] = Entry{Ordinal: ord, State: Active}
	r.Hashes = append(r.Hashes, h)
	r.Next++
	r.Count++
	return ord, nil
}

// Archive retires an active entry. Archiving the entry at First moves First
// forward past every archived ordinal.
func (r *Registry) Archive(h model.Hash) error {
	e, ok := r.Entries[h]
	if !ok || e.State != Active {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	e.State = Archived
	r.Entries[h] = e
	r.Count--
	for r.First < r.Next && r.Entries[r.Hashes[r.First-1]].State == Archived {
		r.First++
	}
	return nil
}

func (r *Registry) IsActive(h model.Hash) bool { return r.Entries[h].State == Active }

func (r *Registry) IsArchived(h model.Hash) bool { return r.Entries[h].State == Archived }

// IsValid reports whether h has ever been inserted.
func (r *Registry) IsValid(h model.Hash) bool {
	_, ok := r.Entries[h]
	return ok
}

// Get returns the hash stored at ordinal.
func (r *Registry) Get(ordinal uint64) (model.Hash, bool) {
	if ordinal == 0 || ordinal >= r.Next {
		return model.EmptyHash, false
	}
	return r.Hashes[ordinal-1], true
}

// Info returns the first possibly-active ordinal, the next ordinal to be
// assigned and the number of active entries.
func (r *Registry) Info() (first, next, count uint64) {
	return r.First, r.Next, r.Count
}

// Active returns the active hashes in ordinal order.
func (r *Registry) Active() []model.Hash {
	out := make([]model.Hash, 0, r.Count)
	for ord := r.First; ord < r.Next; ord++ {
		h := r.Hashes[ord-1]
		if r.Entries[h].State == Active {
			out = append(out, h)
		}
	}
	return out
}

// Clone returns a deep copy.
func (r *Registry) Clone() *Registry {
	c := *r
	c.Entries = make(map[model.Hash]Entry, len(r.Entries))
	for k, v := range r.Entries {
		c.Entries[k] = v
	}
	c.Hashes = slices.Clone(r.Hashes)
	return &c
}
