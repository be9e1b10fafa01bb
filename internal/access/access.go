// Package access gates privileged pool operations.
//
// External access is a rotating set of up to five keys. Once three or more
// keys are registered, changing the key set needs a pre-authorisation issued
// by a different key. Internal access is a fixed allow-list naming which
// address may act as each pool component.
package access

import (
	"errors"
	"fmt"

	"github.com/hicpool/pool-engine/internal/model"
)

// MaxKeys is the number of external key slots.
const MaxKeys = 5

// preAuthThreshold is the key count from which pre-authorisation is required.
const preAuthThreshold = 3

var (
	ErrUnauthorized = errors.New("access: unauthorized")
	ErrKeySlotsFull = errors.New("access: all key slots in use")
	ErrInvalidKey   = errors.New("access: invalid key")
)

// External is the rotating external key set.
type External struct {
	Keys          [MaxKeys]model.Address `json:"keys"`
	PreAuthKey    model.Address          `json:"pre_auth_key"`
	PreAuthExpiry int64                  `json:"pre_auth_expiry"`
}

// NewExternal creates a key set whose only key is the deployer.
func NewExternal(initial model.Address) External {
	var e External
	e.Keys[0] = initial
	return e
}

// IsKey reports whether adr holds one of the key slots.
func (e *External) IsKey(adr model.Address) bool {
	if adr == "" {
		return false
	}
	for _, k := range e.Keys {
		if k == adr {
			return true
		}
	}
	return false
}

// Check returns ErrUnauthorized unless caller holds a key.
func (e *External) Check(caller model.Address) error {
	if !e.IsKey(caller) {
		return fmt.Errorf("%w: %q is not an external key", ErrUnauthorized, caller)
	}
	return nil
}

// KeyCount returns the number of occupied slots.
func (e *External) KeyCount() int {
	n := 0
	for _, k := range e.Keys {
		if k != "" {
			n++
		}
	}
	return n
}

// PreAuth records a pre-authorisation by caller valid until now+duration.
// A later pre-authorisation replaces an earlier one.
func (e *External) PreAuth(caller model.Address, now, duration int64) error {
	if err := e.Check(caller); err != nil {
		return err
	}
	e.PreAuthKey = caller
	e.PreAuthExpiry = now + duration
	return nil
}

// AddKey stores key in the first free slot.
func (e *External) AddKey(caller, key model.Address, now int64) error {
	if err := e.authorise(caller, now); err != nil {
		return err
	}
	if key == "" || e.IsKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for i := range e.Keys {
		if e.Keys[i] == "" {
			e.Keys[i] = key
			e.clearPreAuth()
			return nil
		}
	}
	return ErrKeySlotsFull
}

// RotateKey drops the oldest key and shifts the remaining keys down.
func (e *External) RotateKey(caller model.Address, now int64) error {
	if err := e.authorise(caller, now); err != nil {
		return err
	}
	if e.KeyCount() < 2 {
		return fmt.Errorf("%w: cannot rotate out the last key", ErrInvalidKey)
	}
	copy(e.Keys[:], e.Keys[1:])
	e.Keys[MaxKeys-1] = ""
	e.clearPreAuth()
	return nil
}

func (e *External) authorise(caller model.Address, now int64) error {
	if err := e.Check(caller); err != nil {
		return err
	}
	if e.KeyCount() < preAuthThreshold {
		return nil
	}
	if e.PreAuthKey == "" || e.PreAuthKey == caller || now > e.PreAuthExpiry || !e.IsKey(e.PreAuthKey) {
		return fmt.Errorf("%w: pre-authorisation by a different key required", ErrUnauthorized)
	}
	return nil
}

func (e *External) clearPreAuth() {
	e.PreAuthKey = ""
	e.PreAuthExpiry = 0
}

// Component names an internal pool component.
type Component string

const (
	ComponentPool       Component = "pool"
	ComponentBond       Component = "bond"
	ComponentBank       Component = "bank"
	ComponentPolicy     Component = "policy"
	ComponentSettlement Component = "settlement"
	ComponentAdjustor   Component = "adjustor"
	ComponentTimer      Component = "timer"
)

// Internal is the component allow-list.
type Internal struct {
	Addresses map[Component]model.Address `json:"addresses"`
}

// NewInternal returns an empty allow-list.
func NewInternal() Internal {
	return Internal{Addresses: make(map[Component]model.Address)}
}

// Set wires a component address.
func (in *Internal) Set(c Component, adr model.Address) {
	if in.Addresses == nil {
		in.Addresses = make(map[Component]model.Address)
	}
	in.Addresses[c] = adr
}

// Check returns ErrUnauthorized unless caller is registered for component c.
func (in *Internal) Check(c Component, caller model.Address) error {
	if adr, ok := in.Addresses[c]; !ok || adr == "" || adr != caller {
		return fmt.Errorf("%w: %q is not the %s component", ErrUnauthorized, caller, c)
	}
	return nil
}

// IsComponent reports whether adr is registered for any component.
func (in *Internal) IsComponent(adr model.Address) bool {
	for _, a := range in.Addresses {
		if a == adr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (in Internal) Clone() Internal {
	c := NewInternal()
	for k, v := range in.Addresses {
		c.Addresses[k] = v
	}
	return c
}
