package access_test

import (
	"errors"
	"testing"

	"github.com/hicpool/pool-engine/internal/access"
	"github.com/hicpool/pool-engine/internal/model"
)

func keys(e access.External) []model.Address {
	return e.Keys[:]
}

func assertKeys(t *testing.T, e access.External, want ...model.Address) {
	t.Helper()
	for i := 0; i < access.MaxKeys; i++ {
		var w model.Address
		if i < len(want) {
			w = want[i]
		}
		if keys(e)[i] != w {
			t.Fatalf("key slot %d = %q, want %q (keys %v)", i, keys(e)[i], w, keys(e))
		}
	}
}

func TestExternal_KeyLifecycle(t *testing.T) {
	const now = 1000
	e := access.NewExternal("k0")
	assertKeys(t, e, "k0")

	// Fewer than three keys: no pre-authorisation needed.
	if err := e.AddKey("k0", "k1", now); err != nil {
		t.Fatal(err)
	}
	if err := e.AddKey("k1", "k2", now); err != nil {
		t.Fatal(err)
	}
	assertKeys(t, e, "k0", "k1", "k2")

	// Three keys: adding without pre-authorisation fails.
	if err := e.AddKey("k2", "k3", now); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	// Pre-authorisation by the same key is not enough.
	if err := e.PreAuth("k2", now, 3600); err != nil {
		t.Fatal(err)
	}
	if err := e.AddKey("k2", "k3", now); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("self pre-auth should be rejected, got %v", err)
	}

	if err := e.PreAuth("k1", now, 3600); err != nil {
		t.Fatal(err)
	}
	if err := e.AddKey("k2", "k3", now); err != nil {
		t.Fatal(err)
	}
	if e.PreAuthKey != "" || e.PreAuthExpiry != 0 {
		t.Error("pre-authorisation should be consumed")
	}

	e.PreAuth("k1", now, 3600)
	e.PreAuth("k2", now, 3600)
	if err := e.AddKey("k1", "k4", now); err != nil {
		t.Fatal(err)
	}
	assertKeys(t, e, "k0", "k1", "k2", "k3", "k4")

	e.PreAuth("k3", now, 3600)
	if err := e.RotateKey("k4", now); err != nil {
		t.Fatal(err)
	}
	assertKeys(t, e, "k1", "k2", "k3", "k4")

	if err := e.Check("k0"); !errors.Is(err, access.ErrUnauthorized) {
		t.Error("rotated-out key must lose access")
	}
}

func TestExternal_PreAuthExpires(t *testing.T) {
	e := access.NewExternal("k0")
	e.AddKey("k0", "k1", 0)
	e.AddKey("k0", "k2", 0)

	e.PreAuth("k0", 100, 60)
	if err := e.AddKey("k1", "k3", 161); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expired pre-auth should fail, got %v", err)
	}
	if err := e.AddKey("k1", "k3", 160); err != nil {
		t.Fatalf("pre-auth at expiry should pass: %v", err)
	}
}

func TestExternal_NonKeyCannotPreAuth(t *testing.T) {
	e := access.NewExternal("k0")
	if err := e.PreAuth("stranger", 0, 60); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("got %v", err)
	}
	if err := e.AddKey("k0", "k0", 0); !errors.Is(err, access.ErrInvalidKey) {
		t.Fatalf("duplicate key: got %v", err)
	}
}

func TestInternal_Check(t *testing.T) {
	in := access.NewInternal()
	in.Set(access.ComponentTimer, "timer-adr")

	if err := in.Check(access.ComponentTimer, "timer-adr"); err != nil {
		t.Fatal(err)
	}
	if err := in.Check(access.ComponentTimer, "other"); !errors.Is(err, access.ErrUnauthorized) {
		t.Errorf("got %v", err)
	}
	if err := in.Check(access.ComponentBank, ""); !errors.Is(err, access.ErrUnauthorized) {
		t.Errorf("unwired component should reject, got %v", err)
	}
}
