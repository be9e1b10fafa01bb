package pool

import (
	"errors"
	"log/slog"

	"github.com/hicpool/pool-engine/internal/access"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/timer"
)

// Components lists every internal component that initEcosystem must wire.
var Components = []access.Component{
	access.ComponentPool,
	access.ComponentBond,
	access.ComponentBank,
	access.ComponentPolicy,
	access.ComponentSettlement,
	access.ComponentAdjustor,
	access.ComponentTimer,
}

// initEcosystem wires the component allow-list and starts the pool clock.
// It may run only once.
func (t *tx) initEcosystem(caller model.Address, addresses map[access.Component]model.Address, isWinterTime bool) error {
	if err := t.st.External.Check(caller); err != nil {
		return err
	}
	if t.st.Initialised {
		return conflict("ecosystem already initialised")
	}
	for _, c := range Components {
		adr := addresses[c]
		if adr == "" {
			return invalid("no address for component %s", c)
		}
		t.st.Internal.Set(c, adr)
	}

	t.st.Initialised = true
	t.st.IsWinterTime = isWinterTime
	t.st.CurrentPoolDay = poolDayAt(t.p, isWinterTime, t.now)
	t.st.NextOvernightProcessing = t.dayStart(t.st.CurrentPoolDay + 1)
	t.st.Jobs.Schedule(timer.KindOvernight, model.EmptyHash, t.st.NextOvernightProcessing)
	t.st.Jobs.Schedule(timer.KindYield, model.EmptyHash, t.now+t.p.YacIntervalSec)

	t.trustEvent("SetInitialProcessingTime", caller, t.st.NextOvernightProcessing)
	t.log(slog.LevelInfo, "ecosystem initialised", "pool_day", t.st.CurrentPoolDay, "next_overnight", t.st.NextOvernightProcessing, "winter_time", isWinterTime)
	return nil
}

// setWcExpenses overrides the expense forecast for the next overnight run.
func (t *tx) setWcExpenses(caller model.Address, amount int64) error {
	if err := t.st.External.Check(caller); err != nil {
		return err
	}
	if amount < 0 {
		return invalid("expenses must not be negative")
	}
	t.st.WcExpCu = amount
	t.st.OverwriteWcExpenses = true
	t.trustEvent("SetWcExpenses", caller, amount)
	return nil
}

// adjustDaylightSaving switches between summer and winter time. The shift
// of pool midnight is applied by the next overnight run.
func (t *tx) adjustDaylightSaving(caller model.Address) error {
	if err := t.st.External.Check(caller); err != nil {
		return err
	}
	if t.st.DaylightSavingPending {
		return conflict("daylight saving change already pending")
	}
	t.st.IsWinterTime = !t.st.IsWinterTime
	t.st.DaylightSavingPending = true
	name := "ChangeToSummerTime"
	if t.st.IsWinterTime {
		name = "ChangeToWinterTime"
	}
	t.trustEvent(name, caller, t.st.NextOvernightProcessing)
	return nil
}

func (t *tx) accessEvent(name string, caller, key model.Address) {
	var secondary model.Hash
	if key != "" {
		secondary = AddressHash(key)
	}
	t.emit(model.Event{
		Category:  model.CategoryAccess,
		Name:      name,
		Subject:   AddressHash(caller),
		Secondary: secondary,
		Info:      int64(t.st.External.KeyCount()),
	})
}

func (t *tx) preAuth(caller model.Address) error {
	if err := t.st.External.PreAuth(caller, t.now, t.p.PreAuthDurationSec); err != nil {
		return err
	}
	t.accessEvent("PreAuth", caller, "")
	return nil
}

func (t *tx) addKey(caller, key model.Address) error {
	if err := t.st.External.AddKey(caller, key, t.now); err != nil {
		return wrapAccess(err)
	}
	t.accessEvent("AddKey", caller, key)
	return nil
}

func (t *tx) rotateKey(caller model.Address) error {
	dropped := t.st.External.Keys[0]
	if err := t.st.External.RotateKey(caller, t.now); err != nil {
		return wrapAccess(err)
	}
	t.accessEvent("RotateKey", caller, dropped)
	return nil
}

// wrapAccess maps key-set errors that are not authorisation failures onto
// the pool taxonomy.
func wrapAccess(err error) error {
	switch {
	case errors.Is(err, access.ErrKeySlotsFull):
		return conflict("%v", err)
	case errors.Is(err, access.ErrInvalidKey):
		return invalid("%v", err)
	}
	return err
}
