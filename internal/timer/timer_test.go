package timer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/timer"
)

func subj(b byte) model.Hash {
	var h model.Hash
	h[0] = b
	return h
}

func TestQueue_OrdersByTimeThenSchedulingOrder(t *testing.T) {
	var q timer.Queue
	q.Schedule(timer.KindBondMaturity, subj(1), 300)
	q.Schedule(timer.KindOvernight, model.EmptyHash, 100)
	q.Schedule(timer.KindPolicyReconciliation, subj(2), 100)
	q.Schedule(timer.KindYield, model.EmptyHash, 200)

	if _, ok := q.PopDue(99); ok {
		t.Fatal("nothing should be due before 100")
	}

	want := []timer.Kind{timer.KindOvernight, timer.KindPolicyReconciliation, timer.KindYield, timer.KindBondMaturity}
	for i, k := range want {
		j, ok := q.PopDue(1000)
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}
		if j.Kind != k {
			t.Errorf("pop %d = %s, want %s", i, j.Kind, k)
		}
	}
	if q.Len() != 0 {
		t.Errorf("len = %d, want 0", q.Len())
	}
}

func TestQueue_ScheduleReplaces(t *testing.T) {
	var q timer.Queue
	q.Schedule(timer.KindPolicyReconciliation, subj(1), 500)
	q.Schedule(timer.KindPolicyReconciliation, subj(1), 200)

	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	j, _ := q.Find(timer.KindPolicyReconciliation, subj(1))
	if j.At != 200 {
		t.Errorf("at = %d, want 200", j.At)
	}

	c := q.Clone()
	c.Cancel(timer.KindPolicyReconciliation, subj(1))
	if q.Len() != 1 || c.Len() != 0 {
		t.Error("clone must be independent")
	}
}

type fakePinger struct {
	due   int
	calls int
	err   error
}

func (f *fakePinger) RunNextDue(context.Context) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if f.due == 0 {
		return false, nil
	}
	f.due--
	return true, nil
}

func TestRunner_DrainProcessesOneJobPerPing(t *testing.T) {
	p := &fakePinger{due: 3}
	r := timer.NewRunner(p, 0)

	if n := r.Drain(context.Background()); n != 3 {
		t.Errorf("drained %d, want 3", n)
	}
	if p.calls != 4 {
		t.Errorf("calls = %d, want 4", p.calls)
	}
}

func TestRunner_DrainStopsOnError(t *testing.T) {
	p := &fakePinger{due: 3, err: errors.New("boom")}
	r := timer.NewRunner(p, 0)
	if n := r.Drain(context.Background()); n != 0 {
		t.Errorf("drained %d, want 0", n)
	}
}
