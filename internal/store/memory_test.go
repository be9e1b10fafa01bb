package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/store"
)

func event(seq uint64, cat model.Category, subject byte) model.Event {
	var h model.Hash
	h[0] = subject
	return model.Event{
		ID:        "ev",
		Seq:       seq,
		Category:  cat,
		Subject:   h,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestMemoryStoreEvents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	batch := []model.Event{
		event(1, model.CategoryBond, 1),
		event(2, model.CategoryBank, 2),
		event(3, model.CategoryBond, 1),
		event(4, model.CategoryPolicy, 3),
	}
	batch[1].Bank = &model.BankEntry{AmountCu: 500, Success: true}
	if err := s.AppendEvents(ctx, batch); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	batch[1].Bank.AmountCu = 1

	all, err := s.ListEvents(ctx, model.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	if all[1].Bank.AmountCu != 500 {
		t.Errorf("bank entry mutated: %d", all[1].Bank.AmountCu)
	}

	bonds, _ := s.ListEvents(ctx, model.EventFilter{Category: model.CategoryBond})
	if len(bonds) != 2 || bonds[0].Seq != 1 || bonds[1].Seq != 3 {
		t.Errorf("bond filter returned %+v", bonds)
	}

	var subj model.Hash
	subj[0] = 3
	bySubject, _ := s.ListEvents(ctx, model.EventFilter{Subject: subj})
	if len(bySubject) != 1 || bySubject[0].Seq != 4 {
		t.Errorf("subject filter returned %+v", bySubject)
	}

	page, _ := s.ListEvents(ctx, model.EventFilter{AfterSeq: 1, Limit: 2})
	if len(page) != 2 || page[0].Seq != 2 || page[1].Seq != 3 {
		t.Errorf("page returned %+v", page)
	}
}

func TestMemoryStoreRejectsDuplicateSeq(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	if err := s.AppendEvents(ctx, []model.Event{event(1, model.CategoryBond, 1)}); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	err := s.AppendEvents(ctx, []model.Event{event(2, model.CategoryBond, 1), event(1, model.CategoryBond, 1)})
	if err == nil {
		t.Fatal("expected duplicate seq error")
	}

	// The rejected batch is not partially applied.
	all, _ := s.ListEvents(ctx, model.EventFilter{})
	if len(all) != 1 {
		t.Errorf("expected 1 event after rejected append, got %d", len(all))
	}
}

func TestMemoryStoreSnapshots(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, snap := range []model.Snapshot{
		{ID: "a", Day: 10, LastSeq: 40, State: []byte(`{"day":10}`)},
		{ID: "b", Day: 12, LastSeq: 90, State: []byte(`{"day":12}`)},
		{ID: "c", Day: 11, LastSeq: 60, State: []byte(`{"day":11}`)},
	} {
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	latest, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.ID != "b" || latest.LastSeq != 90 {
		t.Errorf("latest = %s/%d, want b/90", latest.ID, latest.LastSeq)
	}
	if string(latest.State) != `{"day":12}` {
		t.Errorf("state = %s", latest.State)
	}
}

func TestMemoryStoreTruncateEvents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	var batch []model.Event
	for seq := uint64(1); seq <= 5; seq++ {
		batch = append(batch, event(seq, model.CategoryBond, 1))
	}
	if err := s.AppendEvents(ctx, batch); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}

	n, err := s.TruncateEvents(ctx, 3)
	if err != nil {
		t.Fatalf("TruncateEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events removed, got %d", n)
	}
	all, _ := s.ListEvents(ctx, model.EventFilter{})
	if len(all) != 3 || all[2].Seq != 3 {
		t.Errorf("expected seqs 1..3, got %+v", all)
	}

	// Truncated sequence numbers can be appended again.
	if err := s.AppendEvents(ctx, []model.Event{event(4, model.CategoryPolicy, 2)}); err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
	if n, _ := s.TruncateEvents(ctx, 10); n != 0 {
		t.Errorf("expected nothing removed past the end, got %d", n)
	}
}
