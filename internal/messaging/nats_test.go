package messaging_test

import (
	"testing"

	"github.com/hicpool/pool-engine/internal/messaging"
	"github.com/hicpool/pool-engine/internal/model"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		ev   model.Event
		want string
	}{
		{model.Event{Category: model.CategoryBank}, "pool.events.bank"},
		{model.Event{Category: model.CategoryBond, Name: "ignored"}, "pool.events.bond"},
		{model.Event{Category: model.CategoryPool, Name: "BondYieldPpb"}, "pool.events.pool.BondYieldPpb"},
		{model.Event{Category: model.CategoryPool}, "pool.events.pool"},
	}
	for _, tt := range tests {
		if got := messaging.Subject(tt.ev); got != tt.want {
			t.Errorf("Subject(%s/%q) = %q, want %q", tt.ev.Category, tt.ev.Name, got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := messaging.DefaultConfig("nats://localhost:4222")
	if cfg.URL != "nats://localhost:4222" || cfg.Name == "" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.MaxReconnects >= 0 {
		t.Errorf("expected unlimited reconnects, got %d", cfg.MaxReconnects)
	}
}
