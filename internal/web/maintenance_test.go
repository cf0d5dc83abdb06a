package web

import (
	"context"
	"testing"
	"time"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/cache"
	"github.com/asd12288/meydacrm/internal/db/dbtest"
	"github.com/asd12288/meydacrm/internal/lead"
)

func TestMaintenanceSweepsStaleStats(t *testing.T) {
	d := dbtest.Open(t)
	mem := cache.NewMemory()
	srv, err := NewServer(d, Config{BaseURL: "http://localhost:8080", DevMode: true, StatsTTL: time.Millisecond},
		Services{Cache: mem, Mailer: &outbox{}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.hub.Close)

	ctx := context.Background()
	admin := auth.Principal{ProfileID: dbtest.Profile(t, d, "admin", "admin"), Role: auth.RoleAdmin}
	for i := 0; i < 5; i++ {
		if _, err := srv.leads.Create(ctx, lead.Input{LastName: "Durand"}, admin); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := srv.leads.Stats(ctx, admin); err != nil {
			t.Fatalf("Stats: %v", err)
		}
	}
	if mem.Len() < 5 {
		t.Fatalf("cache holds %d entries, want one per stats generation", mem.Len())
	}

	m := srv.Maintenance(0)
	if m.Cache == nil {
		t.Fatal("in-memory cache not handed to maintenance")
	}
	time.Sleep(10 * time.Millisecond)
	if err := m.SweepCache(ctx); err != nil {
		t.Fatalf("SweepCache: %v", err)
	}
	if n := mem.Len(); n != 1 {
		t.Errorf("cache holds %d entries after sweep, want only the generation key", n)
	}
}
