package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/robertarktes/event-bookings/internal/config"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

func TestOpenStore_SQLite(t *testing.T) {
	cfg := &config.Config{DBDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "bookings.db")}
	store, closeFn, err := OpenStore(context.Background(), cfg, observability.NewNopLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	b, created, err := store.CreateBooking(context.Background(), 1, 2, nil)
	if err != nil || !created || b.ID == 0 {
		t.Errorf("expected a new booking, got %+v created=%v err=%v", b, created, err)
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := &config.Config{DBDriver: "mysql"}
	if _, _, err := OpenStore(context.Background(), cfg, observability.NewNopLogger()); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}

func TestBookingQueues(t *testing.T) {
	queues := BookingQueues()
	if len(queues) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(queues))
	}
	seen := map[string]bool{}
	for _, q := range queues {
		if q.Exchange != domain.EventsExchange || q.DLX != domain.DeadLetterExchange {
			t.Errorf("%s: unexpected exchanges %s/%s", q.Queue, q.Exchange, q.DLX)
		}
		if len(q.Bindings) != 1 || q.Bindings[0] != domain.RKBookingConfirmed {
			t.Errorf("%s: unexpected bindings %v", q.Queue, q.Bindings)
		}
		seen[q.Queue] = true
	}
	if !seen[domain.QueueNotifications] || !seen[domain.QueueActivities] {
		t.Errorf("missing a queue: %v", seen)
	}
}
