package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/memory"
	"go.uber.org/zap"
)

// fixture is a store seeded with two admins and one super admin.
type fixture struct {
	store *memory.Store
	admin leadtrack.User
	other leadtrack.User
	super leadtrack.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	save := func(name, email string, role leadtrack.Role) leadtrack.User {
		u, err := store.SaveUser(ctx, leadtrack.User{Name: name, Email: email, Role: role})
		if err != nil {
			t.Fatalf("saving %s: %v", email, err)
		}
		return u
	}

	return fixture{
		store: store,
		admin: save("Asha", "asha@example.com", leadtrack.RoleAdmin),
		other: save("Bala", "bala@example.com", leadtrack.RoleAdmin),
		super: save("Chitra", "chitra@example.com", leadtrack.RoleSuperAdmin),
	}
}

func identity(u leadtrack.User) leadtrack.Identity {
	return leadtrack.Identity{UserID: u.ID, Role: u.Role}
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordedEvents struct {
	mu     sync.Mutex
	events []leadtrack.LeadEvent
	err    error
}

func (r *recordedEvents) Publish(_ context.Context, e leadtrack.LeadEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newLeadService(f fixture, c *clock, events leadtrack.EventPublisher) *LeadService {
	svc := NewLeadService(f.store, f.store, events, zap.NewNop().Sugar(), LeadConfig{})
	svc.now = c.now
	return svc
}

func sampleLead() leadtrack.NewLead {
	return leadtrack.NewLead{
		CustomerName: "Doe, John",
		MobileNumber: "9876543210",
		PANNumber:    "abcde1234f",
		NationalID:   "123456789012",
	}
}

func mustCreate(t *testing.T, svc *LeadService, caller leadtrack.User, in leadtrack.NewLead) leadtrack.Lead {
	t.Helper()
	lead, err := svc.Create(context.Background(), identity(caller), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return lead
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got error %v, want %v", err, target)
	}
}
