package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phbpx/leadtrack"
)

func TestCreateNormalizesAndDefaults(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)

	lead := mustCreate(t, svc, f.admin, sampleLead())

	if lead.PANNumber != "ABCDE1234F" {
		t.Errorf("PAN = %q, want upper-cased", lead.PANNumber)
	}
	if lead.Status != leadtrack.StatusNew {
		t.Errorf("status = %q, want New", lead.Status)
	}
	if lead.Source != leadtrack.SourceManual {
		t.Errorf("source = %q, want Manual", lead.Source)
	}
	if lead.CreatedBy.ID != f.admin.ID || lead.CreatedBy.Email != f.admin.Email {
		t.Errorf("creator = %+v, want %s", lead.CreatedBy, f.admin.Email)
	}
	if !lead.CreatedAt.Equal(c.now()) {
		t.Errorf("createdAt = %v, want %v", lead.CreatedAt, c.now())
	}
}

func TestCreateDuplicateInSameMonth(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)

	first := mustCreate(t, svc, f.admin, sampleLead())

	tests := []struct {
		name   string
		mutate func(*leadtrack.NewLead)
	}{
		{"same PAN", func(l *leadtrack.NewLead) { l.NationalID = "999999999999" }},
		{"same national id", func(l *leadtrack.NewLead) { l.PANNumber = "ZZZZZ9999Z" }},
		{"both", func(*leadtrack.NewLead) {}},
	}

	c.set(time.Date(2024, time.March, 28, 9, 0, 0, 0, time.UTC))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleLead()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), identity(f.other), in)
			wantErr(t, err, leadtrack.ErrDuplicatedLead)

			var conflict *leadtrack.ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("got %T, want *ConflictError", err)
			}
			if conflict.LeadID != first.ID {
				t.Errorf("conflict lead = %s, want %s", conflict.LeadID, first.ID)
			}
			if !strings.Contains(err.Error(), "Asha (asha@example.com)") {
				t.Errorf("message %q does not name the creator", err.Error())
			}
		})
	}

	if got := f.store.Len(); got != 1 {
		t.Fatalf("store holds %d leads, want 1", got)
	}
}

func TestCreateDuplicateInNextMonth(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 31, 10, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)

	mustCreate(t, svc, f.admin, sampleLead())

	c.set(time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC))
	mustCreate(t, svc, f.other, sampleLead())

	if got := f.store.Len(); got != 2 {
		t.Fatalf("store holds %d leads, want 2", got)
	}
}

func TestCreateDuplicateInLastMicrosecondOfMonth(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 31, 23, 59, 59, 999999500, time.UTC)}
	svc := newLeadService(f, c, nil)

	first := mustCreate(t, svc, f.admin, sampleLead())
	if want := first.CreatedAt.Truncate(time.Microsecond); !first.CreatedAt.Equal(want) {
		t.Errorf("created at %v carries sub-microsecond precision", first.CreatedAt)
	}

	c.set(time.Date(2024, time.March, 31, 23, 59, 59, 999999900, time.UTC))
	_, err := svc.Create(context.Background(), identity(f.other), sampleLead())
	wantErr(t, err, leadtrack.ErrDuplicatedLead)

	if got := f.store.Len(); got != 1 {
		t.Fatalf("store holds %d leads, want 1", got)
	}

	c.set(time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))
	mustCreate(t, svc, f.other, sampleLead())
}

func TestCreateConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), identity(f.admin), sampleLead())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created int
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		wantErr(t, err, leadtrack.ErrDuplicatedLead)
	}
	if created != 1 {
		t.Fatalf("%d creates succeeded, want exactly 1", created)
	}
}

func TestCreateValidationRunsBeforeDuplicateCheck(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)
	mustCreate(t, svc, f.admin, sampleLead())

	in := sampleLead()
	in.MobileNumber = "123"
	_, err := svc.Create(context.Background(), identity(f.admin), in)
	wantErr(t, err, leadtrack.ErrValidation)
}

func TestCreateFromLink(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)
	ctx := context.Background()

	in := sampleLead()
	in.NationalID = "1234567890123456"

	t.Run("valid referrer", func(t *testing.T) {
		lead, err := svc.CreateFromLink(ctx, f.admin.ID, in)
		if err != nil {
			t.Fatalf("create from link: %v", err)
		}
		if lead.Source != leadtrack.SourceLink || lead.CreatedBy.ID != f.admin.ID {
			t.Fatalf("got source %q creator %q", lead.Source, lead.CreatedBy.ID)
		}
	})

	t.Run("unknown referrer", func(t *testing.T) {
		other := in
		other.PANNumber = "QWERT1234Y"
		other.NationalID = "6543210987654321"
		_, err := svc.CreateFromLink(ctx, "no-such-user", other)
		wantErr(t, err, leadtrack.ErrInvalidReferral)
	})

	t.Run("staff length national id rejected", func(t *testing.T) {
		other := in
		other.NationalID = "123456789012"
		_, err := svc.CreateFromLink(ctx, f.admin.ID, other)
		wantErr(t, err, leadtrack.ErrValidation)
	})
}

func TestListScoping(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)
	ctx := context.Background()

	mustCreate(t, svc, f.admin, sampleLead())
	c.set(c.now().Add(time.Hour))
	second := sampleLead()
	second.PANNumber = "ZZZZZ9999Z"
	second.NationalID = "999999999999"
	mustCreate(t, svc, f.other, second)

	own, err := svc.List(ctx, identity(f.admin))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(own) != 1 || own[0].CreatedBy.ID != f.admin.ID {
		t.Fatalf("admin sees %d leads, want only their own", len(own))
	}

	all, err := svc.List(ctx, identity(f.super))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("super admin sees %d leads, want 2", len(all))
	}
	if all[0].CreatedBy.ID != f.other.ID {
		t.Fatalf("leads are not newest first")
	}
}

func TestUpdateHistory(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)
	ctx := context.Background()

	lead := mustCreate(t, svc, f.admin, sampleLead())

	statuses := []leadtrack.Status{leadtrack.StatusFollowUp, leadtrack.StatusApproved, leadtrack.StatusRejected}
	var previous []leadtrack.Status
	for _, st := range statuses {
		previous = append(previous, lead.Status)
		c.set(c.now().Add(time.Minute))
		status := string(st)
		var err error
		lead, err = svc.Update(ctx, identity(f.admin), lead.ID, leadtrack.LeadPatch{Status: &status})
		if err != nil {
			t.Fatalf("update to %s: %v", st, err)
		}
	}

	if len(lead.EditHistory) != len(statuses) {
		t.Fatalf("history has %d entries, want %d", len(lead.EditHistory), len(statuses))
	}
	for i, e := range lead.EditHistory {
		if e.PreviousData.Status != previous[i] {
			t.Errorf("entry %d previous status = %s, want %s", i, e.PreviousData.Status, previous[i])
		}
		if e.NewData.Status != statuses[i] {
			t.Errorf("entry %d new status = %s, want %s", i, e.NewData.Status, statuses[i])
		}
		if e.EditedBy.ID != f.admin.ID {
			t.Errorf("entry %d editor = %s", i, e.EditedBy.ID)
		}
		if len(e.PreviousData.EditHistory) != 0 || len(e.NewData.EditHistory) != 0 {
			t.Errorf("entry %d snapshots carry history", i)
		}
		if i > 0 && e.PreviousData.Status != lead.EditHistory[i-1].NewData.Status {
			t.Errorf("entry %d does not chain from entry %d", i, i-1)
		}
	}
}

func TestUpdateInvalidPatchLeavesLeadUnchanged(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)
	ctx := context.Background()

	lead := mustCreate(t, svc, f.admin, sampleLead())

	bad := "Closed"
	_, err := svc.Update(ctx, identity(f.admin), lead.ID, leadtrack.LeadPatch{Status: &bad})
	wantErr(t, err, leadtrack.ErrValidation)

	got, err := svc.Get(ctx, identity(f.admin), lead.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != leadtrack.StatusNew || len(got.EditHistory) != 0 {
		t.Fatalf("lead changed: status %s, %d history entries", got.Status, len(got.EditHistory))
	}
}

func TestOwnership(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	svc := newLeadService(f, c, nil)
	ctx := context.Background()

	lead := mustCreate(t, svc, f.admin, sampleLead())
	notes := "checked"

	_, err := svc.Update(ctx, identity(f.other), lead.ID, leadtrack.LeadPatch{RejectionNotes: &notes})
	wantErr(t, err, leadtrack.ErrForbidden)

	_, err = svc.Get(ctx, identity(f.other), lead.ID)
	wantErr(t, err, leadtrack.ErrForbidden)

	wantErr(t, svc.Delete(ctx, identity(f.other), lead.ID), leadtrack.ErrForbidden)

	if _, err := svc.Update(ctx, identity(f.super), lead.ID, leadtrack.LeadPatch{RejectionNotes: &notes}); err != nil {
		t.Fatalf("super admin update: %v", err)
	}
	if err := svc.Delete(ctx, identity(f.super), lead.ID); err != nil {
		t.Fatalf("super admin delete: %v", err)
	}

	wantErr(t, svc.Delete(ctx, identity(f.super), lead.ID), leadtrack.ErrLeadNotFound)
}

func TestEventsPublished(t *testing.T) {
	f := newFixture(t)
	c := &clock{t: time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)}
	events := &recordedEvents{err: errors.New("broker down")}
	svc := newLeadService(f, c, events)
	ctx := context.Background()

	lead := mustCreate(t, svc, f.admin, sampleLead())
	notes := "n"
	if _, err := svc.Update(ctx, identity(f.admin), lead.ID, leadtrack.LeadPatch{RejectionNotes: &notes}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := svc.Delete(ctx, identity(f.admin), lead.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []string{leadtrack.EventLeadCreated, leadtrack.EventLeadUpdated, leadtrack.EventLeadDeleted}
	got := events.types()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}
