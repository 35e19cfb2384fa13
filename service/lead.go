package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phbpx/leadtrack"
	"go.uber.org/zap"
)

// LeadConfig holds the tunables of the lead lifecycle.
type LeadConfig struct {
	StaffNationalID leadtrack.NationalIDRule
	LinkNationalID  leadtrack.NationalIDRule
	// Location defines calendar months for duplicate detection.
	Location *time.Location
}

// LeadService creates, lists, updates and deletes leads.
type LeadService struct {
	leads  leadtrack.LeadStore
	users  leadtrack.UserStore
	events leadtrack.EventPublisher
	log    *zap.SugaredLogger
	cfg    LeadConfig
	now    func() time.Time
}

func NewLeadService(leads leadtrack.LeadStore, users leadtrack.UserStore, events leadtrack.EventPublisher, log *zap.SugaredLogger, cfg LeadConfig) *LeadService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StaffNationalID.Digits == 0 {
		cfg.StaffNationalID = leadtrack.StaffNationalID
	}
	if cfg.LinkNationalID.Digits == 0 {
		cfg.LinkNationalID = leadtrack.LinkNationalID
	}
	return &LeadService{
		leads:  leads,
		users:  users,
		events: events,
		log:    log,
		cfg:    cfg,
		now:    time.Now,
	}
}

// FindConflict looks for a lead created this calendar month with the same
// PAN or national id, anywhere in the system.
func (s *LeadService) FindConflict(ctx context.Context, pan, nationalID string) (*leadtrack.Lead, error) {
	var conflict *leadtrack.Lead
	err := s.leads.WithinTx(ctx, func(ctx context.Context, tx leadtrack.LeadTx) error {
		var err error
		conflict, err = s.findConflict(ctx, tx, leadtrack.NormalizePAN(pan), nationalID, s.stamp())
		return err
	})
	return conflict, err
}

func (s *LeadService) findConflict(ctx context.Context, tx leadtrack.LeadTx, pan, nationalID string, now time.Time) (*leadtrack.Lead, error) {
	from, to := leadtrack.MonthWindow(now.In(s.cfg.Location))
	conflict, err := tx.FindConflict(ctx, pan, nationalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("finding conflicting lead: %w", err)
	}
	return conflict, nil
}

// Create records a lead entered by an authenticated staff member.
func (s *LeadService) Create(ctx context.Context, caller leadtrack.Identity, in leadtrack.NewLead) (leadtrack.Lead, error) {
	if err := leadtrack.Authorize(caller, caller.UserID, leadtrack.CapCreate); err != nil {
		return leadtrack.Lead{}, err
	}
	lead, err := s.create(ctx, in, s.cfg.StaffNationalID, leadtrack.SourceManual, caller.UserID, leadtrack.ErrUserNotFound)
	if err != nil {
		return leadtrack.Lead{}, err
	}
	s.publish(ctx, leadtrack.EventLeadCreated, caller.UserID, lead)
	return lead, nil
}

// CreateFromLink records a lead submitted through the referral link of
// referrerID.
func (s *LeadService) CreateFromLink(ctx context.Context, referrerID string, in leadtrack.NewLead) (leadtrack.Lead, error) {
	lead, err := s.create(ctx, in, s.cfg.LinkNationalID, leadtrack.SourceLink, referrerID, leadtrack.ErrInvalidReferral)
	if err != nil {
		return leadtrack.Lead{}, err
	}
	s.publish(ctx, leadtrack.EventLeadCreated, "", lead)
	return lead, nil
}

func (s *LeadService) create(ctx context.Context, in leadtrack.NewLead, rule leadtrack.NationalIDRule, source leadtrack.Source, creatorID string, missingCreator error) (leadtrack.Lead, error) {
	if err := leadtrack.ValidateNewLead(&in, rule); err != nil {
		return leadtrack.Lead{}, err
	}

	var lead leadtrack.Lead
	err := s.leads.WithinTx(ctx, func(ctx context.Context, tx leadtrack.LeadTx) error {
		if err := tx.LockIdentifiers(ctx, in.PANNumber, in.NationalID); err != nil {
			return fmt.Errorf("locking identifiers: %w", err)
		}

		now := s.stamp()
		conflict, err := s.findConflict(ctx, tx, in.PANNumber, in.NationalID, now)
		if err != nil {
			return err
		}
		if conflict != nil {
			return &leadtrack.ConflictError{LeadID: conflict.ID, Creator: conflict.CreatedBy}
		}

		creator, err := s.users.User(ctx, creatorID)
		if err != nil {
			if errors.Is(err, leadtrack.ErrUserNotFound) {
				return missingCreator
			}
			return fmt.Errorf("resolving creator: %w", err)
		}
		if !creator.Role.Valid() {
			return missingCreator
		}

		lead = newLead(in, source, creator, now)
		if err := tx.CreateLead(ctx, lead); err != nil {
			return fmt.Errorf("creating lead: %w", err)
		}
		return nil
	})
	if err != nil {
		return leadtrack.Lead{}, err
	}
	return lead, nil
}

func newLead(in leadtrack.NewLead, source leadtrack.Source, creator leadtrack.User, now time.Time) leadtrack.Lead {
	// Already validated, parse errors cannot happen here.
	employment, _ := leadtrack.ParseEmploymentType(in.EmploymentType)
	reason, _ := leadtrack.ParseRejectionReason(in.RejectionReason)
	status := leadtrack.StatusNew
	if in.Status != "" {
		status, _ = leadtrack.ParseStatus(in.Status)
	}

	return leadtrack.Lead{
		ID:              uuid.NewString(),
		CustomerName:    in.CustomerName,
		MobileNumber:    in.MobileNumber,
		PANNumber:       in.PANNumber,
		NationalID:      in.NationalID,
		PreferredBank:   in.PreferredBank,
		EmploymentType:  employment,
		MonthlyIncome:   in.MonthlyIncome,
		Status:          status,
		RejectionReason: reason,
		RejectionNotes:  in.RejectionNotes,
		Source:          source,
		CreatedBy:       creator.Ref(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// List returns every lead for a SUPER ADMIN and the caller's own leads for
// anyone else.
func (s *LeadService) List(ctx context.Context, caller leadtrack.Identity) ([]leadtrack.Lead, error) {
	if err := leadtrack.Authorize(caller, caller.UserID, leadtrack.CapCreate); err != nil {
		return nil, err
	}
	leads, err := s.leads.Leads(ctx, leadtrack.LeadFilter{CreatedBy: leadtrack.OwnerScope(caller)})
	if err != nil {
		return nil, fmt.Errorf("listing leads: %w", err)
	}
	return leads, nil
}

// Get returns one lead with its edit history.
func (s *LeadService) Get(ctx context.Context, caller leadtrack.Identity, id string) (leadtrack.Lead, error) {
	lead, err := s.leads.Lead(ctx, id)
	if err != nil {
		return leadtrack.Lead{}, err
	}
	if err := leadtrack.Authorize(caller, lead.CreatedBy.ID, leadtrack.CapModify); err != nil {
		return leadtrack.Lead{}, err
	}
	return lead, nil
}

// Update applies patch and appends one edit history entry holding the state
// before and after the change. Both writes share one transaction.
func (s *LeadService) Update(ctx context.Context, caller leadtrack.Identity, id string, patch leadtrack.LeadPatch) (leadtrack.Lead, error) {
	err := s.leads.WithinTx(ctx, func(ctx context.Context, tx leadtrack.LeadTx) error {
		lead, err := tx.LeadForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := leadtrack.Authorize(caller, lead.CreatedBy.ID, leadtrack.CapModify); err != nil {
			return err
		}

		previous := lead.Snapshot()
		if err := leadtrack.ApplyPatch(&lead, patch, s.cfg.StaffNationalID); err != nil {
			return err
		}

		now := s.stamp()
		lead.UpdatedAt = now
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return fmt.Errorf("updating lead: %w", err)
		}

		entry := leadtrack.EditHistoryEntry{
			EditedBy:     leadtrack.UserRef{ID: caller.UserID},
			EditedAt:     now,
			PreviousData: previous,
			NewData:      lead.Snapshot(),
		}
		if err := tx.AppendHistory(ctx, id, entry); err != nil {
			return fmt.Errorf("appending edit history: %w", err)
		}
		return nil
	})
	if err != nil {
		return leadtrack.Lead{}, err
	}

	lead, err := s.leads.Lead(ctx, id)
	if err != nil {
		return leadtrack.Lead{}, err
	}
	s.publish(ctx, leadtrack.EventLeadUpdated, caller.UserID, lead)
	return lead, nil
}

// Delete removes a lead for good.
func (s *LeadService) Delete(ctx context.Context, caller leadtrack.Identity, id string) error {
	err := s.leads.WithinTx(ctx, func(ctx context.Context, tx leadtrack.LeadTx) error {
		lead, err := tx.LeadForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := leadtrack.Authorize(caller, lead.CreatedBy.ID, leadtrack.CapModify); err != nil {
			return err
		}
		return tx.DeleteLead(ctx, id)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, leadtrack.EventLeadDeleted, caller.UserID, leadtrack.Lead{ID: id})
	return nil
}

// stamp returns the current time at the precision Postgres stores, so a
// lead's creation time always falls inside the month window it was checked
// against.
func (s *LeadService) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *LeadService) publish(ctx context.Context, eventType, actorID string, lead leadtrack.Lead) {
	if s.events == nil {
		return
	}
	event := leadtrack.LeadEvent{
		Type:       eventType,
		LeadID:     lead.ID,
		ActorID:    actorID,
		OccurredAt: s.now().UTC(),
	}
	if eventType != leadtrack.EventLeadDeleted {
		snapshot := lead.Snapshot()
		event.Lead = &snapshot
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Errorw("publish", "event", eventType, "lead_id", lead.ID, "error", err.Error())
	}
}
