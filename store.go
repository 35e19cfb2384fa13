package leadtrack

import (
	"context"
	"time"
)

// LeadFilter narrows lead queries. Zero values mean no restriction.
type LeadFilter struct {
	CreatedBy string
	From      time.Time
	To        time.Time
}

// LeadTx is the set of lead operations that run inside one transaction.
type LeadTx interface {
	// LockIdentifiers serialises transactions that create leads with the
	// same PAN or national id.
	LockIdentifiers(ctx context.Context, pan, nationalID string) error
	// FindConflict returns the oldest lead created in [from, to] whose PAN
	// or national id matches, with its creator resolved, or nil.
	FindConflict(ctx context.Context, pan, nationalID string, from, to time.Time) (*Lead, error)
	CreateLead(ctx context.Context, lead Lead) error
	// LeadForUpdate loads a lead and locks it until the transaction ends.
	LeadForUpdate(ctx context.Context, id string) (Lead, error)
	UpdateLead(ctx context.Context, lead Lead) error
	AppendHistory(ctx context.Context, leadID string, entry EditHistoryEntry) error
	DeleteLead(ctx context.Context, id string) error
}

// LeadStore persists leads and their edit history.
type LeadStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LeadTx) error) error
	// Lead returns a lead with its creator and edit history.
	Lead(ctx context.Context, id string) (Lead, error)
	// Leads returns matching leads newest first, creators resolved.
	Leads(ctx context.Context, filter LeadFilter) ([]Lead, error)
	// StatusCounts counts matching leads per status.
	StatusCounts(ctx context.Context, filter LeadFilter) (map[Status]int, error)
}

// UserStore is the identity and role store.
type UserStore interface {
	User(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UsersByRole(ctx context.Context, role Role) ([]User, error)
	// SaveUser inserts the user or updates the one with the same email.
	SaveUser(ctx context.Context, user User) (User, error)
}

// EventPublisher announces lead changes to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, event LeadEvent) error
}

// Attachment is a named binary document sent along an email.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
