package leadtrack

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the approval state of a lead.
type Status string

const (
	StatusNew      Status = "New"
	StatusFollowUp Status = "Follow-up"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusNew, StatusFollowUp, StatusApproved, StatusRejected}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type EmploymentType string

const (
	EmploymentSalaried     EmploymentType = "Salaried"
	EmploymentSelfEmployed EmploymentType = "Self-Employed"
)

func (e EmploymentType) Valid() bool {
	return e == EmploymentSalaried || e == EmploymentSelfEmployed
}

type RejectionReason string

const (
	ReasonCIBILIssue           RejectionReason = "CIBIL Issue"
	ReasonLowIncome            RejectionReason = "Low Income"
	ReasonDocumentationMissing RejectionReason = "Documentation Missing"
	ReasonNotInterested        RejectionReason = "Not Interested"
	ReasonPoorLead             RejectionReason = "Poor Lead"
	ReasonOther                RejectionReason = "Other"
)

var rejectionReasons = []RejectionReason{
	ReasonCIBILIssue,
	ReasonLowIncome,
	ReasonDocumentationMissing,
	ReasonNotInterested,
	ReasonPoorLead,
	ReasonOther,
}

func (r RejectionReason) Valid() bool {
	for _, v := range rejectionReasons {
		if r == v {
			return true
		}
	}
	return false
}

// Source tells how a lead entered the system.
type Source string

const (
	SourceManual Source = "Manual"
	SourceLink   Source = "Link"
)

// Lead is a prospective customer application.
type Lead struct {
	ID              string              `json:"id"`
	CustomerName    string              `json:"customerName"`
	MobileNumber    string              `json:"mobileNumber"`
	PANNumber       string              `json:"panNumber"`
	NationalID      string              `json:"nationalId"`
	PreferredBank   string              `json:"preferredBank,omitempty"`
	EmploymentType  *EmploymentType     `json:"employmentType"`
	MonthlyIncome   decimal.NullDecimal `json:"monthlyIncome"`
	Status          Status              `json:"status"`
	RejectionReason *RejectionReason    `json:"rejectionReason"`
	RejectionNotes  string              `json:"rejectionNotes,omitempty"`
	Source          Source              `json:"source"`
	CreatedBy       UserRef             `json:"createdBy"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	EditHistory     []EditHistoryEntry  `json:"editHistory,omitempty"`
}

// Snapshot returns the persisted state of the lead without its edit history.
// The creator is reduced to its id so snapshots compare by stored values only.
func (l Lead) Snapshot() Lead {
	s := l
	s.CreatedBy = UserRef{ID: l.CreatedBy.ID}
	s.EditHistory = nil
	if l.EmploymentType != nil {
		e := *l.EmploymentType
		s.EmploymentType = &e
	}
	if l.RejectionReason != nil {
		r := *l.RejectionReason
		s.RejectionReason = &r
	}
	return s
}

// EditHistoryEntry records one update of a lead.
type EditHistoryEntry struct {
	EditedBy     UserRef   `json:"editedBy"`
	EditedAt     time.Time `json:"editedAt"`
	PreviousData Lead      `json:"previousData"`
	NewData      Lead      `json:"newData"`
}

// NewLead carries the customer fields of a create request.
type NewLead struct {
	CustomerName    string
	MobileNumber    string
	PANNumber       string
	NationalID      string
	PreferredBank   string
	EmploymentType  string
	MonthlyIncome   decimal.NullDecimal
	Status          string
	RejectionReason string
	RejectionNotes  string
}

// LeadPatch holds the fields an update may change. Nil means unchanged.
type LeadPatch struct {
	CustomerName    *string
	MobileNumber    *string
	PANNumber       *string
	NationalID      *string
	PreferredBank   *string
	EmploymentType  *string
	MonthlyIncome   *decimal.NullDecimal
	Status          *string
	RejectionReason *string
	RejectionNotes  *string
}

// LeadEvent is published after a lead changes.
type LeadEvent struct {
	Type       string    `json:"type"`
	LeadID     string    `json:"leadId"`
	ActorID    string    `json:"actorId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Lead       *Lead     `json:"lead,omitempty"`
}

const (
	EventLeadCreated = "lead.created"
	EventLeadUpdated = "lead.updated"
	EventLeadDeleted = "lead.deleted"
)
