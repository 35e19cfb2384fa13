package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/service"
	"github.com/shopspring/decimal"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

// leadRequest is the body of a create call. Field formats are checked by the
// domain in a fixed order; the tags only bound sizes.
type leadRequest struct {
	CustomerName    string              `json:"customerName" validate:"max=200"`
	MobileNumber    string              `json:"mobileNumber" validate:"max=20"`
	PANNumber       string              `json:"panNumber" validate:"max=20"`
	NationalID      string              `json:"nationalId" validate:"max=32"`
	PreferredBank   string              `json:"preferredBank" validate:"max=100"`
	EmploymentType  string              `json:"employmentType" validate:"max=50"`
	MonthlyIncome   decimal.NullDecimal `json:"monthlyIncome"`
	Status          string              `json:"status" validate:"max=50"`
	RejectionReason string              `json:"rejectionReason" validate:"max=100"`
	RejectionNotes  string              `json:"rejectionNotes" validate:"max=2000"`
}

func (r leadRequest) toNewLead() leadtrack.NewLead {
	return leadtrack.NewLead{
		CustomerName:    r.CustomerName,
		MobileNumber:    r.MobileNumber,
		PANNumber:       r.PANNumber,
		NationalID:      r.NationalID,
		PreferredBank:   r.PreferredBank,
		EmploymentType:  r.EmploymentType,
		MonthlyIncome:   r.MonthlyIncome,
		Status:          r.Status,
		RejectionReason: r.RejectionReason,
		RejectionNotes:  r.RejectionNotes,
	}
}

// patchRequest is the body of an update call. Absent fields are unchanged.
type patchRequest struct {
	CustomerName    *string              `json:"customerName" validate:"omitempty,max=200"`
	MobileNumber    *string              `json:"mobileNumber" validate:"omitempty,max=20"`
	PANNumber       *string              `json:"panNumber" validate:"omitempty,max=20"`
	NationalID      *string              `json:"nationalId" validate:"omitempty,max=32"`
	PreferredBank   *string              `json:"preferredBank" validate:"omitempty,max=100"`
	EmploymentType  *string              `json:"employmentType" validate:"omitempty,max=50"`
	MonthlyIncome   optionalIncome       `json:"monthlyIncome"`
	Status          *string              `json:"status" validate:"omitempty,max=50"`
	RejectionReason *string              `json:"rejectionReason" validate:"omitempty,max=100"`
	RejectionNotes  *string              `json:"rejectionNotes" validate:"omitempty,max=2000"`
}

func (r patchRequest) toPatch() leadtrack.LeadPatch {
	var income *decimal.NullDecimal
	if r.MonthlyIncome.Set {
		v := r.MonthlyIncome.Value
		income = &v
	}
	return leadtrack.LeadPatch{
		CustomerName:    r.CustomerName,
		MobileNumber:    r.MobileNumber,
		PANNumber:       r.PANNumber,
		NationalID:      r.NationalID,
		PreferredBank:   r.PreferredBank,
		EmploymentType:  r.EmploymentType,
		MonthlyIncome:   income,
		Status:          r.Status,
		RejectionReason: r.RejectionReason,
		RejectionNotes:  r.RejectionNotes,
	}
}

// optionalIncome tells an explicit null, which clears the income, apart from
// an absent key, which leaves it unchanged.
type optionalIncome struct {
	Set   bool
	Value decimal.NullDecimal
}

func (o *optionalIncome) UnmarshalJSON(b []byte) error {
	o.Set = true
	return o.Value.UnmarshalJSON(b)
}

type LeadHandler struct {
	service  *service.LeadService
	validate *validator.Validate
	log      *otelzap.SugaredLogger
}

func NewLeadHandler(service *service.LeadService, log *otelzap.SugaredLogger) *LeadHandler {
	return &LeadHandler{
		service:  service,
		validate: newValidator(),
		log:      log,
	}
}

func (lh LeadHandler) Create(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req leadRequest
	if err := lh.decode(r, &req); err != nil {
		fail(ctx, rw, lh.log, "Create", err)
		return
	}

	lead, err := lh.service.Create(ctx, identityFrom(ctx), req.toNewLead())
	if err != nil {
		fail(ctx, rw, lh.log, "Create", err)
		return
	}

	respond(ctx, rw, http.StatusCreated, envelope{Success: true, Message: "Lead created successfully", Data: lead})
}

// CreateFromLink accepts a lead from the public referral form of a staff
// member. No credential is required.
func (lh LeadHandler) CreateFromLink(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req leadRequest
	if err := lh.decode(r, &req); err != nil {
		fail(ctx, rw, lh.log, "CreateFromLink", err)
		return
	}

	lead, err := lh.service.CreateFromLink(ctx, chi.URLParam(r, "userId"), req.toNewLead())
	if err != nil {
		fail(ctx, rw, lh.log, "CreateFromLink", err)
		return
	}

	respond(ctx, rw, http.StatusCreated, envelope{Success: true, Message: "Lead submitted successfully", Data: lead})
}

func (lh LeadHandler) List(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	leads, err := lh.service.List(ctx, identityFrom(ctx))
	if err != nil {
		fail(ctx, rw, lh.log, "List", err)
		return
	}
	if leads == nil {
		leads = []leadtrack.Lead{}
	}

	count := len(leads)
	respond(ctx, rw, http.StatusOK, envelope{Success: true, Count: &count, Data: leads})
}

func (lh LeadHandler) GetByID(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := leadID(r)
	if err != nil {
		fail(ctx, rw, lh.log, "GetByID", err)
		return
	}

	lead, err := lh.service.Get(ctx, identityFrom(ctx), id)
	if err != nil {
		fail(ctx, rw, lh.log, "GetByID", err)
		return
	}

	respond(ctx, rw, http.StatusOK, envelope{Success: true, Data: lead})
}

func (lh LeadHandler) Update(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := leadID(r)
	if err != nil {
		fail(ctx, rw, lh.log, "Update", err)
		return
	}

	var req patchRequest
	if err := lh.decode(r, &req); err != nil {
		fail(ctx, rw, lh.log, "Update", err)
		return
	}

	lead, err := lh.service.Update(ctx, identityFrom(ctx), id, req.toPatch())
	if err != nil {
		fail(ctx, rw, lh.log, "Update", err)
		return
	}

	respond(ctx, rw, http.StatusOK, envelope{Success: true, Message: "Lead updated successfully", Data: lead})
}

func (lh LeadHandler) Delete(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := leadID(r)
	if err != nil {
		fail(ctx, rw, lh.log, "Delete", err)
		return
	}

	if err := lh.service.Delete(ctx, identityFrom(ctx), id); err != nil {
		fail(ctx, rw, lh.log, "Delete", err)
		return
	}

	respond(ctx, rw, http.StatusOK, envelope{Success: true, Message: "Lead deleted successfully"})
}

func (lh LeadHandler) decode(r *http.Request, into interface{}) error {
	if err := decode(r, into); err != nil {
		return err
	}
	return check(lh.validate, into)
}

// leadID reads the {id} URL parameter. A malformed id cannot name a lead.
func leadID(r *http.Request) (string, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return "", leadtrack.ErrLeadNotFound
	}
	return id.String(), nil
}
