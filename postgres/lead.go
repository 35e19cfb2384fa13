package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/phbpx/leadtrack"
	"github.com/shopspring/decimal"
)

const leadColumns = `
	l.id,
	l.customer_name,
	l.mobile_number,
	l.pan_number,
	l.national_id,
	l.preferred_bank,
	l.employment_type,
	l.monthly_income,
	l.status,
	l.rejection_reason,
	l.rejection_notes,
	l.source,
	l.created_by,
	u.name AS creator_name,
	u.email AS creator_email,
	l.created_at,
	l.updated_at`

const leadFrom = `
	FROM leads l
	LEFT JOIN users u ON u.id = l.created_by`

type leadRow struct {
	ID              string              `db:"id"`
	CustomerName    string              `db:"customer_name"`
	MobileNumber    string              `db:"mobile_number"`
	PANNumber       string              `db:"pan_number"`
	NationalID      string              `db:"national_id"`
	PreferredBank   string              `db:"preferred_bank"`
	EmploymentType  sql.NullString      `db:"employment_type"`
	MonthlyIncome   decimal.NullDecimal `db:"monthly_income"`
	Status          string              `db:"status"`
	RejectionReason sql.NullString      `db:"rejection_reason"`
	RejectionNotes  string              `db:"rejection_notes"`
	Source          string              `db:"source"`
	CreatedBy       string              `db:"created_by"`
	CreatorName     sql.NullString      `db:"creator_name"`
	CreatorEmail    sql.NullString      `db:"creator_email"`
	CreatedAt       time.Time           `db:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at"`
}

func (r leadRow) toLead() leadtrack.Lead {
	l := leadtrack.Lead{
		ID:             r.ID,
		CustomerName:   r.CustomerName,
		MobileNumber:   r.MobileNumber,
		PANNumber:      r.PANNumber,
		NationalID:     r.NationalID,
		PreferredBank:  r.PreferredBank,
		MonthlyIncome:  r.MonthlyIncome,
		Status:         leadtrack.Status(r.Status),
		RejectionNotes: r.RejectionNotes,
		Source:         leadtrack.Source(r.Source),
		CreatedBy: leadtrack.UserRef{
			ID:    r.CreatedBy,
			Name:  r.CreatorName.String,
			Email: r.CreatorEmail.String,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.EmploymentType.Valid {
		e := leadtrack.EmploymentType(r.EmploymentType.String)
		l.EmploymentType = &e
	}
	if r.RejectionReason.Valid {
		rr := leadtrack.RejectionReason(r.RejectionReason.String)
		l.RejectionReason = &rr
	}
	return l
}

func nullable[T ~string](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

type historyRow struct {
	Seq          int            `db:"seq"`
	EditedBy     string         `db:"edited_by"`
	EditorName   sql.NullString `db:"editor_name"`
	EditorEmail  sql.NullString `db:"editor_email"`
	EditedAt     time.Time      `db:"edited_at"`
	PreviousData []byte         `db:"previous_data"`
	NewData      []byte         `db:"new_data"`
}

// Store implements leadtrack.LeadStore and leadtrack.UserStore.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db: db,
	}
}

// WithinTx runs fn in one transaction, committing when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx leadtrack.LeadTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, &leadTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Lead(ctx context.Context, id string) (leadtrack.Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return leadtrack.Lead{}, leadtrack.ErrLeadNotFound
	}

	query := `SELECT` + leadColumns + leadFrom + ` WHERE l.id = $1`

	var row leadRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leadtrack.Lead{}, leadtrack.ErrLeadNotFound
		}
		return leadtrack.Lead{}, fmt.Errorf("selecting lead: %w", err)
	}
	lead := row.toLead()

	history, err := s.history(ctx, id)
	if err != nil {
		return leadtrack.Lead{}, err
	}
	lead.EditHistory = history
	return lead, nil
}

func (s *Store) history(ctx context.Context, leadID string) ([]leadtrack.EditHistoryEntry, error) {
	query := `
	SELECT
		h.seq,
		h.edited_by,
		u.name AS editor_name,
		u.email AS editor_email,
		h.edited_at,
		h.previous_data,
		h.new_data
	FROM lead_edit_history h
	LEFT JOIN users u ON u.id = h.edited_by
	WHERE h.lead_id = $1
	ORDER BY h.seq`

	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, query, leadID); err != nil {
		return nil, fmt.Errorf("selecting edit history: %w", err)
	}

	entries := make([]leadtrack.EditHistoryEntry, 0, len(rows))
	for _, r := range rows {
		e := leadtrack.EditHistoryEntry{
			EditedBy: leadtrack.UserRef{ID: r.EditedBy, Name: r.EditorName.String, Email: r.EditorEmail.String},
			EditedAt: r.EditedAt,
		}
		if err := json.Unmarshal(r.PreviousData, &e.PreviousData); err != nil {
			return nil, fmt.Errorf("decoding previous data of entry %d: %w", r.Seq, err)
		}
		if err := json.Unmarshal(r.NewData, &e.NewData); err != nil {
			return nil, fmt.Errorf("decoding new data of entry %d: %w", r.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) Leads(ctx context.Context, filter leadtrack.LeadFilter) ([]leadtrack.Lead, error) {
	where, args, ok := filterClause(filter)
	if !ok {
		return []leadtrack.Lead{}, nil
	}
	query := `SELECT` + leadColumns + leadFrom + where + ` ORDER BY l.created_at DESC`

	var rows []leadRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("selecting leads: %w", err)
	}

	leads := make([]leadtrack.Lead, 0, len(rows))
	for _, r := range rows {
		leads = append(leads, r.toLead())
	}
	return leads, nil
}

func (s *Store) StatusCounts(ctx context.Context, filter leadtrack.LeadFilter) (map[leadtrack.Status]int, error) {
	counts := make(map[leadtrack.Status]int)
	where, args, ok := filterClause(filter)
	if !ok {
		return counts, nil
	}
	query := `SELECT l.status, COUNT(*) AS n FROM leads l` + where + ` GROUP BY l.status`

	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("counting leads: %w", err)
	}
	for _, r := range rows {
		counts[leadtrack.Status(r.Status)] = r.N
	}
	return counts, nil
}

// filterClause builds the WHERE clause of f. It returns false when f cannot
// match any row.
func filterClause(f leadtrack.LeadFilter) (string, []interface{}, bool) {
	var (
		conds []string
		args  []interface{}
	)
	if f.CreatedBy != "" {
		if _, err := uuid.Parse(f.CreatedBy); err != nil {
			return "", nil, false
		}
		args = append(args, f.CreatedBy)
		conds = append(conds, fmt.Sprintf("l.created_by = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, fmt.Sprintf("l.created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, fmt.Sprintf("l.created_at <= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil, true
	}
	return " WHERE " + strings.Join(conds, " AND "), args, true
}

// =============================================================================
// Transaction

type leadTx struct {
	tx *sqlx.Tx
}

// LockIdentifiers takes transaction scoped advisory locks on the PAN and the
// national id, always in the same order.
func (t *leadTx) LockIdentifiers(ctx context.Context, pan, nationalID string) error {
	keys := []string{"lead:pan:" + pan, "lead:nid:" + nationalID}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
			return err
		}
	}
	return nil
}

func (t *leadTx) FindConflict(ctx context.Context, pan, nationalID string, from, to time.Time) (*leadtrack.Lead, error) {
	query := `SELECT` + leadColumns + leadFrom + `
	WHERE (l.pan_number = $1 OR l.national_id = $2)
		AND l.created_at BETWEEN $3 AND $4
	ORDER BY l.created_at
	LIMIT 1`

	var row leadRow
	if err := t.tx.GetContext(ctx, &row, query, pan, nationalID, from, to); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	lead := row.toLead()
	return &lead, nil
}

func (t *leadTx) CreateLead(ctx context.Context, lead leadtrack.Lead) error {
	query := `
	INSERT INTO leads (
		id, customer_name, mobile_number, pan_number, national_id, preferred_bank,
		employment_type, monthly_income, status, rejection_reason, rejection_notes,
		source, created_by, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
	)`

	_, err := t.tx.ExecContext(ctx, query,
		lead.ID,
		lead.CustomerName,
		lead.MobileNumber,
		lead.PANNumber,
		lead.NationalID,
		lead.PreferredBank,
		nullable(lead.EmploymentType),
		lead.MonthlyIncome,
		string(lead.Status),
		nullable(lead.RejectionReason),
		lead.RejectionNotes,
		string(lead.Source),
		lead.CreatedBy.ID,
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err, "leads_created_by_fkey") {
			return leadtrack.ErrUserNotFound
		}
		return err
	}
	return nil
}

func (t *leadTx) LeadForUpdate(ctx context.Context, id string) (leadtrack.Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return leadtrack.Lead{}, leadtrack.ErrLeadNotFound
	}

	query := `SELECT` + leadColumns + leadFrom + ` WHERE l.id = $1 FOR UPDATE OF l`

	var row leadRow
	if err := t.tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leadtrack.Lead{}, leadtrack.ErrLeadNotFound
		}
		return leadtrack.Lead{}, fmt.Errorf("selecting lead for update: %w", err)
	}
	return row.toLead(), nil
}

// UpdateLead writes the mutable columns. Creator, source and creation time
// are never touched.
func (t *leadTx) UpdateLead(ctx context.Context, lead leadtrack.Lead) error {
	query := `
	UPDATE leads SET
		customer_name = $2,
		mobile_number = $3,
		pan_number = $4,
		national_id = $5,
		preferred_bank = $6,
		employment_type = $7,
		monthly_income = $8,
		status = $9,
		rejection_reason = $10,
		rejection_notes = $11,
		updated_at = $12
	WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query,
		lead.ID,
		lead.CustomerName,
		lead.MobileNumber,
		lead.PANNumber,
		lead.NationalID,
		lead.PreferredBank,
		nullable(lead.EmploymentType),
		lead.MonthlyIncome,
		string(lead.Status),
		nullable(lead.RejectionReason),
		lead.RejectionNotes,
		lead.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *leadTx) AppendHistory(ctx context.Context, leadID string, entry leadtrack.EditHistoryEntry) error {
	previous, err := json.Marshal(entry.PreviousData)
	if err != nil {
		return fmt.Errorf("encoding previous data: %w", err)
	}
	next, err := json.Marshal(entry.NewData)
	if err != nil {
		return fmt.Errorf("encoding new data: %w", err)
	}

	// The caller holds the row lock on the lead, so seq cannot race.
	query := `
	INSERT INTO lead_edit_history (lead_id, seq, edited_by, edited_at, previous_data, new_data)
	SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5
	FROM lead_edit_history
	WHERE lead_id = $1`

	_, err = t.tx.ExecContext(ctx, query, leadID, entry.EditedBy.ID, entry.EditedAt, string(previous), string(next))
	if err != nil {
		switch {
		case isForeignKeyViolation(err, "lead_edit_history_lead_id_fkey"):
			return leadtrack.ErrLeadNotFound
		case isForeignKeyViolation(err, "lead_edit_history_edited_by_fkey"):
			return leadtrack.ErrUserNotFound
		}
		return err
	}
	return nil
}

func (t *leadTx) DeleteLead(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return leadtrack.ErrLeadNotFound
	}
	return nil
}
