package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/render"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultExportFormat is used when an export request names no format.
const DefaultExportFormat = "csv"

// DashboardStats summarises the leads visible to a caller.
type DashboardStats struct {
	TotalLeads     int                      `json:"totalLeads"`
	RecentLeads    int                      `json:"recentLeads"`
	StatusCounts   map[leadtrack.Status]int `json:"statusCounts"`
	ApprovalRatio  float64                  `json:"approvalRatio"`
	RejectionRatio float64                  `json:"rejectionRatio"`
}

// ExportRequest selects the leads of a custom range export.
type ExportRequest struct {
	StartDate string
	EndDate   string
	AdminID   string
	Format    string
}

// AdminPerformance is one row of the monthly report.
type AdminPerformance struct {
	Admin        leadtrack.User
	Total        int
	Approved     int
	Rejected     int
	ApprovalRate float64
}

// ReportService computes dashboard figures and exports.
type ReportService struct {
	leads     leadtrack.LeadStore
	users     leadtrack.UserStore
	renderers map[string]render.Renderer
	log       *zap.SugaredLogger
	loc       *time.Location
	now       func() time.Time
}

// NewReportService takes the export renderers keyed by format name.
func NewReportService(leads leadtrack.LeadStore, users leadtrack.UserStore, renderers map[string]render.Renderer, log *zap.SugaredLogger, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{
		leads:     leads,
		users:     users,
		renderers: renderers,
		log:       log,
		loc:       loc,
		now:       time.Now,
	}
}

// Dashboard counts leads by status and derives approval and rejection
// ratios as percentages.
func (s *ReportService) Dashboard(ctx context.Context, caller leadtrack.Identity) (DashboardStats, error) {
	if err := leadtrack.Authorize(caller, caller.UserID, leadtrack.CapCreate); err != nil {
		return DashboardStats{}, err
	}
	scope := leadtrack.OwnerScope(caller)

	counts, err := s.leads.StatusCounts(ctx, leadtrack.LeadFilter{CreatedBy: scope})
	if err != nil {
		return DashboardStats{}, fmt.Errorf("counting leads: %w", err)
	}
	recent, err := s.leads.StatusCounts(ctx, leadtrack.LeadFilter{
		CreatedBy: scope,
		From:      s.now().AddDate(0, 0, -30),
	})
	if err != nil {
		return DashboardStats{}, fmt.Errorf("counting recent leads: %w", err)
	}

	stats := DashboardStats{StatusCounts: make(map[leadtrack.Status]int, len(leadtrack.Statuses))}
	for _, st := range leadtrack.Statuses {
		stats.StatusCounts[st] = counts[st]
	}
	for _, n := range counts {
		stats.TotalLeads += n
	}
	for _, n := range recent {
		stats.RecentLeads += n
	}
	stats.ApprovalRatio = percent(counts[leadtrack.StatusApproved], stats.TotalLeads)
	stats.RejectionRatio = percent(counts[leadtrack.StatusRejected], stats.TotalLeads)
	return stats, nil
}

// Export renders the leads created between two dates, both inclusive. An
// ADMIN always gets their own leads; a SUPER ADMIN gets one creator's leads
// when AdminID is set and everything otherwise.
func (s *ReportService) Export(ctx context.Context, caller leadtrack.Identity, req ExportRequest) (render.Document, error) {
	if err := leadtrack.Authorize(caller, caller.UserID, leadtrack.CapCreate); err != nil {
		return render.Document{}, err
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = DefaultExportFormat
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return render.Document{}, leadtrack.Invalidf("unsupported format %q", req.Format)
	}

	if req.StartDate == "" || req.EndDate == "" {
		return render.Document{}, leadtrack.Invalidf("startDate and endDate are required")
	}
	startDate, err := leadtrack.ParseDate(req.StartDate, s.loc)
	if err != nil {
		return render.Document{}, err
	}
	endDate, err := leadtrack.ParseDate(req.EndDate, s.loc)
	if err != nil {
		return render.Document{}, err
	}
	if endDate.Before(startDate) {
		return render.Document{}, leadtrack.Invalidf("endDate must not be before startDate")
	}
	from, to := leadtrack.DayRange(startDate, endDate, s.loc)

	filter := leadtrack.LeadFilter{From: from, To: to, CreatedBy: leadtrack.OwnerScope(caller)}
	if filter.CreatedBy == "" && req.AdminID != "" {
		if err := leadtrack.Authorize(caller, req.AdminID, leadtrack.CapExportAny); err != nil {
			return render.Document{}, err
		}
		filter.CreatedBy = req.AdminID
	}

	leads, err := s.leads.Leads(ctx, filter)
	if err != nil {
		return render.Document{}, fmt.Errorf("loading leads: %w", err)
	}

	table := s.exportTable(leads, startDate, endDate)
	doc, err := renderer.Render(table)
	if err != nil {
		return render.Document{}, fmt.Errorf("rendering %s export: %w", format, err)
	}

	s.log.Infow("export", "user_id", caller.UserID, "format", format, "leads", len(leads))
	return doc, nil
}

func (s *ReportService) exportTable(leads []leadtrack.Lead, start, end time.Time) render.Table {
	var approved, rejected int
	rows := make([][]string, 0, len(leads))
	for _, l := range leads {
		switch l.Status {
		case leadtrack.StatusApproved:
			approved++
		case leadtrack.StatusRejected:
			rejected++
		}

		reason := ""
		if l.RejectionReason != nil {
			reason = string(*l.RejectionReason)
		}
		rows = append(rows, []string{
			l.CreatedAt.In(s.loc).Format("2006-01-02"),
			l.CustomerName,
			l.MobileNumber,
			l.PANNumber,
			l.NationalID,
			string(l.Status),
			reason,
			l.RejectionNotes,
			l.CreatedBy.Name,
		})
	}

	return render.Table{
		Name:     fmt.Sprintf("leads-report-%s-to-%s", start.Format("2006-01-02"), end.Format("2006-01-02")),
		Title:    "Lead Report",
		Subtitle: fmt.Sprintf("%s to %s", start.Format("02 Jan 2006"), end.Format("02 Jan 2006")),
		Summary: []render.SummaryCard{
			{Label: "Total Leads", Value: strconv.Itoa(len(leads))},
			{Label: "Approved", Value: strconv.Itoa(approved)},
			{Label: "Rejected", Value: strconv.Itoa(rejected)},
			{Label: "Approval Rate", Value: fmt.Sprintf("%.1f%%", percent(approved, len(leads)))},
		},
		Columns: []string{
			"Date Created", "Customer Name", "Mobile", "PAN", "National ID",
			"Status", "Rejection Reason", "Rejection Notes", "Created By",
		},
		Widths: []float64{1.1, 1.6, 1.1, 1.1, 1.5, 0.9, 1.3, 1.6, 1.2},
		Rows:   rows,
	}
}

// MonthlyPerformance counts, for every ADMIN, the leads they created in
// [from, to] and how many of them were approved or rejected.
func (s *ReportService) MonthlyPerformance(ctx context.Context, from, to time.Time) ([]AdminPerformance, error) {
	admins, err := s.users.UsersByRole(ctx, leadtrack.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("loading admins: %w", err)
	}

	out := make([]AdminPerformance, len(admins))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, admin := range admins {
		i, admin := i, admin
		g.Go(func() error {
			counts, err := s.leads.StatusCounts(ctx, leadtrack.LeadFilter{CreatedBy: admin.ID, From: from, To: to})
			if err != nil {
				return fmt.Errorf("counting leads of %s: %w", admin.ID, err)
			}
			p := AdminPerformance{
				Admin:    admin,
				Approved: counts[leadtrack.StatusApproved],
				Rejected: counts[leadtrack.StatusRejected],
			}
			for _, n := range counts {
				p.Total += n
			}
			p.ApprovalRate = percent(p.Approved, p.Total)
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// percent returns part/total as a percentage rounded to two decimals, or 0
// when total is 0.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*100/float64(total)*100) / 100
}
