package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/render"
	"go.uber.org/zap"
)

// RunGuard lets exactly one run claim a key for ttl. Release gives a claimed
// key back so a failed run can be retried.
type RunGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MonthlyReporter emails last month's per-admin performance to every
// SUPER ADMIN as a spreadsheet and a PDF.
type MonthlyReporter struct {
	reports *ReportService
	users   leadtrack.UserStore
	mailer  leadtrack.Mailer
	formats []render.Renderer
	guard   RunGuard
	log     *zap.SugaredLogger
	loc     *time.Location
}

// NewMonthlyReporter attaches an XLSX workbook and the report service's PDF
// renderer, or a default PDF when it has none.
func NewMonthlyReporter(reports *ReportService, users leadtrack.UserStore, mailer leadtrack.Mailer, guard RunGuard, log *zap.SugaredLogger) *MonthlyReporter {
	var pdf render.Renderer = render.PDF{}
	if r, ok := reports.renderers["pdf"]; ok {
		pdf = r
	}
	return &MonthlyReporter{
		reports: reports,
		users:   users,
		mailer:  mailer,
		formats: []render.Renderer{render.XLSX{}, pdf},
		guard:   guard,
		log:     log,
		loc:     reports.loc,
	}
}

// Run reports on the calendar month before now. A run for a month that was
// already claimed is skipped. A run that fails before mailing gives its claim
// back. Failing to mail one recipient does not stop the others.
func (m *MonthlyReporter) Run(ctx context.Context, now time.Time) error {
	from, to := leadtrack.PreviousMonthWindow(now.In(m.loc))
	period := from.Format("2006-01")

	if m.guard == nil {
		return m.run(ctx, from, to)
	}

	key := "report:monthly:" + period
	ok, err := m.guard.Claim(ctx, key, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("claiming monthly run: %w", err)
	}
	if !ok {
		m.log.Infow("monthly report", "status", "already claimed", "period", period)
		return nil
	}

	if err := m.run(ctx, from, to); err != nil {
		// The job context may be what failed.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := m.guard.Release(rctx, key); rerr != nil {
			m.log.Errorw("monthly report", "status", "release failed", "period", period, "error", rerr.Error())
		}
		return err
	}
	return nil
}

// run aggregates, renders and mails one period. Errors are returned only
// before the first mail is attempted.
func (m *MonthlyReporter) run(ctx context.Context, from, to time.Time) error {
	period := from.Format("2006-01")

	perf, err := m.reports.MonthlyPerformance(ctx, from, to)
	if err != nil {
		return err
	}
	if len(perf) == 0 {
		m.log.Infow("monthly report", "status", "no admins", "period", period)
		return nil
	}

	recipients, err := m.users.UsersByRole(ctx, leadtrack.RoleSuperAdmin)
	if err != nil {
		return fmt.Errorf("loading recipients: %w", err)
	}
	if len(recipients) == 0 {
		m.log.Infow("monthly report", "status", "no recipients", "period", period)
		return nil
	}

	table := monthlyTable(perf, from)
	attachments := make([]leadtrack.Attachment, 0, len(m.formats))
	for _, r := range m.formats {
		doc, err := r.Render(table)
		if err != nil {
			return fmt.Errorf("rendering monthly report: %w", err)
		}
		attachments = append(attachments, leadtrack.Attachment{
			Name:        doc.Name,
			ContentType: doc.ContentType,
			Data:        doc.Data,
		})
	}

	month := from.Format("January 2006")
	var sent int
	for _, rcpt := range recipients {
		msg := leadtrack.Message{
			To:          []string{rcpt.Email},
			Subject:     "Monthly Lead Performance Report - " + month,
			Body:        fmt.Sprintf("Hello %s,\n\nAttached is the lead performance report of every admin for %s.\n", rcpt.Name, month),
			Attachments: attachments,
		}
		if err := m.mailer.Send(ctx, msg); err != nil {
			m.log.Errorw("monthly report", "status", "send failed", "recipient", rcpt.Email, "error", err.Error())
			continue
		}
		sent++
	}

	m.log.Infow("monthly report", "status", "done", "period", period, "admins", len(perf), "sent", sent, "recipients", len(recipients))
	return nil
}

func monthlyTable(perf []AdminPerformance, month time.Time) render.Table {
	rows := make([][]string, 0, len(perf))
	for _, p := range perf {
		rows = append(rows, []string{
			p.Admin.Name,
			p.Admin.Email,
			strconv.Itoa(p.Total),
			strconv.Itoa(p.Approved),
			strconv.Itoa(p.Rejected),
			strconv.FormatFloat(p.ApprovalRate, 'f', 2, 64),
		})
	}

	return render.Table{
		Name:     "monthly-report-" + month.Format("2006-01"),
		Title:    "Monthly Lead Performance",
		Subtitle: month.Format("January 2006"),
		Columns:  []string{"Admin", "Email", "Leads Created", "Approved", "Rejected", "Approval Rate (%)"},
		Widths:   []float64{1.5, 2, 1, 1, 1, 1.2},
		Numeric:  []bool{false, false, true, true, true, true},
		Rows:     rows,
	}
}
