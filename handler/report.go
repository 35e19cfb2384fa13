package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/phbpx/leadtrack/service"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

type exportRequest struct {
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
	AdminID   string `json:"adminId" validate:"omitempty,uuid"`
	Format    string `json:"format" validate:"max=10"`
}

type ReportHandler struct {
	service  *service.ReportService
	validate *validator.Validate
	log      *otelzap.SugaredLogger
}

func NewReportHandler(service *service.ReportService, log *otelzap.SugaredLogger) *ReportHandler {
	return &ReportHandler{
		service:  service,
		validate: newValidator(),
		log:      log,
	}
}

func (rh ReportHandler) Dashboard(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := rh.service.Dashboard(ctx, identityFrom(ctx))
	if err != nil {
		fail(ctx, rw, rh.log, "Dashboard", err)
		return
	}

	respond(ctx, rw, http.StatusOK, envelope{Success: true, Data: stats})
}

// Download streams the rendered export as an attachment.
func (rh ReportHandler) Download(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exportRequest
	if err := decode(r, &req); err != nil {
		fail(ctx, rw, rh.log, "Download", err)
		return
	}
	if err := check(rh.validate, req); err != nil {
		fail(ctx, rw, rh.log, "Download", err)
		return
	}

	doc, err := rh.service.Export(ctx, identityFrom(ctx), service.ExportRequest{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		AdminID:   req.AdminID,
		Format:    req.Format,
	})
	if err != nil {
		fail(ctx, rw, rh.log, "Download", err)
		return
	}

	rw.Header().Set("Content-Type", doc.ContentType)
	rw.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	rw.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	rw.WriteHeader(http.StatusOK)
	rw.Write(doc.Data)
}
