package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/service"
)

type Reports interface {
	Submit(ctx context.Context, userID string, in service.ReportInput) (*service.ReportSubmission, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.Report, error)
}

type ReportHandler struct {
	reports Reports
	logger  *slog.Logger
}

func NewReportHandler(reports Reports, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// HandleSubmit stores a waste report and awards its points in one unit.
// Either both happen or neither does.
//
// HTTP: POST /api/users/{userID}/reports
// REQUEST BODY: {"location": "...", "wasteType": "plastic", "amount": "2.5 kg", "imageUrl": "https://..."}
func (h *ReportHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var in service.ReportInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.reports.Submit(r.Context(), chi.URLParam(r, "userID"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleList pages through a user's reports, newest first.
//
// HTTP: GET /api/users/{userID}/reports?limit=20&offset=0
func (h *ReportHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	reports, err := h.reports.List(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}
