package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dayloop/dayloop-server/internal/domain"
	"github.com/dayloop/dayloop-server/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// reportArchive is the read side of the weekly report archive.
type reportArchive interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// ReportsHandler serves archived weekly reports back to their owner. The
// weekly trigger writes each report before enqueueing its notification; the
// object key is derived from the authenticated user id, so a caller can only
// ever read their own reports.
type ReportsHandler struct {
	archive reportArchive
}

func NewReportsHandler(archive reportArchive) *ReportsHandler {
	return &ReportsHandler{archive: archive}
}

// GetWeekly handles GET /reports/weekly/{date}, where date is the report
// period's last day in YYYY-MM-DD (the day the report was generated).
func (h *ReportsHandler) GetWeekly(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	date := chi.URLParam(r, "date")
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	body, err := h.archive.Download(r.Context(), fmt.Sprintf("reports/%s/%s.json", claims.UserID, date))
	if err != nil {
		httpError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.Copy(w, body)
}
