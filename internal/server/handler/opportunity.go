package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

// OpportunityLister returns recent opportunities, newest first.
type OpportunityLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ArbOpportunity, error)
}

// OpportunityHandler serves the opportunity history.
type OpportunityHandler struct {
	lister OpportunityLister
	logger *slog.Logger
}

// NewOpportunityHandler creates a handler. lister may be nil when no store
// is configured.
func NewOpportunityHandler(lister OpportunityLister, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{lister: lister, logger: logger.With(slog.String("handler", "opportunities"))}
}

// ListRecent returns the latest opportunities.
// GET /api/opportunities?limit=N
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeError(w, http.StatusServiceUnavailable, "no opportunity store configured")
		return
	}
	list, err := h.lister.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if list == nil {
		list = []domain.ArbOpportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": list, "count": len(list)})
}
