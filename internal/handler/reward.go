package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/waste-rewards/internal/model"
)

type Catalog interface {
	List(ctx context.Context, availableOnly bool) ([]model.RewardItem, error)
	Get(ctx context.Context, id string) (*model.RewardItem, error)
}

// RewardHandler serves the read-only reward catalog.
type RewardHandler struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewRewardHandler(catalog Catalog, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{catalog: catalog, logger: logger}
}

// HandleList returns redeemable items, cheapest first. ?all=true includes
// items that are currently not available.
//
// HTTP: GET /api/rewards
func (h *RewardHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	all, err := queryBool(r, "all")
	if err != nil {
		writeError(w, err)
		return
	}

	items, err := h.catalog.List(r.Context(), !all)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.RewardItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// HTTP: GET /api/rewards/{rewardID}
func (h *RewardHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.Get(r.Context(), chi.URLParam(r, "rewardID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
