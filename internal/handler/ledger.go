package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/service"
)

// Ledger is the part of service.PointsEngine the HTTP layer drives.
type Ledger interface {
	GetOrCreateBalance(ctx context.Context, userID string) (*model.RewardBalance, error)
	AwardPoints(ctx context.Context, userID string, amount int64, reason string) (*model.RewardBalance, error)
	RedeemReward(ctx context.Context, userID, rewardID string) (*service.Redemption, error)
}

// History is the read side of service.Recorder.
type History interface {
	History(ctx context.Context, userID string) ([]model.Transaction, error)
	Reconcile(ctx context.Context, userID string) (*service.Reconciliation, error)
}

// LedgerHandler serves balances, awards, redemptions and history.
// Every route lives under /api/users/{userID}; authorization has already
// run by the time a handler sees the request.
type LedgerHandler struct {
	ledger  Ledger
	history History
	logger  *slog.Logger
}

func NewLedgerHandler(ledger Ledger, history History, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, history: history, logger: logger}
}

// HandleBalance returns the user's balance, creating it on first touch.
//
// HTTP: GET /api/users/{userID}/balance
func (h *LedgerHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.ledger.GetOrCreateBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type awardRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// HandleAward grants points.
//
// HTTP: POST /api/users/{userID}/awards
// REQUEST BODY: {"amount": 25, "reason": "waste collection"}
func (h *LedgerHandler) HandleAward(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	b, err := h.ledger.AwardPoints(r.Context(), chi.URLParam(r, "userID"), req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type redeemRequest struct {
	RewardID string `json:"rewardId"`
}

// HandleRedeem spends points on a catalog item. An uncovered cost is 422
// and leaves the balance untouched.
//
// HTTP: POST /api/users/{userID}/redemptions
// REQUEST BODY: {"rewardId": "reusable-bottle"}
func (h *LedgerHandler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.ledger.RedeemReward(r.Context(), chi.URLParam(r, "userID"), req.RewardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleHistory lists the user's transactions, oldest first.
//
// HTTP: GET /api/users/{userID}/transactions
func (h *LedgerHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := h.history.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// HandleAudit replays the history against the stored balance.
//
// HTTP: GET /api/users/{userID}/transactions/audit
func (h *LedgerHandler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	rec, err := h.history.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !rec.Consistent {
		h.logger.Error("audit found inconsistent ledger",
			slog.String("userID", rec.UserID),
			slog.Int64("stored", rec.Stored),
			slog.Int64("replayed", rec.Replayed),
		)
	}
	writeJSON(w, http.StatusOK, rec)
}
