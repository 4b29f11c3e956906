package model

import (
	"strings"
	"time"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxEarnedReport  TransactionType = "earned_report"
	TxEarnedCollect TransactionType = "earned_collect"
	TxEarnedBonus   TransactionType = "earned_bonus"
	TxRedeemed      TransactionType = "redeemed"
)

// Award reasons with a dedicated transaction type.
const (
	ReasonReportSubmission = "report submission"
	ReasonWasteCollection  = "waste collection"
)

// IsEarn reports whether t is a point-granting type.
func (t TransactionType) IsEarn() bool {
	switch t {
	case TxEarnedReport, TxEarnedCollect, TxEarnedBonus:
		return true
	}
	return false
}

// TypeForReason maps an award reason to its transaction type. Reasons
// without a dedicated type are recorded as bonuses.
func TypeForReason(reason string) TransactionType {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case ReasonReportSubmission, "report":
		return TxEarnedReport
	case ReasonWasteCollection, "collect", "collection":
		return TxEarnedCollect
	default:
		return TxEarnedBonus
	}
}

// Transaction is one immutable ledger entry. There is no update or delete
// for transactions anywhere in the code base.
//
// Seq is the store-assigned insertion sequence. Entries for a user are
// always read back ordered by Seq, which is assigned while the user's
// balance row is locked, so it matches creation order.
type Transaction struct {
	ID          string          `json:"id"          db:"id"`
	Seq         int64           `json:"seq"         db:"seq"`
	UserID      string          `json:"userId"      db:"user_id"`
	Type        TransactionType `json:"type"        db:"type"`
	Amount      int64           `json:"amount"      db:"amount"`
	Description string          `json:"description" db:"description"`
	CreatedAt   time.Time       `json:"createdAt"   db:"created_at"`
}

// SumAmounts replays a history and returns the balance it implies.
func SumAmounts(txs []Transaction) int64 {
	var total int64
	for _, t := range txs {
		total += t.Amount
	}
	return total
}
