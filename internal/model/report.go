package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportStatus is the lifecycle state of a waste report. Only the initial
// state matters to the ledger.
type ReportStatus string

const ReportPending ReportStatus = "pending"

// Report is a submitted waste report. Creating one triggers exactly one
// earned_report transaction in the same atomic unit.
//
// Amount is the reported waste quantity in kilograms. decimal.Decimal keeps
// "2.5" exact instead of rounding through float64.
type Report struct {
	ID        string          `json:"id"        db:"id"`
	UserID    string          `json:"userId"    db:"user_id"`
	Location  string          `json:"location"  db:"location"`
	WasteType string          `json:"wasteType" db:"waste_type"`
	Amount    decimal.Decimal `json:"amount"    db:"amount"`
	ImageURL  string          `json:"imageUrl"  db:"image_url"`
	Status    ReportStatus    `json:"status"    db:"status"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
