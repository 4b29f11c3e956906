package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

const (
	MaxLocationLength  = 255
	MaxWasteTypeLength = 100
	MaxImageURLLength  = 2048
	maxAmountLength    = 16
	amountPlaces       = 3 // grams
	DefaultListLimit   = 20
	MaxListLimit       = 100
)

// Report text is shown back in the dashboard, so any markup is stripped
// before it is stored. The policy escapes the text it keeps; sanitizeText
// undoes that so "Smith & Sons" is stored as typed.
var textPolicy = bluemonday.StrictPolicy()

// maxReportAmount is the largest quantity (in kg) one report may claim.
var maxReportAmount = decimal.NewFromInt(10000)

// ReportInput is what the ingestion layer hands us. Amount is free text
// such as "2.5" or "2.5 kg".
type ReportInput struct {
	Location  string `json:"location"`
	WasteType string `json:"wasteType"`
	Amount    string `json:"amount"`
	ImageURL  string `json:"imageUrl"`
}

// ReportService validates report submissions and hands them to the engine.
type ReportService struct {
	engine *PointsEngine
	repo   repository.ReportRepository
	logger *slog.Logger
}

func NewReportService(engine *PointsEngine, repo repository.ReportRepository, logger *slog.Logger) *ReportService {
	return &ReportService{engine: engine, repo: repo, logger: logger}
}

// Submit validates in, then creates the report and its award as one unit.
func (s *ReportService) Submit(ctx context.Context, userID string, in ReportInput) (*ReportSubmission, error) {
	report, err := ParseReport(in)
	if err != nil {
		return nil, err
	}
	return s.engine.SubmitReport(ctx, userID, report)
}

// List returns a page of the user's reports, newest first.
func (s *ReportService) List(ctx context.Context, userID string, limit, offset int) ([]model.Report, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	reports, err := s.repo.ListReportsByUser(ctx, userID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list reports", slog.String("userID", userID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing reports for user %s: %w", userID, err)
	}
	return reports, nil
}

// ParseReport turns raw input into a report ready to store.
func ParseReport(in ReportInput) (*model.Report, error) {
	location := sanitizeText(in.Location)
	if location == "" {
		return nil, apperror.ValidationFailed("location", "location is required")
	}
	if len(location) > MaxLocationLength {
		return nil, apperror.ValidationFailed("location",
			fmt.Sprintf("location must be %d characters or less", MaxLocationLength))
	}

	wasteType := sanitizeText(in.WasteType)
	if wasteType == "" {
		return nil, apperror.ValidationFailed("wasteType", "waste type is required")
	}
	if len(wasteType) > MaxWasteTypeLength {
		return nil, apperror.ValidationFailed("wasteType",
			fmt.Sprintf("waste type must be %d characters or less", MaxWasteTypeLength))
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	imageURL := strings.TrimSpace(in.ImageURL)
	if imageURL != "" {
		if len(imageURL) > MaxImageURLLength {
			return nil, apperror.ValidationFailed("imageUrl",
				fmt.Sprintf("image URL must be %d characters or less", MaxImageURLLength))
		}
		u, err := url.Parse(imageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apperror.ValidationFailed("imageUrl", "image URL must be an absolute http(s) URL")
		}
	}

	return &model.Report{
		Location:  location,
		WasteType: wasteType,
		Amount:    amount,
		ImageURL:  imageURL,
	}, nil
}

// parseAmount accepts "2.5", "2.5kg" and "2.5 KG", rounded to the gram.
//
// Exponent notation is rejected: decimal.NewFromString takes "1e-50000000"
// and String() would then write out every one of its digits.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimSpace(strings.TrimSuffix(s, "kg"))
	if s == "" {
		return decimal.Decimal{}, apperror.ValidationFailed("amount", "amount is required")
	}
	if len(s) > maxAmountLength || strings.Contains(s, "e") {
		return decimal.Decimal{}, apperror.ValidationFailed("amount",
			"amount must be a plain decimal number such as 2.5")
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, apperror.ValidationFailed("amount",
			fmt.Sprintf("amount %q is not a number", raw))
	}
	amount = amount.Round(amountPlaces)
	if !amount.IsPositive() {
		return decimal.Decimal{}, apperror.ValidationFailed("amount", "amount must be positive")
	}
	if amount.GreaterThan(maxReportAmount) {
		return decimal.Decimal{}, apperror.ValidationFailed("amount",
			fmt.Sprintf("amount must be %s kg or less", maxReportAmount))
	}
	return amount, nil
}

// sanitizeText strips markup and returns plain text. Entities in the input
// are decoded first so "&lt;b&gt;" cannot come back out as a tag.
func sanitizeText(s string) string {
	s = html.UnescapeString(strings.TrimSpace(s))
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}
