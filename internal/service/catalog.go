package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

// CatalogService is the read side of the reward catalog. Items are only
// ever written by the startup seed.
type CatalogService struct {
	repo   repository.RewardCatalogRepository
	logger *slog.Logger
}

func NewCatalogService(repo repository.RewardCatalogRepository, logger *slog.Logger) *CatalogService {
	return &CatalogService{repo: repo, logger: logger}
}

// List returns catalog items, cheapest first.
func (s *CatalogService) List(ctx context.Context, availableOnly bool) ([]model.RewardItem, error) {
	items, err := s.repo.ListRewardItems(ctx, availableOnly)
	if err != nil {
		s.logger.Error("failed to list rewards", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing rewards: %w", err)
	}
	return items, nil
}

func (s *CatalogService) Get(ctx context.Context, id string) (*model.RewardItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("rewardId", "reward ID is required")
	}
	return s.repo.GetRewardItem(ctx, id)
}
