// Package catalog loads the reward catalog from a YAML seed file.
//
// The catalog is not managed over the API. Operators edit the file and
// restart; Seed upserts every entry, so removing an item from sale means
// setting isAvailable: false rather than deleting it (past redemptions
// still point at it).
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

// File is the shape of the seed file:
//
//	rewards:
//	  - id: reusable-bottle
//	    name: Reusable bottle
//	    pointsCost: 50
//	    isAvailable: true
type File struct {
	Rewards []model.RewardItem `yaml:"rewards"`
}

// Load reads and validates a seed file.
func Load(path string) ([]model.RewardItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates a seed document. ids must be unique.
func Parse(data []byte) ([]model.RewardItem, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Rewards))
	for i := range f.Rewards {
		it := &f.Rewards[i]
		it.ID = strings.TrimSpace(it.ID)
		it.Name = strings.TrimSpace(it.Name)

		switch {
		case it.ID == "":
			return nil, fmt.Errorf("reward #%d: id is required", i+1)
		case it.Name == "":
			return nil, fmt.Errorf("reward %q: name is required", it.ID)
		case it.PointsCost <= 0:
			return nil, fmt.Errorf("reward %q: pointsCost must be positive", it.ID)
		case seen[it.ID]:
			return nil, fmt.Errorf("reward %q: duplicate id", it.ID)
		}
		seen[it.ID] = true
	}
	return f.Rewards, nil
}

// Seed upserts items into the catalog.
func Seed(ctx context.Context, repo repository.RewardCatalogRepository, items []model.RewardItem) error {
	for i := range items {
		if err := repo.UpsertRewardItem(ctx, &items[i]); err != nil {
			return fmt.Errorf("seeding reward %s: %w", items[i].ID, err)
		}
	}
	return nil
}
