package auth

import (
	"context"
	"errors"

	plants "irrigation-cloud/internal/plants/domain"
)

// PlantOwnerChecker validates that an actor owns a plant.
type PlantOwnerChecker struct {
	plants plants.PlantRepository
}

// NewPlantOwnerChecker constructs a PlantOwnerChecker.
func NewPlantOwnerChecker(repo plants.PlantRepository) (*PlantOwnerChecker, error) {
	if repo == nil {
		return nil, errors.New("auth: nil plant repo")
	}
	return &PlantOwnerChecker{plants: repo}, nil
}

// EnsurePlantOwner loads the plant and verifies it belongs to userID.
// A missing plant yields plants.ErrPlantNotFound; another owner yields ErrForbidden.
func (c *PlantOwnerChecker) EnsurePlantOwner(ctx context.Context, userID, plantID int64) (*plants.Plant, error) {
	if c == nil || c.plants == nil {
		return nil, errors.New("auth: nil owner checker")
	}
	plant, err := c.plants.Get(ctx, plantID)
	if err != nil {
		return nil, err
	}
	if plant == nil {
		return nil, plants.ErrPlantNotFound
	}
	if userID <= 0 || plant.UserID != userID {
		return nil, ErrForbidden
	}
	return plant, nil
}
