package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	plants "irrigation-cloud/internal/plants/domain"
)

// ErrUnresolvedDevice indicates no plant is bound to the hardware id.
var ErrUnresolvedDevice = errors.New("registry: unresolved device")

// Resolver maps a hardware identifier to the plant it serves.
type Resolver struct {
	plants plants.PlantRepository
	logger *log.Logger
}

// NewResolver constructs a resolver.
func NewResolver(repo plants.PlantRepository, logger *log.Logger) (*Resolver, error) {
	if repo == nil {
		return nil, errors.New("registry: nil plant repo")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{plants: repo, logger: logger}, nil
}

// Resolve returns the plant bound to hardwareID. Uniqueness is not enforced by
// storage, so several matches resolve to the oldest one.
func (r *Resolver) Resolve(ctx context.Context, hardwareID string) (*plants.Plant, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return nil, fmt.Errorf("%w: empty hardware id", ErrUnresolvedDevice)
	}
	matches, err := r.plants.FindByHardwareID(ctx, hardwareID)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedDevice, hardwareID)
	case 1:
	default:
		ids := make([]int64, 0, len(matches))
		for _, match := range matches {
			ids = append(ids, match.ID)
		}
		r.logger.Printf("registry: hardware id %q bound to %d plants %v; using plant %d", hardwareID, len(matches), ids, matches[0].ID)
	}
	plant := matches[0]
	return &plant, nil
}
