package port

import (
	"context"

	"github.com/bnema/dither/internal/domain"
)

type AssetRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Asset, error)
	UpdateThumbnailKey(ctx context.Context, id, key string) error
	UpdatePreviewKey(ctx context.Context, id, key string) error
	HasDerivatives(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.AssetStatus) error
}
