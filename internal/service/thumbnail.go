package service

import (
	"context"
	"log/slog"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/port"
)

// ThumbnailHandler produces the small square derivative for an asset.
type ThumbnailHandler struct {
	derivative
	opts port.ThumbnailOptions
}

func NewThumbnailHandler(
	assets port.AssetRepository,
	objects port.ObjectStore,
	images port.ImageTransformer,
	frames port.FrameExtractor,
	opts port.ThumbnailOptions,
	log *slog.Logger,
) *ThumbnailHandler {
	return &ThumbnailHandler{
		derivative: derivative{
			assets:  assets,
			objects: objects,
			images:  images,
			frames:  frames,
			log:     log,
		},
		opts: opts,
	}
}

func (h *ThumbnailHandler) Type() domain.JobType {
	return domain.JobTypeThumbnail
}

func (h *ThumbnailHandler) Process(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	asset, err := h.loadAsset(ctx, job)
	if err != nil {
		return nil, err
	}

	still, err := h.sourceStill(ctx, asset)
	if err != nil {
		return nil, err
	}

	thumb, err := h.images.Thumbnail(still, h.opts)
	if err != nil {
		return nil, err
	}

	key := domain.DerivativeKey(asset.OwnerID, domain.DerivativeThumbnail, asset.ID, "jpg")
	if err := h.upload(ctx, asset, key, thumb); err != nil {
		return nil, err
	}

	if err := h.assets.UpdateThumbnailKey(ctx, asset.ID, key); err != nil {
		return nil, err
	}
	if err := h.advanceIfReady(ctx, asset.ID); err != nil {
		return nil, err
	}

	return &domain.JobResult{
		OutputKey: key,
		SizeBytes: int64(len(thumb)),
		Width:     h.opts.Size,
		Height:    h.opts.Size,
	}, nil
}

var _ Handler = (*ThumbnailHandler)(nil)
