package service

import (
	"context"
	"log/slog"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/port"
)

// PreviewHandler produces the large aspect-preserving derivative for an
// asset.
type PreviewHandler struct {
	derivative
	opts port.PreviewOptions
}

func NewPreviewHandler(
	assets port.AssetRepository,
	objects port.ObjectStore,
	images port.ImageTransformer,
	frames port.FrameExtractor,
	opts port.PreviewOptions,
	log *slog.Logger,
) *PreviewHandler {
	return &PreviewHandler{
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

func (h *PreviewHandler) Type() domain.JobType {
	return domain.JobTypePreview
}

func (h *PreviewHandler) Process(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	asset, err := h.loadAsset(ctx, job)
	if err != nil {
		return nil, err
	}

	still, err := h.sourceStill(ctx, asset)
	if err != nil {
		return nil, err
	}

	preview, err := h.images.Preview(still, h.opts)
	if err != nil {
		return nil, err
	}

	key := domain.DerivativeKey(asset.OwnerID, domain.DerivativePreview, asset.ID, "jpg")
	if err := h.upload(ctx, asset, key, preview); err != nil {
		return nil, err
	}

	if err := h.assets.UpdatePreviewKey(ctx, asset.ID, key); err != nil {
		return nil, err
	}
	if err := h.advanceIfReady(ctx, asset.ID); err != nil {
		return nil, err
	}

	return &domain.JobResult{
		OutputKey: key,
		SizeBytes: int64(len(preview)),
	}, nil
}

var _ Handler = (*PreviewHandler)(nil)
