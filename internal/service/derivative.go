package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/port"
)

const derivativeCacheControl = "public, max-age=31536000"

// derivative holds what the thumbnail and preview handlers share: loading the
// asset, turning the original media into a still image, and the join barrier
// that advances the asset once both derivatives exist.
type derivative struct {
	assets  port.AssetRepository
	objects port.ObjectStore
	images  port.ImageTransformer
	frames  port.FrameExtractor
	log     *slog.Logger
}

// FrameOffset picks the video timestamp to sample: 10% of the duration,
// clamped to at most one second so long videos do not seek deep into content
// and short ones still sample near their start.
func FrameOffset(durationSeconds float64) float64 {
	offset := durationSeconds * 0.1
	if offset > 1.0 {
		offset = 1.0
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

func (d *derivative) loadAsset(ctx context.Context, job *domain.Job) (*domain.Asset, error) {
	asset, err := d.assets.FindByID(ctx, job.AssetID)
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", job.AssetID, err)
	}
	return asset, nil
}

// sourceStill downloads the original and returns still-image bytes suitable
// for resizing: the bytes themselves for static images, the first frame for
// animated containers, a sampled frame for video.
func (d *derivative) sourceStill(ctx context.Context, asset *domain.Asset) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, _, err := d.objects.Get(ctx, asset.StorageBucket, asset.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("download original: %w", err)
	}
	defer rc.Close()

	src, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}

	switch {
	case asset.MediaType == domain.MediaTypeVideo:
		return d.videoFrame(ctx, src)
	case asset.IsAnimated():
		still, err := d.images.FirstFrame(src)
		if err != nil {
			return nil, fmt.Errorf("extract first frame: %w", err)
		}
		return still, nil
	default:
		return src, nil
	}
}

// videoFrame writes the original to a temp file, probes its duration and
// captures a frame near the start. Temp artifacts are removed on every path.
func (d *derivative) videoFrame(ctx context.Context, src []byte) ([]byte, error) {
	tmp, err := os.CreateTemp("", "dither-video-*")
	if err != nil {
		return nil, fmt.Errorf("create video temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(src); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write video temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close video temp file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	duration, err := d.frames.ProbeDuration(ctx, tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("probe video duration: %w", err)
	}

	framePath, err := d.frames.ExtractFrame(ctx, tmp.Name(), FrameOffset(duration))
	if err != nil {
		return nil, fmt.Errorf("extract video frame: %w", err)
	}
	defer func() { _ = os.Remove(framePath) }()

	frame, err := os.ReadFile(framePath)
	if err != nil {
		return nil, fmt.Errorf("read video frame: %w", err)
	}
	return frame, nil
}

func (d *derivative) upload(ctx context.Context, asset *domain.Asset, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.objects.Put(ctx, asset.StorageBucket, key,
		bytes.NewReader(data), int64(len(data)),
		port.PutOptions{ContentType: "image/jpeg", CacheControl: derivativeCacheControl})
	if err != nil {
		return fmt.Errorf("upload derivative: %w", err)
	}
	return nil
}

// advanceIfReady is the join barrier over the two independently-scheduled
// derivative jobs: whichever lands second flips the asset to ready. Checking
// twice is harmless, the second check just reconfirms readiness.
func (d *derivative) advanceIfReady(ctx context.Context, assetID string) error {
	has, err := d.assets.HasDerivatives(ctx, assetID)
	if err != nil {
		return fmt.Errorf("check derivatives: %w", err)
	}
	if !has {
		return nil
	}
	if err := d.assets.UpdateStatus(ctx, assetID, domain.AssetStatusReady); err != nil {
		return fmt.Errorf("advance asset status: %w", err)
	}
	d.log.Info("asset.ready", "asset_id", assetID)
	return nil
}
