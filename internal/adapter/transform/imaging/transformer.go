package imaging

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/bnema/dither/internal/port"
)

// Transformer produces derivative stills with the imaging library. All
// derivatives are encoded as JPEG; intermediate frames stay lossless.
type Transformer struct{}

func NewTransformer() *Transformer {
	return &Transformer{}
}

// Thumbnail center-crops the source to a square of the configured edge
// length.
func (t *Transformer) Thumbnail(src []byte, opts port.ThumbnailOptions) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}

	thumb := imaging.Fill(img, opts.Size, opts.Size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Preview scales the source to fit within the bounding box, preserving
// aspect ratio. Sources already within the box are not upscaled.
func (t *Transformer) Preview(src []byte, opts port.PreviewOptions) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}

	preview := imaging.Fit(img, opts.MaxSize, opts.MaxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, preview, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// FirstFrame decodes the first frame of an animated container and re-encodes
// it losslessly for the resize step.
func (t *Transformer) FirstFrame(src []byte) ([]byte, error) {
	// Decode stops after the first frame for multi-frame formats.
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode first frame: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode first frame: %w", err)
	}
	return buf.Bytes(), nil
}

var _ port.ImageTransformer = (*Transformer)(nil)
