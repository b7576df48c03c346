package port

import "context"

type ThumbnailOptions struct {
	Size    int // edge length of the square crop
	Quality int // JPEG quality 1-100
}

type PreviewOptions struct {
	MaxSize int // bounding box edge, aspect ratio preserved
	Quality int
}

// ImageTransformer produces derivative stills from source image bytes.
type ImageTransformer interface {
	Thumbnail(src []byte, opts ThumbnailOptions) ([]byte, error)
	Preview(src []byte, opts PreviewOptions) ([]byte, error)

	// FirstFrame extracts the first frame of an animated container as a
	// still image.
	FirstFrame(src []byte) ([]byte, error)
}

// FrameExtractor captures stills from video files on disk.
type FrameExtractor interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// ExtractFrame writes a single frame at the given offset to a temporary
	// file and returns its path. The caller owns cleanup.
	ExtractFrame(ctx context.Context, path string, offsetSeconds float64) (string, error)
}
