package domain

import (
	"fmt"
	"strings"
)

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

type AssetStatus string

const (
	AssetStatusUploaded   AssetStatus = "uploaded"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusFailed     AssetStatus = "failed"
)

type DerivativeKind string

const (
	DerivativeThumbnail DerivativeKind = "thumbnails"
	DerivativePreview   DerivativeKind = "previews"
)

// Asset is the media item a job references. The upload pipeline owns the
// record; the worker only reads storage coordinates and writes back
// derivative keys and status.
type Asset struct {
	ID            string
	OwnerID       string
	StorageBucket string
	StorageKey    string
	ThumbnailKey  string
	PreviewKey    string
	MediaType     MediaType
	MimeType      string
	Status        AssetStatus
}

// animatedMimeTypes are image containers that may carry multiple frames; a
// still must be extracted before resizing.
var animatedMimeTypes = map[string]bool{
	"image/gif":   true,
	"image/apng":  true,
	"image/webp":  true,
	"image/heif":  true,
	"image/heics": true,
}

func (a *Asset) IsAnimated() bool {
	return a.MediaType == MediaTypeImage && animatedMimeTypes[strings.ToLower(a.MimeType)]
}

// HasDerivatives reports whether both derivative keys are populated.
func (a *Asset) HasDerivatives() bool {
	return a.ThumbnailKey != "" && a.PreviewKey != ""
}

// DerivativeKey builds the deterministic storage key for a derivative:
// {ownerId}/{kind}/{assetId}.{ext}
func DerivativeKey(ownerID string, kind DerivativeKind, assetID, ext string) string {
	return fmt.Sprintf("%s/%s/%s.%s", ownerID, kind, assetID, ext)
}
