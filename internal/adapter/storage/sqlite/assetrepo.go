package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bnema/dither/internal/domain"
	"github.com/bnema/dither/internal/port"
)

const assetColumns = `id, owner_id, storage_bucket, storage_key, thumbnail_key,
	preview_key, media_type, mime_type, status`

// AssetRepo gives the handlers read access to asset storage coordinates and
// write access to derivative bookkeeping. The upload pipeline owns the rest
// of the record.
type AssetRepo struct {
	db *sql.DB
}

func NewAssetRepo(store *Store) *AssetRepo {
	return &AssetRepo{db: store.db}
}

func (r *AssetRepo) Save(ctx context.Context, a *domain.Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media_assets (id, owner_id, storage_bucket, storage_key,
			thumbnail_key, preview_key, media_type, mime_type, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.StorageBucket, a.StorageKey, a.ThumbnailKey,
		a.PreviewKey, string(a.MediaType), a.MimeType, string(a.Status))
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (r *AssetRepo) FindByID(ctx context.Context, id string) (*domain.Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE id = ?`, id)

	var a domain.Asset
	var mediaType, status string
	err := row.Scan(&a.ID, &a.OwnerID, &a.StorageBucket, &a.StorageKey,
		&a.ThumbnailKey, &a.PreviewKey, &mediaType, &a.MimeType, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	a.MediaType = domain.MediaType(mediaType)
	a.Status = domain.AssetStatus(status)
	return &a, nil
}

func (r *AssetRepo) UpdateThumbnailKey(ctx context.Context, id, key string) error {
	return r.updateColumn(ctx, id, "thumbnail_key", key)
}

func (r *AssetRepo) UpdatePreviewKey(ctx context.Context, id, key string) error {
	return r.updateColumn(ctx, id, "preview_key", key)
}

func (r *AssetRepo) HasDerivatives(ctx context.Context, id string) (bool, error) {
	var has bool
	err := r.db.QueryRowContext(ctx, `
		SELECT thumbnail_key != '' AND preview_key != ''
		FROM media_assets WHERE id = ?`, id).Scan(&has)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("check derivatives: %w", err)
	}
	return has, nil
}

func (r *AssetRepo) UpdateStatus(ctx context.Context, id string, status domain.AssetStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE media_assets SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update asset status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update asset status: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AssetRepo) updateColumn(ctx context.Context, id, column, value string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE media_assets SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ port.AssetRepository = (*AssetRepo)(nil)
