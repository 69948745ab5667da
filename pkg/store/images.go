package store

import (
	"context"
	"database/sql"
	"errors"
)

// ImageRepository implements the DependencyImage cache lookups and the
// conditional-insert race resolution described in §4.10: at-most-one
// builder per lockfile hash across the fleet.
type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository { return &ImageRepository{db: db} }

// Get fetches the DependencyImage for a lockfile hash, if any.
func (r *ImageRepository) Get(ctx context.Context, lockfileHash string) (*DependencyImage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT lockfile_hash, coalesce(image_ref, ''), base_image_ref, status,
		       coalesce(builder_machine_id, ''), coalesce(error_text, ''), created_at, updated_at
		FROM dep_images WHERE lockfile_hash = $1
	`, lockfileHash)

	var img DependencyImage
	err := row.Scan(&img.LockfileHash, &img.ImageRef, &img.BaseImageRef, &img.Status,
		&img.BuilderMachineID, &img.ErrorText, &img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// TryClaimBuild attempts to insert a `building` row for lockfileHash. It
// returns claimed=true if this caller won the race and must now spawn the
// builder VM; claimed=false means another worker already owns the build
// (step 7 of §4.10's image resolution rule).
func (r *ImageRepository) TryClaimBuild(ctx context.Context, lockfileHash, imageRef, baseImageRef string) (claimed bool, err error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dep_images (lockfile_hash, image_ref, base_image_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'building', now(), now())
		ON CONFLICT (lockfile_hash) DO NOTHING
	`, lockfileHash, imageRef, baseImageRef)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Drop removes a stale record so a build can be retried with a new base
// image (step 4 of §4.10).
func (r *ImageRepository) Drop(ctx context.Context, lockfileHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM dep_images WHERE lockfile_hash = $1`, lockfileHash)
	return err
}

// MarkReady records a successful build, attaching the builder-reported
// image ref.
func (r *ImageRepository) MarkReady(ctx context.Context, lockfileHash, imageRef string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dep_images SET status = 'ready', image_ref = $2, updated_at = now()
		WHERE lockfile_hash = $1
	`, lockfileHash, imageRef)
	return err
}

// MarkFailed records a failed or timed-out build.
func (r *ImageRepository) MarkFailed(ctx context.Context, lockfileHash, errText string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dep_images SET status = 'failed', error_text = $2, updated_at = now()
		WHERE lockfile_hash = $1
	`, lockfileHash, errText)
	return err
}

// SetBuilderMachine records which machine is building this image, so the
// callback handler can attribute a late failure.
func (r *ImageRepository) SetBuilderMachine(ctx context.Context, lockfileHash, machineID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dep_images SET builder_machine_id = $2, updated_at = now() WHERE lockfile_hash = $1
	`, lockfileHash, machineID)
	return err
}
