package asset

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrAssetNotFound     = errors.New("video asset does not exist")
	ErrUserVideoNotFound = errors.New("user video does not exist")
)

type Store struct{}

func NewStore() *Store { return &Store{} }

// FindOrCreate resolves the asset row for a normalized source, inserting
// a fresh 'pending' row when none exists. Concurrent callers racing on
// the same source are serialised by the partial unique index: the insert
// is ON CONFLICT DO NOTHING, and the reselect returns whichever row won.
// The returned flag is true when this call created the row.
func (store *Store) FindOrCreate(db database.Queryable, normalized NormalizedURL, rawURL string) (*VideoAsset, bool, error) {
	res, err := db.Exec(`
		INSERT INTO video_assets(id, platform, source_url_raw, source_url_normalized, external_id, status, refcount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, current_timestamp, current_timestamp)
		ON CONFLICT (platform, source_url_normalized) WHERE status != 'removed' DO NOTHING
	`, uuid.New(), normalized.Platform, rawURL, normalized.SourceURLNormalized, normalized.ExternalID, StatusPending)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert video asset: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	found, err := store.GetBySource(db, normalized.Platform, normalized.SourceURLNormalized)
	if err != nil {
		return nil, false, err
	}

	return found, inserted == 1, nil
}

func (store *Store) Get(db database.Queryable, id uuid.UUID) (*VideoAsset, error) {
	query, args, err := selectAssetBuilder().Where("video_assets.id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select asset query: %w", err)
	}

	var found VideoAsset
	if err := db.Get(&found, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssetNotFound
		}

		return nil, err
	}

	return &found, nil
}

func (store *Store) GetBySource(db database.Queryable, platform Platform, normalizedURL string) (*VideoAsset, error) {
	query, args, err := selectAssetBuilder().
		Where("video_assets.platform=?", platform).
		Where("video_assets.source_url_normalized=?", normalizedURL).
		Where("video_assets.status != ?", StatusRemoved).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select asset query: %w", err)
	}

	var found VideoAsset
	if err := db.Get(&found, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssetNotFound
		}

		return nil, err
	}

	return &found, nil
}

// ClaimIngestion stakes a jobs exclusive claim over an assets download.
// The claim only succeeds when no other job holds the asset and the asset
// still needs ingesting; a false return means another worker owns it (or
// it has since become ready) and the caller should park instead. Claims
// are visible across processes as they live on the asset row itself.
func (store *Store) ClaimIngestion(db database.Queryable, assetID uuid.UUID, jobID uuid.UUID) (bool, error) {
	res, err := db.Exec(`
		UPDATE video_assets SET owning_job_id=$1, updated_at=current_timestamp
		WHERE id=$2 AND owning_job_id IS NULL AND status IN ($3, $4)
	`, jobID, assetID, StatusPending, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to claim ingestion of asset %s: %w", assetID, err)
	}

	claimed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return claimed == 1, nil
}

// MarkReady records the published media facts against a pending asset
// and flips it to 'ready'. The ingestion claim is released in the same
// statement so parked jobs can observe the terminal state.
func (store *Store) MarkReady(db database.Queryable, id uuid.UUID, details ReadyDetails) error {
	_, err := db.Exec(`
		UPDATE video_assets
		SET status=$1, storage_url=$2, thumbnail_url=$3, title=$4, author_handle=$5,
		    duration_secs=$6, width=$7, height=$8, owning_job_id=NULL, updated_at=$9
		WHERE id=$10
	`, StatusReady, details.StorageURL, details.ThumbnailURL, details.Title, details.AuthorHandle,
		details.DurationSecs, details.Width, details.Height, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark asset %s ready: %w", id, err)
	}

	return nil
}

func (store *Store) MarkFailed(db database.Queryable, id uuid.UUID) error {
	_, err := db.Exec(`UPDATE video_assets SET status=$1, owning_job_id=NULL, updated_at=$2 WHERE id=$3`, StatusFailed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark asset %s failed: %w", id, err)
	}

	return nil
}

// AttachUserVideo creates the (user, asset) link, reusing the existing
// row if this user already holds the asset. The assets refcount is only
// bumped when a new link is created.
func (store *Store) AttachUserVideo(tx *sqlx.Tx, userID string, assetID uuid.UUID) (*UserVideo, error) {
	res, err := tx.Exec(`
		INSERT INTO user_videos(id, user_id, asset_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, current_timestamp, current_timestamp)
		ON CONFLICT (user_id, asset_id) DO NOTHING
	`, uuid.New(), userID, assetID, UserVideoDraft)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user video: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if inserted == 1 {
		if _, err := tx.Exec(`UPDATE video_assets SET refcount=refcount+1, updated_at=current_timestamp WHERE id=$1`, assetID); err != nil {
			return nil, fmt.Errorf("failed to increment asset refcount: %w", err)
		}
	}

	var link UserVideo
	if err := tx.Get(&link, `SELECT * FROM user_videos WHERE user_id=$1 AND asset_id=$2`, userID, assetID); err != nil {
		return nil, err
	}

	return &link, nil
}

func (store *Store) GetUserVideo(db database.Queryable, id uuid.UUID) (*UserVideo, error) {
	var link UserVideo
	if err := db.Get(&link, `SELECT * FROM user_videos WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserVideoNotFound
		}

		return nil, err
	}

	return &link, nil
}

// Release removes a users link to an asset and decrements the refcount.
// An asset whose refcount reaches zero is soft-deleted ('removed'), which
// frees its slot under the partial unique index for future re-ingestion.
func (store *Store) Release(tx *sqlx.Tx, userVideoID uuid.UUID) error {
	var link UserVideo
	if err := tx.Get(&link, `SELECT * FROM user_videos WHERE id=$1 FOR UPDATE`, userVideoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserVideoNotFound
		}

		return err
	}

	if _, err := tx.Exec(`DELETE FROM user_videos WHERE id=$1`, userVideoID); err != nil {
		return fmt.Errorf("failed to delete user video %s: %w", userVideoID, err)
	}

	var refcount int
	if err := tx.Get(&refcount, `
		UPDATE video_assets SET refcount=GREATEST(refcount-1, 0), updated_at=current_timestamp
		WHERE id=$1
		RETURNING refcount
	`, link.AssetID); err != nil {
		return fmt.Errorf("failed to decrement asset refcount: %w", err)
	}

	if refcount == 0 {
		if _, err := tx.Exec(`UPDATE video_assets SET status=$1, updated_at=current_timestamp WHERE id=$2`, StatusRemoved, link.AssetID); err != nil {
			return fmt.Errorf("failed to soft-delete asset %s: %w", link.AssetID, err)
		}
	}

	return nil
}

func selectAssetBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("video_assets.*").
		From("video_assets")
}
