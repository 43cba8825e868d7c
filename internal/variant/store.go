package variant

import (
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/google/uuid"
)

type Store struct{}

func NewStore() *Store { return &Store{} }

// Create inserts the variant row. Variants are immutable, so this is
// the only write this store exposes.
func (store *Store) Create(db database.Queryable, variant *Variant) error {
	if variant.ID == uuid.Nil {
		variant.ID = uuid.New()
	}
	variant.CreatedAt = time.Now()

	_, err := db.Exec(`
		INSERT INTO video_variants(id, user_video_id, kind, storage_url, duration_secs, width, height, edit_manifest, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, variant.ID, variant.UserVideoID, variant.Kind, variant.StorageURL,
		variant.DurationSecs, variant.Width, variant.Height,
		database.NewJsonColumn(variant.EditManifest), variant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert video variant: %w", err)
	}

	return nil
}

// ListForUserVideo returns the variants of a user video, newest first.
func (store *Store) ListForUserVideo(db database.Queryable, userVideoID uuid.UUID) ([]*Variant, error) {
	query, args, err := squirrel.
		Select("video_variants.*").
		From("video_variants").
		Where("video_variants.user_video_id=?", userVideoID).
		OrderBy("video_variants.created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list variants query: %w", err)
	}

	var results []variantModel
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Variant, len(results))
	for k, v := range results {
		vCopy := v
		output[k] = variantModelToVariant(&vCopy)
	}

	return output, nil
}
