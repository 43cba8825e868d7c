package asset

import (
	"time"

	"github.com/google/uuid"
)

type (
	Platform string
	Status   string

	UserVideoStatus string
)

const (
	PlatformYoutube Platform = "youtube"
	PlatformX       Platform = "x"
	PlatformReddit  Platform = "reddit"
	PlatformOther   Platform = "other"

	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
	StatusRemoved Status = "removed"

	UserVideoDraft     UserVideoStatus = "draft"
	UserVideoPublished UserVideoStatus = "published"
	UserVideoArchived  UserVideoStatus = "archived"
)

// VideoAsset is one row of the deduplication registry: the canonical,
// content-addressed record for a piece of externally-hosted media. All
// user videos referencing the same normalized source share one asset.
type VideoAsset struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	Platform            Platform   `db:"platform" json:"platform"`
	SourceURLRaw        string     `db:"source_url_raw" json:"sourceUrlRaw"`
	SourceURLNormalized string     `db:"source_url_normalized" json:"sourceUrlNormalized"`
	ExternalID          *string    `db:"external_id" json:"externalId,omitempty"`
	Title               *string    `db:"title" json:"title,omitempty"`
	AuthorHandle        *string    `db:"author_handle" json:"authorHandle,omitempty"`
	Status              Status     `db:"status" json:"status"`
	DurationSecs        *float64   `db:"duration_secs" json:"durationSec,omitempty"`
	Width               *int       `db:"width" json:"width,omitempty"`
	Height              *int       `db:"height" json:"height,omitempty"`
	StorageURL          *string    `db:"storage_url" json:"storageUrl,omitempty"`
	ThumbnailURL        *string    `db:"thumbnail_url" json:"thumbnailUrl,omitempty"`
	Refcount            int        `db:"refcount" json:"refcount"`
	OwningJobID         *uuid.UUID `db:"owning_job_id" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
}

// UserVideo links a user to an asset. The (user, asset) pair is unique;
// re-submitting the same media for the same user reuses the row.
type UserVideo struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	UserID        string          `db:"user_id" json:"userId"`
	AssetID       uuid.UUID       `db:"asset_id" json:"assetId"`
	Status        UserVideoStatus `db:"status" json:"status"`
	TitleOverride *string         `db:"title_override" json:"titleOverride,omitempty"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`
	PosterURL     *string         `db:"poster_url" json:"posterUrl,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// ReadyDetails carries the media facts recorded against an asset when
// its ingestion pipeline finishes successfully.
type ReadyDetails struct {
	StorageURL   string
	ThumbnailURL *string
	Title        *string
	AuthorHandle *string
	DurationSecs *float64
	Width        *int
	Height       *int
}
