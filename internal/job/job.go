package job

import (
	"time"

	"github.com/google/uuid"
)

type (
	Status    string
	Operation string
	Platform  string
)

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusTranscoding Status = "transcoding"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"

	OperationIngest Operation = "ingest"
	OperationTrim   Operation = "trim"

	PlatformYoutube  Platform = "youtube"
	PlatformX        Platform = "x"
	PlatformFacebook Platform = "facebook"
	PlatformReddit   Platform = "reddit"
	PlatformTiktok   Platform = "tiktok"
	PlatformOther    Platform = "other"
)

// statusRank orders the pipeline milestones. A job status may only move
// to an equal or higher rank; completed and failed are terminal.
var statusRank = map[Status]int{
	StatusQueued:      0,
	StatusDownloading: 1,
	StatusTranscoding: 2,
	StatusUploading:   3,
	StatusCompleted:   4,
	StatusFailed:      4,
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Rank() int {
	return statusRank[s]
}

// CanTransition reports whether a job may move from one status to
// another. Terminal statuses are immutable, any non-terminal status may
// fail, and otherwise the status rank must never decrease.
func CanTransition(from Status, to Status) bool {
	if from.IsTerminal() {
		return false
	}

	if to == StatusFailed {
		return true
	}

	return to.Rank() >= from.Rank()
}

// IngestableTypes are the media sources accepted by the submission
// endpoint. Anything else is rejected before a job is created.
var IngestableTypes = []Platform{PlatformYoutube, PlatformX, PlatformFacebook, PlatformReddit, PlatformTiktok}

func IsIngestableType(raw string) bool {
	for _, t := range IngestableTypes {
		if string(t) == raw {
			return true
		}
	}

	return false
}

type Job struct {
	ID            uuid.UUID `db:"id" json:"id"`
	SourceURL     string    `db:"source_url" json:"sourceUrl"`
	Platform      Platform  `db:"platform" json:"platform"`
	Operation     Operation `db:"operation" json:"operation"`
	UserID        *string   `db:"user_id" json:"userId,omitempty"`
	PostID        *string   `db:"post_id" json:"postId,omitempty"`
	Status        Status    `db:"status" json:"status"`
	Progress      int       `db:"progress" json:"progress"`
	Error         *string   `db:"error" json:"error,omitempty"`
	MediaURL      *string   `db:"media_url" json:"mediaUrl,omitempty"`
	ThumbnailURL  *string   `db:"thumbnail_url" json:"thumbnailUrl,omitempty"`
	EncoderID     *string   `db:"encoder_id" json:"encoderId,omitempty"`
	EncoderStatus *string   `db:"encoder_status" json:"encoderStatus,omitempty"`
	DurationSecs  *float64  `db:"duration_secs" json:"durationSec,omitempty"`
	Width         *int      `db:"width" json:"width,omitempty"`
	Height        *int      `db:"height" json:"height,omitempty"`
	Title         *string   `db:"title" json:"title,omitempty"`
	Channel       *string   `db:"channel" json:"channel,omitempty"`
	TrimStartSecs *float64  `db:"trim_start_secs" json:"trimStartSec,omitempty"`
	TrimEndSecs   *float64  `db:"trim_end_secs" json:"trimEndSec,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Patch is a partial update to a job row. Nil fields are left untouched
// by Store.Update.
type Patch struct {
	Status        *Status
	Progress      *int
	Error         *string
	MediaURL      *string
	ThumbnailURL  *string
	EncoderID     *string
	EncoderStatus *string
	DurationSecs  *float64
	Width         *int
	Height        *int
	Title         *string
	Channel       *string
}
