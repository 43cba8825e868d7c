package variant

import (
	"errors"
	"fmt"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/google/uuid"
)

type Kind string

const (
	KindEdit      Kind = "edit"
	KindCaptioned Kind = "captioned"
	KindClipped   Kind = "clipped"
)

func (k Kind) IsValid() bool {
	return k == KindEdit || k == KindCaptioned || k == KindClipped
}

// TrimSpec bounds a variant to a window of the source, in seconds.
type TrimSpec struct {
	StartSecs float64 `json:"start"`
	EndSecs   float64 `json:"end"`
}

// Manifest declaratively describes an edited rendition of a canonical
// asset. Stored verbatim against the variant row so a rendition can
// always be explained (and re-derived) later.
type Manifest struct {
	Trim       *TrimSpec `json:"trim,omitempty"`
	CropAspect string    `json:"cropAspect,omitempty"`
	Captions   string    `json:"captions,omitempty"`
	Mute       bool      `json:"mute,omitempty"`
}

// Validate rejects manifests which could never render: inverted or
// negative trim windows and unknown crop aspects.
func (manifest *Manifest) Validate() error {
	if manifest.Trim != nil {
		if manifest.Trim.StartSecs < 0 {
			return errors.New("trim start must not be negative")
		}
		if manifest.Trim.EndSecs <= manifest.Trim.StartSecs {
			return errors.New("trim end must be greater than trim start")
		}
	}

	switch manifest.CropAspect {
	case "", "16:9", "9:16", "1:1":
	default:
		return fmt.Errorf("unsupported crop aspect %q", manifest.CropAspect)
	}

	return nil
}

type variantBase struct {
	ID           uuid.UUID `db:"id" json:"id"`
	UserVideoID  uuid.UUID `db:"user_video_id" json:"userVideoId"`
	Kind         Kind      `db:"kind" json:"kind"`
	StorageURL   string    `db:"storage_url" json:"storageUrl"`
	DurationSecs *float64  `db:"duration_secs" json:"durationSec,omitempty"`
	Width        *int      `db:"width" json:"width,omitempty"`
	Height       *int      `db:"height" json:"height,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// variantModel is the table representation; the manifest jsonb column is
// wrapped in a JsonColumn container which is hidden from the public API.
type variantModel struct {
	variantBase
	EditManifest database.JsonColumn[Manifest] `db:"edit_manifest"`
}

// Variant is an immutable derived rendition of a user video.
type Variant struct {
	variantBase
	EditManifest Manifest `json:"editManifest"`
}

func variantModelToVariant(model *variantModel) *Variant {
	out := &Variant{variantBase: model.variantBase}
	if manifest := model.EditManifest.Get(); manifest != nil {
		out.EditManifest = *manifest
	}

	return out
}
