package variant_test

import (
	"testing"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/asset"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/variant"
	"github.com/ddoubleg123/carrot-worker-sub002/tests/helpers"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// provisionUserVideo inserts the asset and user video rows a variant must
// hang off, returning the user video link.
func provisionUserVideo(t *testing.T, db *sqlx.DB) *asset.UserVideo {
	assets := asset.NewStore()
	videoID := "variants"
	found, _, err := assets.FindOrCreate(db, asset.NormalizedURL{
		Platform:            asset.PlatformYoutube,
		SourceURLNormalized: "https://youtube.com/watch?v=" + videoID,
		ExternalID:          &videoID,
	}, "https://youtube.com/watch?v="+videoID)
	require.Nil(t, err)

	var link *asset.UserVideo
	require.Nil(t, database.WrapTx(db, func(tx *sqlx.Tx) error {
		link, err = assets.AttachUserVideo(tx, "user-one", found.ID)
		return err
	}))

	return link
}

func Test_VariantStore_RoundTrip(t *testing.T) {
	db := helpers.ProvisionTestDatabase(t)
	store := variant.NewStore()
	link := provisionUserVideo(t, db)

	duration := 15.0
	created := &variant.Variant{}
	created.UserVideoID = link.ID
	created.Kind = variant.KindClipped
	created.StorageURL = "https://storage.example.com/variants/clip.mp4"
	created.DurationSecs = &duration
	created.EditManifest = variant.Manifest{
		Trim:       &variant.TrimSpec{StartSecs: 5, EndSecs: 20},
		CropAspect: "9:16",
		Mute:       true,
	}
	require.Nil(t, store.Create(db, created))

	second := &variant.Variant{}
	second.UserVideoID = link.ID
	second.Kind = variant.KindEdit
	second.StorageURL = "https://storage.example.com/variants/edit.mp4"
	require.Nil(t, store.Create(db, second))

	t.Run("variants list newest first with their manifest intact", func(t *testing.T) {
		all, err := store.ListForUserVideo(db, link.ID)
		require.Nil(t, err)
		require.Len(t, all, 2)

		assert.Equal(t, second.ID, all[0].ID)
		assert.Equal(t, created.ID, all[1].ID)

		manifest := all[1].EditManifest
		require.NotNil(t, manifest.Trim)
		assert.InDelta(t, 5.0, manifest.Trim.StartSecs, 0.001)
		assert.InDelta(t, 20.0, manifest.Trim.EndSecs, 0.001)
		assert.Equal(t, "9:16", manifest.CropAspect)
		assert.True(t, manifest.Mute)
	})

	t.Run("empty manifest round-trips as the zero value", func(t *testing.T) {
		all, err := store.ListForUserVideo(db, link.ID)
		require.Nil(t, err)
		assert.Nil(t, all[0].EditManifest.Trim)
		assert.Equal(t, "", all[0].EditManifest.CropAspect)
	})
}
