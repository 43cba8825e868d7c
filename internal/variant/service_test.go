package variant_test

import (
	"context"
	"os"
	"testing"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/asset"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/tool"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/variant"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDatabaseManager struct{ mock.Mock }

func (m *mockDatabaseManager) Connect(config database.DatabaseConfig) error { return nil }
func (m *mockDatabaseManager) GetSqlxDb() *sqlx.DB                          { return nil }
func (m *mockDatabaseManager) WrapTx(f func(*sqlx.Tx) error) error          { return f(nil) }

type mockAssetStore struct{ mock.Mock }

func (m *mockAssetStore) Get(db database.Queryable, id uuid.UUID) (*asset.VideoAsset, error) {
	args := m.Called(db, id)
	if v := args.Get(0); v != nil {
		return v.(*asset.VideoAsset), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAssetStore) GetUserVideo(db database.Queryable, id uuid.UUID) (*asset.UserVideo, error) {
	args := m.Called(db, id)
	if v := args.Get(0); v != nil {
		return v.(*asset.UserVideo), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockVariantStore struct{ mock.Mock }

func (m *mockVariantStore) Create(db database.Queryable, v *variant.Variant) error {
	return m.Called(db, v).Error(0)
}

func (m *mockVariantStore) ListForUserVideo(db database.Queryable, id uuid.UUID) ([]*variant.Variant, error) {
	args := m.Called(db, id)
	if v := args.Get(0); v != nil {
		return v.([]*variant.Variant), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockStorage struct{ mock.Mock }

func (m *mockStorage) Publish(ctx context.Context, localPath string, key string) (string, error) {
	args := m.Called(ctx, localPath, key)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) Fetch(ctx context.Context, key string, destPath string) error {
	return m.Called(ctx, key, destPath).Error(0)
}

func (m *mockStorage) KeyFromURL(url string) (string, bool) {
	args := m.Called(url)
	return args.String(0), args.Bool(1)
}

type mockRenderer struct {
	mock.Mock
	lastOpts tool.RenderOptions
}

func (m *mockRenderer) Render(ctx context.Context, inputPath string, outputPath string, opts tool.RenderOptions) error {
	m.lastOpts = opts
	return m.Called(ctx, inputPath, outputPath, opts).Error(0)
}

func strPtr(s string) *string { return &s }

func readyAsset() *asset.VideoAsset {
	duration := 120.0
	return &asset.VideoAsset{
		ID:           uuid.New(),
		Platform:     asset.PlatformYoutube,
		Status:       asset.StatusReady,
		StorageURL:   strPtr("https://storage.googleapis.com/bucket/ingest/a/video.mp4"),
		DurationSecs: &duration,
	}
}

func newService(assets *mockAssetStore, variants *mockVariantStore, storage *mockStorage, renderer *mockRenderer) *variant.Service {
	return variant.New(&mockDatabaseManager{}, assets, variants, storage, renderer)
}

func Test_CreateVariant_RejectsUnreadyAsset(t *testing.T) {
	for _, status := range []asset.Status{asset.StatusPending, asset.StatusFailed, asset.StatusRemoved} {
		statusCopy := status
		t.Run(string(statusCopy), func(t *testing.T) {
			parent := readyAsset()
			parent.Status = statusCopy
			link := &asset.UserVideo{ID: uuid.New(), AssetID: parent.ID, UserID: "user-1"}

			assets := &mockAssetStore{}
			assets.On("GetUserVideo", mock.Anything, link.ID).Return(link, nil)
			assets.On("Get", mock.Anything, parent.ID).Return(parent, nil)
			variants := &mockVariantStore{}
			service := newService(assets, variants, &mockStorage{}, &mockRenderer{})

			_, err := service.CreateVariant(context.Background(), link.ID, variant.KindEdit, variant.Manifest{})
			assert.ErrorIs(t, err, variant.ErrAssetNotReady)
			variants.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func Test_CreateVariant_RejectsInvalidManifests(t *testing.T) {
	service := newService(&mockAssetStore{}, &mockVariantStore{}, &mockStorage{}, &mockRenderer{})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := service.CreateVariant(context.Background(), uuid.New(), variant.Kind("bogus"), variant.Manifest{})
		assert.ErrorIs(t, err, variant.ErrInvalidManifest)
	})

	t.Run("inverted trim window", func(t *testing.T) {
		manifest := variant.Manifest{Trim: &variant.TrimSpec{StartSecs: 30, EndSecs: 10}}
		_, err := service.CreateVariant(context.Background(), uuid.New(), variant.KindClipped, manifest)
		assert.ErrorIs(t, err, variant.ErrInvalidManifest)
	})

	t.Run("unsupported crop aspect", func(t *testing.T) {
		manifest := variant.Manifest{CropAspect: "4:3"}
		_, err := service.CreateVariant(context.Background(), uuid.New(), variant.KindEdit, manifest)
		assert.ErrorIs(t, err, variant.ErrInvalidManifest)
	})
}

func Test_CreateVariant_UnknownUserVideo(t *testing.T) {
	assets := &mockAssetStore{}
	assets.On("GetUserVideo", mock.Anything, mock.Anything).Return(nil, asset.ErrUserVideoNotFound)
	service := newService(assets, &mockVariantStore{}, &mockStorage{}, &mockRenderer{})

	_, err := service.CreateVariant(context.Background(), uuid.New(), variant.KindEdit, variant.Manifest{})
	assert.ErrorIs(t, err, variant.ErrUserVideoNotFound)
}

func Test_CreateVariant_RendersAndPublishesRendition(t *testing.T) {
	parent := readyAsset()
	link := &asset.UserVideo{ID: uuid.New(), AssetID: parent.ID, UserID: "user-1"}

	assets := &mockAssetStore{}
	assets.On("GetUserVideo", mock.Anything, link.ID).Return(link, nil)
	assets.On("Get", mock.Anything, parent.ID).Return(parent, nil)

	storage := &mockStorage{}
	storage.On("KeyFromURL", *parent.StorageURL).Return("ingest/a/video.mp4", true)
	storage.On("Fetch", mock.Anything, "ingest/a/video.mp4", mock.Anything).Return(nil)
	storage.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("https://storage.googleapis.com/bucket/variants/x/y.mp4", nil)

	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	variants := &mockVariantStore{}
	variants.On("Create", mock.Anything, mock.Anything).Return(nil)

	service := newService(assets, variants, storage, renderer)

	manifest := variant.Manifest{
		Trim:       &variant.TrimSpec{StartSecs: 5, EndSecs: 25},
		CropAspect: "9:16",
		Captions:   "1\n00:00:01,000 --> 00:00:02,000\nhello\n",
		Mute:       true,
	}
	created, err := service.CreateVariant(context.Background(), link.ID, variant.KindCaptioned, manifest)
	require.Nil(t, err)

	assert.Equal(t, variant.KindCaptioned, created.Kind)
	assert.Equal(t, "https://storage.googleapis.com/bucket/variants/x/y.mp4", created.StorageURL)
	if assert.NotNil(t, created.DurationSecs) {
		assert.Equal(t, 20.0, *created.DurationSecs)
	}
	assert.Equal(t, manifest, created.EditManifest)

	// The lowered render options must reflect the manifest
	assert.Equal(t, "9:16", renderer.lastOpts.CropAspect)
	assert.True(t, renderer.lastOpts.Mute)
	if assert.NotNil(t, renderer.lastOpts.TrimStartSecs) {
		assert.Equal(t, 5.0, *renderer.lastOpts.TrimStartSecs)
	}
	assert.NotEmpty(t, renderer.lastOpts.SubtitlesPath)

	// Caption track materialised for the tool at render time; scratch is
	// cleaned up once the variant is created
	_, statErr := os.Stat(renderer.lastOpts.SubtitlesPath)
	assert.True(t, os.IsNotExist(statErr))

	variants.AssertCalled(t, "Create", mock.Anything, mock.Anything)
}

func Test_VariantsForUserVideo(t *testing.T) {
	link := &asset.UserVideo{ID: uuid.New(), AssetID: uuid.New(), UserID: "user-1"}

	t.Run("delegates to the store", func(t *testing.T) {
		assets := &mockAssetStore{}
		assets.On("GetUserVideo", mock.Anything, link.ID).Return(link, nil)
		variants := &mockVariantStore{}
		variants.On("ListForUserVideo", mock.Anything, link.ID).Return([]*variant.Variant{}, nil)

		service := newService(assets, variants, &mockStorage{}, &mockRenderer{})
		result, err := service.VariantsForUserVideo(link.ID)
		assert.Nil(t, err)
		assert.Empty(t, result)
	})

	t.Run("unknown user video", func(t *testing.T) {
		assets := &mockAssetStore{}
		assets.On("GetUserVideo", mock.Anything, mock.Anything).Return(nil, asset.ErrUserVideoNotFound)

		service := newService(assets, &mockVariantStore{}, &mockStorage{}, &mockRenderer{})
		_, err := service.VariantsForUserVideo(uuid.New())
		assert.ErrorIs(t, err, variant.ErrUserVideoNotFound)
	})
}
