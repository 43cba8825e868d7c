package variant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/asset"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/tool"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
	"github.com/google/uuid"
)

var (
	ErrAssetNotReady     = errors.New("video asset is not ready")
	ErrInvalidManifest   = errors.New("edit manifest is invalid")
	ErrUserVideoNotFound = asset.ErrUserVideoNotFound
)

type (
	AssetStore interface {
		Get(db database.Queryable, id uuid.UUID) (*asset.VideoAsset, error)
		GetUserVideo(db database.Queryable, id uuid.UUID) (*asset.UserVideo, error)
	}

	VariantStore interface {
		Create(db database.Queryable, variant *Variant) error
		ListForUserVideo(db database.Queryable, userVideoID uuid.UUID) ([]*Variant, error)
	}

	MediaStorage interface {
		Publish(ctx context.Context, localPath string, key string) (string, error)
		Fetch(ctx context.Context, key string, destPath string) error
		KeyFromURL(url string) (string, bool)
	}

	Renderer interface {
		Render(ctx context.Context, inputPath string, outputPath string, opts tool.RenderOptions) error
	}

	Service struct {
		db       database.Manager
		assets   AssetStore
		variants VariantStore
		storage  MediaStorage
		renderer Renderer
		log      logger.Logger
	}
)

func New(db database.Manager, assets AssetStore, variants VariantStore, storage MediaStorage, renderer Renderer) *Service {
	return &Service{
		db:       db,
		assets:   assets,
		variants: variants,
		storage:  storage,
		renderer: renderer,
		log:      logger.Get("VariantServ"),
	}
}

// CreateVariant renders a new immutable rendition of the user videos
// canonical asset according to the manifest. The parent asset must be
// 'ready'; pending, failed or removed assets yield ErrAssetNotReady and
// no variant row is created.
func (service *Service) CreateVariant(ctx context.Context, userVideoID uuid.UUID, kind Kind, manifest Manifest) (*Variant, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown variant kind %q", ErrInvalidManifest, kind)
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	db := service.db.GetSqlxDb()
	userVideo, err := service.assets.GetUserVideo(db, userVideoID)
	if err != nil {
		return nil, err
	}

	parent, err := service.assets.Get(db, userVideo.AssetID)
	if err != nil {
		return nil, err
	}
	if parent.Status != asset.StatusReady || parent.StorageURL == nil {
		return nil, fmt.Errorf("%w: asset %s is %s", ErrAssetNotReady, parent.ID, parent.Status)
	}

	scratchDir, err := os.MkdirTemp("", "variant-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratchDir)

	sourceKey, ok := service.storage.KeyFromURL(*parent.StorageURL)
	if !ok {
		return nil, fmt.Errorf("asset %s storage URL %s is not addressable", parent.ID, *parent.StorageURL)
	}

	sourcePath := filepath.Join(scratchDir, "source.mp4")
	if err := service.storage.Fetch(ctx, sourceKey, sourcePath); err != nil {
		return nil, err
	}

	opts, err := renderOptions(manifest, scratchDir)
	if err != nil {
		return nil, err
	}

	outputPath := filepath.Join(scratchDir, "variant.mp4")
	if err := service.renderer.Render(ctx, sourcePath, outputPath, opts); err != nil {
		return nil, err
	}

	variantID := uuid.New()
	storageURL, err := service.storage.Publish(ctx, outputPath, fmt.Sprintf("variants/%s/%s.mp4", userVideoID, variantID))
	if err != nil {
		return nil, err
	}

	newVariant := &Variant{
		variantBase: variantBase{
			ID:           variantID,
			UserVideoID:  userVideoID,
			Kind:         kind,
			StorageURL:   storageURL,
			DurationSecs: deriveDuration(manifest, parent),
		},
		EditManifest: manifest,
	}
	if err := service.variants.Create(db, newVariant); err != nil {
		return nil, err
	}

	service.log.Emit(logger.NEW, "Created %s variant %s for user video %s\n", kind, variantID, userVideoID)
	return newVariant, nil
}

func (service *Service) VariantsForUserVideo(userVideoID uuid.UUID) ([]*Variant, error) {
	db := service.db.GetSqlxDb()
	if _, err := service.assets.GetUserVideo(db, userVideoID); err != nil {
		return nil, err
	}

	return service.variants.ListForUserVideo(db, userVideoID)
}

// renderOptions lowers the declarative manifest in to tool arguments,
// materialising any caption track as a file in the scratch dir.
func renderOptions(manifest Manifest, scratchDir string) (tool.RenderOptions, error) {
	opts := tool.RenderOptions{
		CropAspect: manifest.CropAspect,
		Mute:       manifest.Mute,
	}

	if manifest.Trim != nil {
		start, end := manifest.Trim.StartSecs, manifest.Trim.EndSecs
		opts.TrimStartSecs = &start
		opts.TrimEndSecs = &end
	}

	if manifest.Captions != "" {
		captionsPath := filepath.Join(scratchDir, "captions.srt")
		if err := os.WriteFile(captionsPath, []byte(manifest.Captions), 0o644); err != nil {
			return tool.RenderOptions{}, fmt.Errorf("failed to materialise caption track: %w", err)
		}
		opts.SubtitlesPath = captionsPath
	}

	return opts, nil
}

func deriveDuration(manifest Manifest, parent *asset.VideoAsset) *float64 {
	if manifest.Trim != nil {
		duration := manifest.Trim.EndSecs - manifest.Trim.StartSecs
		return &duration
	}

	return parent.DurationSecs
}
