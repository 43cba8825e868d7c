package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/asset"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/callback"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/event"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/job"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/tool"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// processJob runs a freshly claimed job through its pipeline. Any
// error fails the job; parked jobs return no error and are finished
// later by the owning ingestion's terminal asset event.
func (service *ingestService) processJob(ctx context.Context, claimed *job.Job) {
	service.eventBus.Dispatch(event.JOB_UPDATE, claimed.ID)
	service.notifier.Enqueue(payloadForJob(claimed))

	var err error
	switch claimed.Operation {
	case job.OperationTrim:
		err = service.runTrimPipeline(ctx, claimed)
	default:
		err = service.runIngestPipeline(ctx, claimed)
	}

	if err != nil {
		ingestLogger.Errorf("Job %s failed: %v\n", claimed.ID, err)
		service.failJob(claimed.ID, err)
	}
}

// runIngestPipeline resolves the jobs canonical asset and either reuses
// it (ready), parks behind the job already ingesting it (pending and
// owned elsewhere), or performs the ingestion itself. Ownership is an
// atomic claim on the asset row, so two workers racing on one source
// resolve to exactly one downloader even across processes.
func (service *ingestService) runIngestPipeline(ctx context.Context, claimed *job.Job) error {
	normalized := asset.NormalizeURL(claimed.SourceURL)

	var found *asset.VideoAsset
	err := service.db.WrapTx(func(tx *sqlx.Tx) error {
		var err error
		found, _, err = service.assets.FindOrCreate(tx, normalized, claimed.SourceURL)
		return err
	})
	if err != nil {
		return err
	}

	if found.Status == asset.StatusReady {
		ingestLogger.Infof("Job %s reusing ready asset %s, no download required\n", claimed.ID, found.ID)
		return service.completeFromAsset(claimed.ID, found)
	}

	owned, err := service.assets.ClaimIngestion(service.db.GetSqlxDb(), found.ID, claimed.ID)
	if err != nil {
		return err
	}

	if !owned {
		// The claim can also fail because the owning ingestion finished
		// between our status read and the claim. Re-read before parking.
		current, err := service.assets.Get(service.db.GetSqlxDb(), found.ID)
		if err != nil {
			return err
		}
		if current.Status == asset.StatusReady {
			ingestLogger.Infof("Job %s reusing ready asset %s, no download required\n", claimed.ID, current.ID)
			return service.completeFromAsset(claimed.ID, current)
		}

		service.Lock()
		service.parked[found.ID] = append(service.parked[found.ID], claimed.ID)
		service.Unlock()

		ingestLogger.Infof("Job %s parked while asset %s is ingested elsewhere\n", claimed.ID, found.ID)
		return nil
	}

	if err := service.runOwnedIngest(ctx, claimed, found); err != nil {
		if markErr := service.assets.MarkFailed(service.db.GetSqlxDb(), found.ID); markErr != nil {
			ingestLogger.Errorf("Failed to mark asset %s failed: %v\n", found.ID, markErr)
		}
		service.eventBus.Dispatch(event.ASSET_FAILED, found.ID)
		return err
	}

	service.eventBus.Dispatch(event.ASSET_READY, found.ID)
	return nil
}

// runOwnedIngest is the download/transcode/upload pipeline for a job
// which owns its assets ingestion. Scratch space is removed on success
// but retained on failure so the partial output can be inspected; the
// periodic sweep removes it once the retention window passes.
func (service *ingestService) runOwnedIngest(ctx context.Context, claimed *job.Job, found *asset.VideoAsset) (err error) {
	scratchDir := filepath.Join(service.config.IngestPath, claimed.ID.String())
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err == nil {
			os.RemoveAll(scratchDir)
		}
	}()

	// Metadata is best-effort; a source which downloads fine but won't
	// dump metadata should still ingest.
	meta, err := service.runner.Metadata(ctx, claimed.SourceURL)
	if err != nil {
		ingestLogger.Warnf("Metadata lookup for job %s failed: %v\n", claimed.ID, err)
		meta = &tool.Metadata{}
	}

	videoPath, err := service.runner.Download(ctx, claimed.SourceURL, scratchDir)
	if err != nil {
		return err
	}

	if _, err := service.transition(claimed.ID, job.StatusTranscoding, 60); err != nil {
		return err
	}

	thumbPath := filepath.Join(scratchDir, "thumb.jpg")
	if err := service.runner.Thumbnail(ctx, videoPath, thumbPath); err != nil {
		return err
	}

	if _, err := service.transition(claimed.ID, job.StatusUploading, 85); err != nil {
		return err
	}

	mediaURL, err := service.storage.Publish(ctx, videoPath, fmt.Sprintf("ingest/%s/video.mp4", found.ID))
	if err != nil {
		return err
	}

	thumbURL, err := service.storage.Publish(ctx, thumbPath, fmt.Sprintf("ingest/%s/thumb.jpg", found.ID))
	if err != nil {
		return err
	}

	details := asset.ReadyDetails{StorageURL: mediaURL, ThumbnailURL: &thumbURL}
	if meta.Title != "" {
		details.Title = &meta.Title
	}
	if handle := meta.AuthorHandle(); handle != "" {
		details.AuthorHandle = &handle
	}
	if meta.DurationSecs > 0 {
		details.DurationSecs = &meta.DurationSecs
	}
	if meta.Width > 0 {
		details.Width = &meta.Width
	}
	if meta.Height > 0 {
		details.Height = &meta.Height
	}

	if err := service.assets.MarkReady(service.db.GetSqlxDb(), found.ID, details); err != nil {
		return err
	}

	status := job.StatusCompleted
	progress := 100
	_, err = service.updateJob(claimed.ID, job.Patch{
		Status:       &status,
		Progress:     &progress,
		MediaURL:     &mediaURL,
		ThumbnailURL: &thumbURL,
		DurationSecs: details.DurationSecs,
		Width:        details.Width,
		Height:       details.Height,
		Title:        details.Title,
		Channel:      details.AuthorHandle,
	})
	return err
}

// runTrimPipeline cuts the requested window out of the source. Trim
// jobs bypass the deduplication registry entirely; their output is
// keyed under the job, not an asset.
func (service *ingestService) runTrimPipeline(ctx context.Context, claimed *job.Job) (err error) {
	if claimed.TrimStartSecs == nil || claimed.TrimEndSecs == nil {
		return errors.New("trim job is missing its trim window")
	}

	scratchDir := filepath.Join(service.config.IngestPath, claimed.ID.String())
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err == nil {
			os.RemoveAll(scratchDir)
		}
	}()

	sourcePath, err := service.runner.Download(ctx, claimed.SourceURL, scratchDir)
	if err != nil {
		return err
	}

	if _, err := service.transition(claimed.ID, job.StatusTranscoding, 60); err != nil {
		return err
	}

	trimmedPath := filepath.Join(scratchDir, "trimmed.mp4")
	if err := service.runner.Trim(ctx, sourcePath, trimmedPath, *claimed.TrimStartSecs, *claimed.TrimEndSecs); err != nil {
		return err
	}

	thumbPath := filepath.Join(scratchDir, "thumb.jpg")
	if err := service.runner.Thumbnail(ctx, trimmedPath, thumbPath); err != nil {
		return err
	}

	if _, err := service.transition(claimed.ID, job.StatusUploading, 85); err != nil {
		return err
	}

	mediaURL, err := service.storage.Publish(ctx, trimmedPath, fmt.Sprintf("trims/%s/video.mp4", claimed.ID))
	if err != nil {
		return err
	}

	thumbURL, err := service.storage.Publish(ctx, thumbPath, fmt.Sprintf("trims/%s/thumb.jpg", claimed.ID))
	if err != nil {
		return err
	}

	status := job.StatusCompleted
	progress := 100
	duration := *claimed.TrimEndSecs - *claimed.TrimStartSecs
	_, err = service.updateJob(claimed.ID, job.Patch{
		Status:       &status,
		Progress:     &progress,
		MediaURL:     &mediaURL,
		ThumbnailURL: &thumbURL,
		DurationSecs: &duration,
	})
	return err
}

// cleanupScratch sweeps the scratch space for directories older than
// the retention window. Live jobs are never swept in practice as the
// retention window is far longer than any tool timeout.
func (service *ingestService) cleanupScratch() {
	entries, err := os.ReadDir(service.config.IngestPath)
	if err != nil {
		if !os.IsNotExist(err) {
			ingestLogger.Warnf("Failed to read scratch path %s: %v\n", service.config.IngestPath, err)
		}
		return
	}

	cutoff := time.Now().Add(-time.Duration(service.config.ScratchRetentionSecs) * time.Second)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		stale := filepath.Join(service.config.IngestPath, entry.Name())
		if err := os.RemoveAll(stale); err != nil {
			ingestLogger.Warnf("Failed to sweep stale scratch dir %s: %v\n", stale, err)
			continue
		}

		ingestLogger.Debugf("Swept stale scratch dir %s\n", stale)
	}
}

// recheckParkedJobs reads the current registry state of every asset
// with parked jobs and releases those whose ingestion has reached a
// terminal state. This is the recovery path for ingestions owned by
// another process, whose terminal events are never seen locally.
func (service *ingestService) recheckParkedJobs() {
	service.Lock()
	waitingOn := make([]uuid.UUID, 0, len(service.parked))
	for assetID := range service.parked {
		waitingOn = append(waitingOn, assetID)
	}
	service.Unlock()

	for _, assetID := range waitingOn {
		found, err := service.assets.Get(service.db.GetSqlxDb(), assetID)
		if err != nil {
			ingestLogger.Errorf("Failed to recheck asset %s for parked jobs: %v\n", assetID, err)
			continue
		}

		switch found.Status {
		case asset.StatusReady:
			service.releaseParkedJobs(assetID, true)
		case asset.StatusFailed:
			service.releaseParkedJobs(assetID, false)
		}
	}
}

// releaseParkedJobs finishes the jobs parked against an asset once its
// ingestion reaches a terminal state.
func (service *ingestService) releaseParkedJobs(assetID uuid.UUID, ready bool) {
	service.Lock()
	waiting := service.parked[assetID]
	delete(service.parked, assetID)
	service.Unlock()

	if len(waiting) == 0 {
		return
	}

	found, err := service.assets.Get(service.db.GetSqlxDb(), assetID)
	if err != nil {
		ingestLogger.Errorf("Failed to load asset %s while releasing parked jobs: %v\n", assetID, err)
		found = nil
	}

	for _, jobID := range waiting {
		if ready && found != nil && found.Status == asset.StatusReady {
			if err := service.completeFromAsset(jobID, found); err != nil {
				ingestLogger.Errorf("Failed to complete parked job %s: %v\n", jobID, err)
			}
		} else {
			service.failJob(jobID, errors.New("ingestion of the shared source failed"))
		}
	}
}

// completeFromAsset finishes a job straight from a ready asset without
// running any external tools.
func (service *ingestService) completeFromAsset(jobID uuid.UUID, found *asset.VideoAsset) error {
	status := job.StatusCompleted
	progress := 100
	_, err := service.updateJob(jobID, job.Patch{
		Status:       &status,
		Progress:     &progress,
		MediaURL:     found.StorageURL,
		ThumbnailURL: found.ThumbnailURL,
		DurationSecs: found.DurationSecs,
		Width:        found.Width,
		Height:       found.Height,
		Title:        found.Title,
		Channel:      found.AuthorHandle,
	})
	return err
}

func (service *ingestService) transition(jobID uuid.UUID, status job.Status, progress int) (*job.Job, error) {
	return service.updateJob(jobID, job.Patch{Status: &status, Progress: &progress})
}

// updateJob applies the patch, dispatches the matching event and
// queues a callback with the jobs new state.
func (service *ingestService) updateJob(jobID uuid.UUID, patch job.Patch) (*job.Job, error) {
	var updated *job.Job
	err := service.db.WrapTx(func(tx *sqlx.Tx) error {
		var err error
		updated, err = service.jobs.Update(tx, jobID, patch)
		return err
	})
	if err != nil {
		return nil, err
	}

	if updated.Status.IsTerminal() {
		service.eventBus.Dispatch(event.JOB_COMPLETE, updated.ID)
	} else {
		service.eventBus.Dispatch(event.JOB_UPDATE, updated.ID)
	}
	service.notifier.Enqueue(payloadForJob(updated))

	return updated, nil
}

func (service *ingestService) failJob(jobID uuid.UUID, cause error) {
	status := job.StatusFailed
	message := cause.Error()
	if _, err := service.updateJob(jobID, job.Patch{Status: &status, Error: &message}); err != nil {
		ingestLogger.Errorf("Failed to mark job %s as failed: %v\n", jobID, err)
	}
}

func payloadForJob(j *job.Job) callback.Payload {
	return callback.Payload{
		JobID:        j.ID,
		Status:       string(j.Status),
		Progress:     j.Progress,
		Error:        j.Error,
		MediaURL:     j.MediaURL,
		ThumbnailURL: j.ThumbnailURL,
		DurationSecs: j.DurationSecs,
		Width:        j.Width,
		Height:       j.Height,
		Title:        j.Title,
		Channel:      j.Channel,
	}
}
