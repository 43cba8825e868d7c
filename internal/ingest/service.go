package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/asset"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/callback"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/event"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/job"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/tool"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/worker"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ingestLogger = logger.Get("IngestServ")

	ErrUnsupportedType   = errors.New("media type is not ingestable")
	ErrInvalidTrimWindow = errors.New("trim end must be greater than trim start")
)

type (
	// JobStore persists ingest jobs. Claiming and updating run inside a
	// transaction so milestone ordering is enforced at the row level.
	JobStore interface {
		Create(db database.Queryable, newJob *job.Job) error
		Get(db database.Queryable, id uuid.UUID) (*job.Job, error)
		List(db database.Queryable) ([]*job.Job, error)
		ClaimNextQueued(tx *sqlx.Tx) (*job.Job, error)
		Update(tx *sqlx.Tx, id uuid.UUID, patch job.Patch) (*job.Job, error)
	}

	// AssetStore is the deduplication registry the pipeline records
	// canonical media against.
	AssetStore interface {
		FindOrCreate(db database.Queryable, normalized asset.NormalizedURL, rawURL string) (*asset.VideoAsset, bool, error)
		Get(db database.Queryable, id uuid.UUID) (*asset.VideoAsset, error)
		AttachUserVideo(tx *sqlx.Tx, userID string, assetID uuid.UUID) (*asset.UserVideo, error)
		ClaimIngestion(db database.Queryable, assetID uuid.UUID, jobID uuid.UUID) (bool, error)
		MarkReady(db database.Queryable, id uuid.UUID, details asset.ReadyDetails) error
		MarkFailed(db database.Queryable, id uuid.UUID) error
	}

	MediaStorage interface {
		Publish(ctx context.Context, localPath string, key string) (string, error)
	}

	ToolRunner interface {
		Download(ctx context.Context, sourceURL string, scratchDir string) (string, error)
		Metadata(ctx context.Context, sourceURL string) (*tool.Metadata, error)
		Trim(ctx context.Context, inputPath string, outputPath string, startSecs float64, endSecs float64) error
		Thumbnail(ctx context.Context, inputPath string, outputPath string) error
	}

	Notifier interface {
		Enqueue(payload callback.Payload)
	}

	// IngestRequest is an accepted submission for canonical media
	// ingestion. ID is honoured when the caller supplies one so the
	// upstream application can correlate jobs it created itself.
	IngestRequest struct {
		ID     *uuid.UUID
		URL    string
		Type   string
		UserID *string
		PostID *string
	}

	// TrimRequest cuts a window out of a source without touching the
	// deduplication registry.
	TrimRequest struct {
		ID        *uuid.UUID
		SourceURL string
		StartSecs float64
		EndSecs   float64
		UserID    *string
		PostID    *string
	}

	Service interface {
		Run(ctx context.Context) error
		SubmitIngest(request IngestRequest) (*job.Job, error)
		SubmitTrim(request TrimRequest) (*job.Job, error)
		Job(id uuid.UUID) (*job.Job, error)
		AllJobs() ([]*job.Job, error)
	}

	ingestService struct {
		*sync.Mutex
		db         database.Manager
		jobs       JobStore
		assets     AssetStore
		storage    MediaStorage
		runner     ToolRunner
		notifier   Notifier
		eventBus   event.EventCoordinator
		config     Config
		workerPool *worker.WorkerPool

		// parked holds, per asset, the jobs waiting on the ingestion
		// owned by another job (possibly in another process) to finish.
		parked map[uuid.UUID][]uuid.UUID
		runCtx context.Context
	}
)

// New creates the ingest service and populates its worker pool. The
// pool is started when Run is called.
func New(config Config, db database.Manager, jobs JobStore, assets AssetStore, storage MediaStorage, runner ToolRunner, notifier Notifier, eventBus event.EventCoordinator) Service {
	service := &ingestService{
		Mutex:      &sync.Mutex{},
		db:         db,
		jobs:       jobs,
		assets:     assets,
		storage:    storage,
		runner:     runner,
		notifier:   notifier,
		eventBus:   eventBus,
		config:     config,
		workerPool: worker.NewWorkerPool(),
		parked:     make(map[uuid.UUID][]uuid.UUID),
		runCtx:     context.Background(),
	}

	for i := 0; i < config.IngestionParallelism; i++ {
		label := fmt.Sprintf("ingest-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, worker.TaskFunc(service.performJobIngest)))
	}

	return service
}

// Run starts the worker pool and blocks until the context is
// cancelled. Workers are woken on every submission, on a fixed poll
// tick (so jobs queued before a restart are picked up), and whenever
// an asset reaches a terminal state so parked jobs can be released.
// The poll tick also rechecks parked jobs directly against the
// registry, which releases them when the owning ingestion ran in a
// different process and no terminal event reached this one.
func (service *ingestService) Run(ctx context.Context) error {
	service.runCtx = ctx

	assetEvents := make(event.HandlerChannel, 10)
	service.eventBus.RegisterHandlerChannel(assetEvents, event.ASSET_READY, event.ASSET_FAILED)

	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start ingest worker pool: %w", err)
	}
	defer service.workerPool.Close()

	pollFrequency := time.Duration(service.config.PollFrequencySecs) * time.Second
	ticker := time.NewTicker(pollFrequency)
	defer ticker.Stop()

	service.wakeupWorkerPool()
	for {
		select {
		case <-ticker.C:
			service.recheckParkedJobs()
			service.cleanupScratch()
			service.wakeupWorkerPool()
		case message := <-assetEvents:
			assetID, ok := message.Payload.(uuid.UUID)
			if !ok {
				ingestLogger.Errorf("Ignoring %s event with unexpected payload %v\n", message.Event, message.Payload)
				continue
			}

			service.releaseParkedJobs(assetID, message.Event == event.ASSET_READY)
		case <-ctx.Done():
			ingestLogger.Infof("Ingest service shutting down\n")
			return nil
		}
	}
}

// SubmitIngest accepts a new ingestion. The asset row and, when a user
// is attached, the user video link are created up-front in the same
// transaction as the job so a crash can never orphan one of the three.
func (service *ingestService) SubmitIngest(request IngestRequest) (*job.Job, error) {
	if !job.IsIngestableType(request.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, request.Type)
	}

	normalized := asset.NormalizeURL(request.URL)
	newJob := &job.Job{
		SourceURL: request.URL,
		Platform:  job.Platform(request.Type),
		Operation: job.OperationIngest,
		UserID:    request.UserID,
		PostID:    request.PostID,
	}
	if request.ID != nil {
		newJob.ID = *request.ID
	}

	err := service.db.WrapTx(func(tx *sqlx.Tx) error {
		found, _, err := service.assets.FindOrCreate(tx, normalized, request.URL)
		if err != nil {
			return err
		}

		if request.UserID != nil {
			if _, err := service.assets.AttachUserVideo(tx, *request.UserID, found.ID); err != nil {
				return err
			}
		}

		return service.jobs.Create(tx, newJob)
	})
	if err != nil {
		return nil, err
	}

	ingestLogger.Infof("Accepted ingest job %s for %s source %s\n", newJob.ID, newJob.Platform, newJob.SourceURL)
	service.wakeupWorkerPool()
	return newJob, nil
}

// SubmitTrim accepts a trim job. Inverted or empty windows are
// rejected outright rather than silently corrected.
func (service *ingestService) SubmitTrim(request TrimRequest) (*job.Job, error) {
	if request.EndSecs <= request.StartSecs {
		return nil, fmt.Errorf("%w: [%v, %v]", ErrInvalidTrimWindow, request.StartSecs, request.EndSecs)
	}

	normalized := asset.NormalizeURL(request.SourceURL)
	newJob := &job.Job{
		SourceURL:     request.SourceURL,
		Platform:      job.Platform(normalized.Platform),
		Operation:     job.OperationTrim,
		UserID:        request.UserID,
		PostID:        request.PostID,
		TrimStartSecs: &request.StartSecs,
		TrimEndSecs:   &request.EndSecs,
	}
	if request.ID != nil {
		newJob.ID = *request.ID
	}

	if err := service.jobs.Create(service.db.GetSqlxDb(), newJob); err != nil {
		return nil, err
	}

	ingestLogger.Infof("Accepted trim job %s for source %s\n", newJob.ID, newJob.SourceURL)
	service.wakeupWorkerPool()
	return newJob, nil
}

func (service *ingestService) Job(id uuid.UUID) (*job.Job, error) {
	return service.jobs.Get(service.db.GetSqlxDb(), id)
}

func (service *ingestService) AllJobs() ([]*job.Job, error) {
	return service.jobs.List(service.db.GetSqlxDb())
}

// performJobIngest is the task each pool worker runs. Workers drain
// the queue and go back to sleep until woken; a false return from
// Sleep means the pool is closing.
func (service *ingestService) performJobIngest(w worker.Worker) error {
	for {
		for {
			claimed, err := service.claimNextJob()
			if err != nil {
				ingestLogger.Errorf("Worker %s failed to claim next job: %v\n", w.Label(), err)
				break
			}
			if claimed == nil {
				break
			}

			service.processJob(service.runCtx, claimed)
		}

		if !w.Sleep() {
			return nil
		}
	}
}

// claimNextJob atomically claims the oldest queued job, moving it to
// 'downloading'. A nil job (and nil error) means the queue is empty.
func (service *ingestService) claimNextJob() (*job.Job, error) {
	var claimed *job.Job
	err := service.db.WrapTx(func(tx *sqlx.Tx) error {
		var err error
		claimed, err = service.jobs.ClaimNextQueued(tx)
		return err
	})
	if errors.Is(err, job.ErrNoJobAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (service *ingestService) wakeupWorkerPool() {
	if err := service.workerPool.WakeupWorkers(); err != nil {
		ingestLogger.Debugf("Failed to wakeup workers: %v\n", err)
	}
}
