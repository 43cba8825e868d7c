package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/asset"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/event"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/job"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/tool"
	"github.com/ddoubleg123/carrot-worker-sub002/tests/helpers"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// liveDatabaseManager adapts an already-open test database to the
// database.Manager interface the service expects.
type liveDatabaseManager struct{ db *sqlx.DB }

func (m *liveDatabaseManager) Connect(config database.DatabaseConfig) error { return nil }
func (m *liveDatabaseManager) GetSqlxDb() *sqlx.DB                          { return m.db }
func (m *liveDatabaseManager) WrapTx(f func(*sqlx.Tx) error) error          { return database.WrapTx(m.db, f) }

type liveWorker struct {
	service  *ingestService
	runner   *mockRunner
	storage  *mockStorage
	notifier *mockNotifier
}

func newLiveWorker(t *testing.T, db *sqlx.DB) *liveWorker {
	runner := &mockRunner{}
	storage := &mockStorage{}
	notifier := &mockNotifier{}

	config := Config{IngestPath: t.TempDir(), IngestionParallelism: 1, PollFrequencySecs: 60, ScratchRetentionSecs: 3600}
	service := New(config, &liveDatabaseManager{db}, job.NewStore(), asset.NewStore(), storage, runner, notifier, event.New()).(*ingestService)

	return &liveWorker{service, runner, storage, notifier}
}

// Two workers sharing a database race on the same source. The asset
// claim must hand the download to exactly one of them; the other parks
// and is completed from the registry once the owning ingestion lands.
// Each worker has its own event bus here, as separate processes would,
// so the parked job can only be released by the periodic recheck.
func Test_IngestPipeline_SingleDownloadAcrossWorkers(t *testing.T) {
	db := helpers.ProvisionTestDatabase(t)
	sourceURL := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

	workerA := newLiveWorker(t, db)
	workerB := newLiveWorker(t, db)

	jobA, err := workerA.service.SubmitIngest(IngestRequest{URL: sourceURL, Type: "youtube"})
	require.Nil(t, err)
	jobB, err := workerB.service.SubmitIngest(IngestRequest{URL: sourceURL, Type: "youtube"})
	require.Nil(t, err)

	claimedA, err := workerA.service.claimNextJob()
	require.Nil(t, err)
	require.Equal(t, jobA.ID, claimedA.ID)
	claimedB, err := workerB.service.claimNextJob()
	require.Nil(t, err)
	require.Equal(t, jobB.ID, claimedB.ID)

	// Worker A wins the download and holds it until released, leaving a
	// wide-open window for worker B to attempt the same source.
	downloadStarted := make(chan struct{})
	releaseDownload := make(chan struct{})
	workerA.runner.On("Metadata", mock.Anything, sourceURL).Return(&tool.Metadata{Title: "Never Gonna Give You Up"}, nil)
	workerA.runner.On("Download", mock.Anything, sourceURL, mock.Anything).
		Run(func(args mock.Arguments) {
			close(downloadStarted)
			<-releaseDownload
		}).
		Return("/scratch/video.mp4", nil)
	workerA.runner.On("Thumbnail", mock.Anything, "/scratch/video.mp4", mock.Anything).Return(nil)
	workerA.storage.On("Publish", mock.Anything, "/scratch/video.mp4", mock.Anything).Return("https://cdn/video.mp4", nil)
	workerA.storage.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("https://cdn/thumb.jpg", nil)

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		workerA.service.processJob(context.Background(), claimedA)
	}()

	select {
	case <-downloadStarted:
	case <-time.After(time.Second * 10):
		t.Fatal("worker A never started its download")
	}

	// B runs its pipeline while A is mid-download. It must not reach
	// for its own tools; the claim on the asset row belongs to A.
	workerB.service.processJob(context.Background(), claimedB)
	workerB.runner.AssertNotCalled(t, "Metadata", mock.Anything, mock.Anything)
	workerB.runner.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, workerB.service.parked, 1)

	close(releaseDownload)
	select {
	case <-ingestDone:
	case <-time.After(time.Second * 10):
		t.Fatal("worker A never finished its ingestion")
	}

	finishedA, err := workerA.service.Job(jobA.ID)
	require.Nil(t, err)
	assert.Equal(t, job.StatusCompleted, finishedA.Status)

	// B only learns of the finished ingestion from the registry itself
	workerB.service.recheckParkedJobs()

	finishedB, err := workerB.service.Job(jobB.ID)
	require.Nil(t, err)
	assert.Equal(t, job.StatusCompleted, finishedB.Status)
	if assert.NotNil(t, finishedB.MediaURL) {
		assert.Equal(t, "https://cdn/video.mp4", *finishedB.MediaURL)
	}
	assert.Empty(t, workerB.service.parked)

	workerA.runner.AssertNumberOfCalls(t, "Download", 1)
	workerB.runner.AssertNumberOfCalls(t, "Download", 0)
}

// A worker crash mid-ingestion must not wedge the source forever: the
// failure path releases the claim so a later job can take it over.
func Test_IngestPipeline_FailedIngestReleasesClaim(t *testing.T) {
	db := helpers.ProvisionTestDatabase(t)
	sourceURL := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

	workerA := newLiveWorker(t, db)
	workerA.runner.On("Metadata", mock.Anything, sourceURL).Return(&tool.Metadata{}, nil)
	workerA.runner.On("Download", mock.Anything, sourceURL, mock.Anything).Return("", errors.New("fragment 3 not found"))

	jobA, err := workerA.service.SubmitIngest(IngestRequest{URL: sourceURL, Type: "youtube"})
	require.Nil(t, err)
	claimedA, err := workerA.service.claimNextJob()
	require.Nil(t, err)
	workerA.service.processJob(context.Background(), claimedA)

	failedA, err := workerA.service.Job(jobA.ID)
	require.Nil(t, err)
	require.Equal(t, job.StatusFailed, failedA.Status)

	// A fresh worker retries the same source and the claim is free again
	workerB := newLiveWorker(t, db)
	workerB.runner.On("Metadata", mock.Anything, sourceURL).Return(&tool.Metadata{}, nil)
	workerB.runner.On("Download", mock.Anything, sourceURL, mock.Anything).Return("/scratch/video.mp4", nil)
	workerB.runner.On("Thumbnail", mock.Anything, "/scratch/video.mp4", mock.Anything).Return(nil)
	workerB.storage.On("Publish", mock.Anything, "/scratch/video.mp4", mock.Anything).Return("https://cdn/video.mp4", nil)
	workerB.storage.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("https://cdn/thumb.jpg", nil)

	jobB, err := workerB.service.SubmitIngest(IngestRequest{URL: sourceURL, Type: "youtube"})
	require.Nil(t, err)
	claimedB, err := workerB.service.claimNextJob()
	require.Nil(t, err)
	workerB.service.processJob(context.Background(), claimedB)

	finishedB, err := workerB.service.Job(jobB.ID)
	require.Nil(t, err)
	assert.Equal(t, job.StatusCompleted, finishedB.Status)
	workerB.runner.AssertNumberOfCalls(t, "Download", 1)
}
