package job

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrJobNotFound       = errors.New("ingest job does not exist")
	ErrIllegalTransition = errors.New("illegal job status transition")
	ErrNoJobAvailable    = errors.New("no queued job available")
)

type Store struct{}

func NewStore() *Store { return &Store{} }

func (store *Store) Create(db database.Queryable, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := db.Exec(`
		INSERT INTO ingest_jobs(id, source_url, platform, operation, user_id, post_id, status, progress, trim_start_secs, trim_end_secs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, job.ID, job.SourceURL, job.Platform, job.Operation, job.UserID, job.PostID, job.Status, job.Progress, job.TrimStartSecs, job.TrimEndSecs, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert new ingest job: %w", err)
	}

	return nil
}

func (store *Store) Get(db database.Queryable, id uuid.UUID) (*Job, error) {
	query, args, err := selectJobBuilder().Where("ingest_jobs.id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select job query: %w", err)
	}

	var job Job
	if err := db.Get(&job, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}

		return nil, err
	}

	return &job, nil
}

func (store *Store) List(db database.Queryable) ([]*Job, error) {
	query, args, err := selectJobBuilder().OrderBy("ingest_jobs.created_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list jobs query: %w", err)
	}

	var results []*Job
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return results, nil
}

// ClaimNextQueued locks and returns the oldest queued job, moving it to
// 'downloading' so no other worker can claim it. Must be called inside a
// transaction; ErrNoJobAvailable indicates an empty queue.
func (store *Store) ClaimNextQueued(tx *sqlx.Tx) (*Job, error) {
	var job Job
	err := tx.Get(&job, `
		SELECT * FROM ingest_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, StatusQueued)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoJobAvailable
		}

		return nil, err
	}

	status := StatusDownloading
	progress := 10
	return store.update(tx, &job, Patch{Status: &status, Progress: &progress})
}

// Update applies a partial patch to the job inside a row-locking
// transaction. Terminal jobs are immutable, the status rank must never
// decrease, and progress must never decrease while the job is live.
func (store *Store) Update(tx *sqlx.Tx, id uuid.UUID, patch Patch) (*Job, error) {
	var job Job
	if err := tx.Get(&job, `SELECT * FROM ingest_jobs WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}

		return nil, err
	}

	return store.update(tx, &job, patch)
}

func (store *Store) update(tx *sqlx.Tx, job *Job, patch Patch) (*Job, error) {
	if patch.Status != nil {
		if !CanTransition(job.Status, *patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, *patch.Status)
		}

		job.Status = *patch.Status
	}

	if patch.Progress != nil {
		if *patch.Progress < job.Progress && !job.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: progress %d -> %d", ErrIllegalTransition, job.Progress, *patch.Progress)
		}

		job.Progress = *patch.Progress
	}

	applyString := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	applyString(&job.Error, patch.Error)
	applyString(&job.MediaURL, patch.MediaURL)
	applyString(&job.ThumbnailURL, patch.ThumbnailURL)
	applyString(&job.EncoderID, patch.EncoderID)
	applyString(&job.EncoderStatus, patch.EncoderStatus)
	applyString(&job.Title, patch.Title)
	applyString(&job.Channel, patch.Channel)
	if patch.DurationSecs != nil {
		job.DurationSecs = patch.DurationSecs
	}
	if patch.Width != nil {
		job.Width = patch.Width
	}
	if patch.Height != nil {
		job.Height = patch.Height
	}

	job.UpdatedAt = time.Now()

	_, err := tx.Exec(`
		UPDATE ingest_jobs
		SET status=$1, progress=$2, error=$3, media_url=$4, thumbnail_url=$5,
		    encoder_id=$6, encoder_status=$7, duration_secs=$8, width=$9, height=$10,
		    title=$11, channel=$12, updated_at=$13
		WHERE id=$14
	`, job.Status, job.Progress, job.Error, job.MediaURL, job.ThumbnailURL,
		job.EncoderID, job.EncoderStatus, job.DurationSecs, job.Width, job.Height,
		job.Title, job.Channel, job.UpdatedAt, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update ingest job %s: %w", job.ID, err)
	}

	return job, nil
}

func selectJobBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("ingest_jobs.*").
		From("ingest_jobs")
}
