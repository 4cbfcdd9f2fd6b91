package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/entity"
)

type JobRepository interface {
	// CreateForApplication creates a new job row unless the application
	// already has a non-terminal one, in which case that job is returned
	// with created == false. Safe under concurrent callers.
	CreateForApplication(ctx context.Context, applicationID string) (job *entity.Job, created bool, err error)

	GetByID(ctx context.Context, jobID uuid.UUID) (*entity.Job, error)
	GetLatestByApplication(ctx context.Context, applicationID string) (*entity.Job, error)

	MarkStarted(ctx context.Context, jobID uuid.UUID) error
	UpdateStage(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, stage, message string) error
	MarkTerminal(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, stage, message, lastError string) error
	RecordError(ctx context.Context, jobID uuid.UUID, lastError, screenshotRef string) error
}

type jobRepo struct {
	db  *DB
	log *slog.Logger
}

func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	return &jobRepo{db: db, log: log}
}

const jobColumns = `id, application_id, status, current_stage, stage_message,
	retry_count, error_count, last_error, error_screenshots,
	created_at, started_at, completed_at`

var activeStatuses = `('completed', 'completed_partial', 'failed')`

func (r *jobRepo) CreateForApplication(ctx context.Context, applicationID string) (*entity.Job, bool, error) {
	if existing, err := r.getActiveByApplication(ctx, applicationID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	job := &entity.Job{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		Status:        constants.JobStatusPending,
		CurrentStage:  "created",
		StageMessage:  "Automation job created.",
		CreatedAt:     time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		r.db.rebind(`INSERT INTO automation_jobs (id, application_id, status, current_stage, stage_message, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		job.ID.String(), applicationID, string(job.Status), job.CurrentStage, job.StageMessage, job.CreatedAt)
	if err == nil {
		r.log.Info("automation job created", "job_id", job.ID, "application_id", applicationID)
		return job, true, nil
	}

	// The partial unique index rejects a second active job. Whoever won
	// the race owns the row; hand their job back instead of erroring.
	if existing, lookupErr := r.getActiveByApplication(ctx, applicationID); lookupErr == nil {
		return existing, false, nil
	}
	r.log.Error("automation job create failed", "application_id", applicationID, "error", err)
	return nil, false, common.WrapError(err, "create job")
}

func (r *jobRepo) getActiveByApplication(ctx context.Context, applicationID string) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+jobColumns+` FROM automation_jobs WHERE application_id = ? AND status NOT IN `+activeStatuses),
		applicationID)
	return scanJob(row)
}

func (r *jobRepo) GetByID(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+jobColumns+` FROM automation_jobs WHERE id = ?`), jobID.String())
	return scanJob(row)
}

func (r *jobRepo) GetLatestByApplication(ctx context.Context, applicationID string) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+jobColumns+` FROM automation_jobs WHERE application_id = ? ORDER BY created_at DESC LIMIT 1`),
		applicationID)
	return scanJob(row)
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var job entity.Job
	var id, status string
	var lastError, screenshots sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&id, &job.ApplicationID, &status, &job.CurrentStage, &job.StageMessage,
		&job.RetryCount, &job.ErrorCount, &lastError, &screenshots,
		&job.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "scan job")
	}

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, common.WrapError(err, "parse job id")
	}
	job.Status = constants.JobStatus(status)
	job.LastError = lastError.String
	if screenshots.Valid && screenshots.String != "" {
		if err := json.Unmarshal([]byte(screenshots.String), &job.Screenshots); err != nil {
			return nil, common.WrapError(err, "decode screenshots")
		}
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func (r *jobRepo) MarkStarted(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		r.db.rebind(`UPDATE automation_jobs SET status = ?, started_at = ? WHERE id = ?`),
		string(constants.JobStatusInitializing), time.Now().UTC(), jobID.String())
	if err != nil {
		r.log.Error("job start update failed", "job_id", jobID, "error", err)
		return common.WrapError(err, "mark job started")
	}
	return nil
}

// UpdateStage persists the stage transition. Terminal rows are never
// overwritten: a stale writer losing that race is a no-op.
func (r *jobRepo) UpdateStage(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, stage, message string) error {
	_, err := r.db.ExecContext(ctx,
		r.db.rebind(`UPDATE automation_jobs SET status = ?, current_stage = ?, stage_message = ? WHERE id = ? AND status NOT IN `+activeStatuses),
		string(status), stage, message, jobID.String())
	if err != nil {
		r.log.Error("job stage update failed", "job_id", jobID, "stage", stage, "error", err)
		return common.WrapError(err, "update job stage")
	}
	r.log.Debug("job stage updated", "job_id", jobID, "status", status, "stage", stage)
	return nil
}

func (r *jobRepo) MarkTerminal(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, stage, message, lastError string) error {
	if !status.Terminal() {
		return common.NewAppError("JOB_STATE", "MarkTerminal called with non-terminal status "+string(status), common.ErrInternal)
	}
	var lastErrVal any
	if lastError != "" {
		lastErrVal = lastError
	}
	_, err := r.db.ExecContext(ctx,
		r.db.rebind(`UPDATE automation_jobs SET status = ?, current_stage = ?, stage_message = ?, last_error = ?, completed_at = ? WHERE id = ? AND status NOT IN `+activeStatuses),
		string(status), stage, message, lastErrVal, time.Now().UTC(), jobID.String())
	if err != nil {
		r.log.Error("job terminal update failed", "job_id", jobID, "status", status, "error", err)
		return common.WrapError(err, "mark job terminal")
	}
	if status == constants.JobStatusFailed {
		r.log.Warn("automation job failed", "job_id", jobID, "error", lastError)
	} else {
		r.log.Info("automation job finished", "job_id", jobID, "status", status)
	}
	return nil
}

// RecordError bumps the error counter and appends a screenshot reference.
// Informational for a human operator, not a retry budget.
func (r *jobRepo) RecordError(ctx context.Context, jobID uuid.UUID, lastError, screenshotRef string) error {
	job, err := r.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	shots := job.Screenshots
	if screenshotRef != "" {
		shots = append(shots, screenshotRef)
	}
	encoded, err := json.Marshal(shots)
	if err != nil {
		return common.WrapError(err, "encode screenshots")
	}
	_, err = r.db.ExecContext(ctx,
		r.db.rebind(`UPDATE automation_jobs SET error_count = error_count + 1, last_error = ?, error_screenshots = ? WHERE id = ?`),
		lastError, string(encoded), jobID.String())
	if err != nil {
		r.log.Error("job error record failed", "job_id", jobID, "error", err)
		return common.WrapError(err, "record job error")
	}
	return nil
}
