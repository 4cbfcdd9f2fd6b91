// Package orchestrator is the public entry point of the automation core:
// it creates jobs, hands them to runners, routes out-of-band resume
// signals to suspended sessions, and projects status from the durable
// store. Status truth lives in the store; the registry only says where a
// live session is parked right now.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/entity"
	"github.com/testpulse/admitflow/internal/registry"
	"github.com/testpulse/admitflow/internal/repository"
	"github.com/testpulse/admitflow/internal/runner"
	"github.com/testpulse/admitflow/internal/session"
)

type Orchestrator struct {
	apps     repository.ApplicationRepository
	jobs     repository.JobRepository
	registry *registry.Registry
	factory  session.Factory
	queue    *startQueue

	stageTimeout   time.Duration
	timeouts       runner.Timeouts
	reaperInterval time.Duration
	logger         *slog.Logger
}

func New(
	apps repository.ApplicationRepository,
	jobs repository.JobRepository,
	reg *registry.Registry,
	factory session.Factory,
	cfg common.AutomationConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		apps:     apps,
		jobs:     jobs,
		registry: reg,
		factory:  factory,
		queue: newStartQueue(logger,
			withWorkers(cfg.Workers),
			withQueueSize(cfg.QueueSize),
		),
		stageTimeout: cfg.StageTimeout,
		timeouts: runner.Timeouts{
			OTP:     cfg.OTPTimeout,
			Captcha: cfg.CaptchaTimeout,
			Payment: cfg.PaymentTimeout,
		},
		reaperInterval: cfg.ReaperInterval,
		logger:         logger,
	}
}

// StartAutomation allocates a job for the application and schedules a
// runner. Idempotent: when a non-terminal job already exists, that job is
// returned with created == false and nothing is scheduled.
func (o *Orchestrator) StartAutomation(ctx context.Context, applicationID string) (*entity.Job, bool, error) {
	app, err := o.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, false, err
	}

	job, created, err := o.jobs.CreateForApplication(ctx, app.ID)
	if err != nil {
		return nil, false, err
	}
	if !created {
		o.logger.Info("automation already in progress", "application_id", applicationID, "job_id", job.ID)
		return job, false, nil
	}

	r := runner.New(job, app, o.factory, o.jobs, o.apps, o.registry,
		o.stageTimeout, o.timeouts, o.logger)
	o.queue.Enqueue(startJob{JobID: job.ID, Runner: r})
	o.logger.Info("automation scheduled", "application_id", applicationID, "job_id", job.ID)
	return job, true, nil
}

// SubmitResume delivers human-supplied input to a suspended job. The
// persisted status must match the input kind; a mismatch rejects the call
// without touching anything. The registry entry is consumed exactly once,
// so a second resume for the same suspension observes JobNotFound.
func (o *Orchestrator) SubmitResume(ctx context.Context, jobID uuid.UUID, kind constants.SuspensionKind, payload string) error {
	if !kind.Valid() {
		return common.NewAppError("VALIDATION_ERROR", "unknown resume input kind "+string(kind), common.ErrValidation)
	}

	job, err := o.jobs.GetByID(ctx, jobID)
	if errors.Is(err, common.ErrNotFound) {
		return common.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if job.Status != kind.Status() {
		o.logger.Warn("resume rejected: state mismatch",
			"job_id", jobID, "kind", kind, "status", job.Status)
		return common.ErrInvalidResumeState
	}

	entry := o.registry.Take(jobID)
	if entry == nil {
		// Never suspended in this process, already resumed, or orphaned
		// by a restart. The durable status alone cannot tell these apart,
		// and none of them has a live session to feed.
		o.logger.Warn("resume rejected: no live session", "job_id", jobID, "kind", kind)
		return common.ErrJobNotFound
	}
	if entry.Kind != kind {
		o.registry.Put(entry)
		return common.ErrInvalidResumeState
	}

	o.logger.Info("resume accepted", "job_id", jobID, "kind", kind)
	go entry.Resume(context.WithoutCancel(ctx), payload)
	return nil
}

// ResumePayment resumes the payment suspension of the application's
// latest job. Used by the gateway callback, which knows the application
// but not the job.
func (o *Orchestrator) ResumePayment(ctx context.Context, applicationID, reference string) error {
	job, err := o.jobs.GetLatestByApplication(ctx, applicationID)
	if errors.Is(err, common.ErrNotFound) {
		return common.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return o.SubmitResume(ctx, job.ID, constants.SuspendPayment, reference)
}

// StatusView is the read-only projection served to status polls. Built
// purely from the durable store so polling works across restarts.
type StatusView struct {
	ApplicationID string              `json:"application_id"`
	JobID         string              `json:"job_id,omitempty"`
	JobStatus     constants.JobStatus `json:"job_status"`
	CurrentStage  string              `json:"current_stage"`
	StageMessage  string              `json:"stage_message"`
	NextStep      string              `json:"next_step,omitempty"`
	SMSCode       string              `json:"sms_code,omitempty"`
	Documents     map[string]string   `json:"documents,omitempty"`
}

// StatusByApplication projects the latest job for the application.
func (o *Orchestrator) StatusByApplication(ctx context.Context, applicationID string) (*StatusView, error) {
	app, err := o.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		ApplicationID: app.ID,
		JobStatus:     constants.JobStatusPending,
		CurrentStage:  "created",
		StageMessage:  "Application created. Ready to start automation.",
		SMSCode:       app.SMSCode,
	}

	job, err := o.jobs.GetLatestByApplication(ctx, applicationID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if job != nil {
		view.JobID = job.ID.String()
		view.JobStatus = job.Status
		view.CurrentStage = job.CurrentStage
		view.StageMessage = job.StageMessage
	}
	view.NextStep = nextStepHint(view.JobStatus)

	if app.ReceiptPath != "" || app.AdmitCardPath != "" {
		view.Documents = map[string]string{}
		if app.ReceiptPath != "" {
			view.Documents["receipt"] = app.ReceiptPath
		}
		if app.AdmitCardPath != "" {
			view.Documents["admit_card"] = app.AdmitCardPath
		}
	}
	return view, nil
}

// StatusByJob projects a single job row.
func (o *Orchestrator) StatusByJob(ctx context.Context, jobID uuid.UUID) (*StatusView, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ApplicationID: job.ApplicationID,
		JobID:         job.ID.String(),
		JobStatus:     job.Status,
		CurrentStage:  job.CurrentStage,
		StageMessage:  job.StageMessage,
		NextStep:      nextStepHint(job.Status),
	}, nil
}

func nextStepHint(status constants.JobStatus) string {
	switch status {
	case constants.JobStatusOTPRequired:
		return "Enter the OTP sent to your mobile number."
	case constants.JobStatusCaptchaRequired:
		return "Solve the CAPTCHA shown on the admission page."
	case constants.JobStatusPaymentPending:
		return "Complete the payment to continue."
	case constants.JobStatusCompleted, constants.JobStatusCompletedPartial:
		return "Application completed."
	case constants.JobStatusFailed:
		return "Automation failed. Review the error and start again."
	}
	return ""
}

// RunReaper sweeps expired suspensions until ctx is canceled. Each expired
// entry is failed and its session closed; a job parked forever would leak
// a browser.
func (o *Orchestrator) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(o.reaperInterval)
	defer ticker.Stop()
	o.logger.Info("reaper started", "interval", o.reaperInterval)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("reaper stopped")
			return
		case now := <-ticker.C:
			for _, entry := range o.registry.Sweep(now) {
				o.logger.Warn("reaping stale suspension",
					"job_id", entry.JobID, "kind", entry.Kind, "expired_at", entry.ExpiresAt)
				entry.Expire(context.WithoutCancel(ctx))
			}
		}
	}
}

// Shutdown drains the start queue. Suspended sessions are left for the
// process exit to tear down; they cannot survive it anyway.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.queue.Shutdown(ctx)
}
