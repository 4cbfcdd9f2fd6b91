// Package runner drives one automation job through its stage pipeline. A
// runner owns the job's goroutine, its live session, and the job row: no
// one else writes that row while the runner is alive. Suspension points
// hand the session to the registry and return; a later resume signal picks
// the pipeline back up on a fresh goroutine.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/entity"
	"github.com/testpulse/admitflow/internal/log"
	"github.com/testpulse/admitflow/internal/pipeline"
	"github.com/testpulse/admitflow/internal/registry"
	"github.com/testpulse/admitflow/internal/repository"
	"github.com/testpulse/admitflow/internal/session"
)

// Timeouts bounds how long each suspension kind may stay parked before the
// reaper fails the job and releases the browser.
type Timeouts struct {
	OTP     time.Duration
	Captcha time.Duration
	Payment time.Duration
}

func (t Timeouts) For(kind constants.SuspensionKind) time.Duration {
	switch kind {
	case constants.SuspendOTP:
		return t.OTP
	case constants.SuspendCaptcha:
		return t.Captcha
	case constants.SuspendPayment:
		return t.Payment
	}
	return time.Minute
}

type Runner struct {
	job     *entity.Job
	app     *entity.Application
	pipe    pipeline.Pipeline
	factory session.Factory

	jobs     repository.JobRepository
	registry *registry.Registry
	env      *pipeline.Env

	stageTimeout time.Duration
	timeouts     Timeouts
	logger       *slog.Logger

	// partial flips when an optional stage fails; the terminal status
	// degrades to completed_partial. Only the goroutine currently driving
	// the pipeline touches it (suspend/resume is a sequential handoff).
	partial bool
}

func New(
	job *entity.Job,
	app *entity.Application,
	factory session.Factory,
	jobs repository.JobRepository,
	apps pipeline.ApplicationWriter,
	reg *registry.Registry,
	stageTimeout time.Duration,
	timeouts Timeouts,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		job:          job,
		app:          app,
		pipe:         pipeline.Build(app),
		factory:      factory,
		jobs:         jobs,
		registry:     reg,
		env:          &pipeline.Env{App: app, Apps: apps, Logger: logger},
		stageTimeout: stageTimeout,
		timeouts:     timeouts,
		logger:       logger,
	}
}

// Start opens the session and walks the pipeline until it completes,
// fails, or parks at a suspension point. Blocking; run it on the job's
// own goroutine.
func (r *Runner) Start(ctx context.Context) {
	ctx = r.logCtx(ctx)
	if err := r.jobs.MarkStarted(ctx, r.job.ID); err != nil {
		r.logger.ErrorContext(ctx, "runner.start.persist_failed", "error", err)
		return
	}
	r.logger.InfoContext(ctx, "runner.started", "flow", r.pipe.Flow)

	sess, err := r.factory(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "runner.session.open_failed", "error", err)
		_ = r.jobs.MarkTerminal(ctx, r.job.ID, constants.JobStatusFailed,
			"initialization", "Automation failed: could not open a browser session.", err.Error())
		return
	}
	r.env.Session = sess

	r.runFrom(ctx, 0)
}

// logCtx tags the context so every record emitted under it carries the job
// and application ids, whichever goroutine ends up driving the pipeline.
func (r *Runner) logCtx(ctx context.Context) context.Context {
	return log.ContextAttrs(ctx,
		slog.String("job_id", r.job.ID.String()),
		slog.String("application_id", r.app.ID))
}

// runFrom executes stages in order starting at idx. Each stage transition
// is persisted before the stage body runs, so a concurrent status read
// sees true progress or a strictly earlier state, never a future one.
func (r *Runner) runFrom(ctx context.Context, idx int) {
	for i := idx; i < len(r.pipe.Stages); i++ {
		st := r.pipe.Stages[i]
		if err := r.jobs.UpdateStage(ctx, r.job.ID, st.Status, st.Name, st.Message); err != nil {
			r.fail(ctx, st.Name, "persisting stage transition: "+err.Error())
			return
		}

		out := r.runStage(ctx, st)
		switch out.Kind {
		case pipeline.OutcomeSuspended:
			r.suspend(ctx, i, st, out)
			return

		case pipeline.OutcomeFailed:
			if st.Optional {
				r.partial = true
				r.logger.WarnContext(ctx, "runner.stage.optional_failed", "stage", st.Name, "reason", out.Reason)
				if err := r.jobs.RecordError(ctx, r.job.ID, out.Reason, ""); err != nil {
					r.logger.ErrorContext(ctx, "runner.stage.record_error_failed", "error", err)
				}
				continue
			}
			r.fail(ctx, st.Name, out.Reason)
			return
		}
	}
	r.complete(ctx)
}

func (r *Runner) runStage(ctx context.Context, st pipeline.Stage) pipeline.Outcome {
	stageCtx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	defer cancel()
	return st.Run(stageCtx, r.env)
}

// suspend persists the waiting status, then parks the live session in the
// registry. Persist-then-register means a status poll reflects the
// suspension before any resume signal can possibly land.
func (r *Runner) suspend(ctx context.Context, idx int, st pipeline.Stage, out pipeline.Outcome) {
	kind := out.Suspend
	if err := r.jobs.UpdateStage(ctx, r.job.ID, kind.Status(), st.Name, out.Reason); err != nil {
		r.fail(ctx, st.Name, "persisting suspension: "+err.Error())
		return
	}

	entry := &registry.Entry{
		JobID:         r.job.ID,
		ApplicationID: r.app.ID,
		Kind:          kind,
		ExpiresAt:     time.Now().Add(r.timeouts.For(kind)),
		Resume: func(resumeCtx context.Context, input string) {
			r.resumeAt(resumeCtx, idx, input)
		},
		Expire: func(expireCtx context.Context) {
			r.expire(expireCtx, st.Name, kind)
		},
	}
	if !r.registry.Put(entry) {
		// One live session per job, always. A duplicate entry means the
		// invariant broke upstream; fail loudly instead of leaking.
		r.fail(ctx, st.Name, "duplicate live session entry for job")
		return
	}
	r.logger.InfoContext(ctx, "runner.suspended", "stage", st.Name, "kind", kind,
		"expires_at", entry.ExpiresAt)
}

// resumeAt re-enters the pipeline at the suspended stage, feeding it the
// human-supplied input, then continues with the following stages.
func (r *Runner) resumeAt(ctx context.Context, idx int, input string) {
	ctx = r.logCtx(ctx)
	st := r.pipe.Stages[idx]
	r.logger.InfoContext(ctx, "runner.resumed", "stage", st.Name)

	if err := r.jobs.UpdateStage(ctx, r.job.ID, constants.JobStatusRunning, st.Name, st.ResumeMessage); err != nil {
		r.fail(ctx, st.Name, "persisting resume transition: "+err.Error())
		return
	}

	stageCtx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	out := st.Resume(stageCtx, r.env, input)
	cancel()

	if out.Kind != pipeline.OutcomeCompleted {
		r.fail(ctx, st.Name, out.Reason)
		return
	}
	r.runFrom(ctx, idx+1)
}

// expire is invoked by the reaper after the registry entry was swept.
func (r *Runner) expire(ctx context.Context, stage string, kind constants.SuspensionKind) {
	ctx = r.logCtx(ctx)
	msg := "Timed out waiting for " + string(kind) + " input."
	r.logger.WarnContext(ctx, "runner.suspension.expired", "stage", stage, "kind", kind)
	if err := r.jobs.MarkTerminal(ctx, r.job.ID, constants.JobStatusFailed, stage, msg, msg); err != nil {
		r.logger.ErrorContext(ctx, "runner.expire.persist_failed", "error", err)
	}
	r.closeSession(ctx)
}

func (r *Runner) fail(ctx context.Context, stage, reason string) {
	r.logger.ErrorContext(ctx, "runner.stage.failed", "stage", stage, "reason", reason)

	screenshot := ""
	if r.env.Session != nil {
		if ref, err := r.env.Session.CaptureDiagnostic(ctx); err == nil {
			screenshot = ref
		} else {
			r.logger.WarnContext(ctx, "runner.diagnostic.capture_failed", "error", err)
		}
	}
	if err := r.jobs.RecordError(ctx, r.job.ID, reason, screenshot); err != nil {
		r.logger.ErrorContext(ctx, "runner.record_error_failed", "error", err)
	}
	if err := r.jobs.MarkTerminal(ctx, r.job.ID, constants.JobStatusFailed, stage,
		"Automation failed: "+reason, reason); err != nil {
		r.logger.ErrorContext(ctx, "runner.fail.persist_failed", "error", err)
	}
	r.release(ctx)
}

func (r *Runner) complete(ctx context.Context) {
	status := constants.JobStatusCompleted
	message := "Application completed successfully! Documents downloaded."
	if r.partial {
		status = constants.JobStatusCompletedPartial
		message = "Application completed, but a non-critical step failed. See the error log."
	}
	if err := r.jobs.MarkTerminal(ctx, r.job.ID, status, "completed", message, ""); err != nil {
		r.logger.ErrorContext(ctx, "runner.complete.persist_failed", "error", err)
	}
	r.logger.InfoContext(ctx, "runner.completed", "status", status)
	r.release(ctx)
}

// release closes the session and clears any registry entry. Used by every
// terminal path except expiry, where the reaper already holds the entry.
func (r *Runner) release(ctx context.Context) {
	r.registry.Remove(r.job.ID)
	r.closeSession(ctx)
}

func (r *Runner) closeSession(ctx context.Context) {
	if r.env.Session == nil {
		return
	}
	if err := r.env.Session.Close(ctx); err != nil {
		r.logger.WarnContext(ctx, "runner.session.close_failed", "error", err)
	}
}
