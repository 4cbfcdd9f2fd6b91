// Package pipeline defines the ordered, named stages that make up one
// admission workflow variant, and the outcome contract between a stage and
// the job runner that drives it.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/entity"
	"github.com/testpulse/admitflow/internal/session"
)

// OutcomeKind is what a stage reports back to the runner.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeFailed
	OutcomeSuspended
)

// Outcome is the result of running (or resuming) one stage.
type Outcome struct {
	Kind    OutcomeKind
	Reason  string                   // failure reason, or human-facing suspension message
	Suspend constants.SuspensionKind // set when Kind == OutcomeSuspended
}

func Complete() Outcome {
	return Outcome{Kind: OutcomeCompleted}
}

func Fail(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

func Suspend(kind constants.SuspensionKind, message string) Outcome {
	return Outcome{Kind: OutcomeSuspended, Suspend: kind, Reason: message}
}

// ApplicationWriter is the slice of the application repository stages use
// for write-backs.
type ApplicationWriter interface {
	SetSMSCode(ctx context.Context, applicationID, code string) error
	SetPaymentAmount(ctx context.Context, applicationID string, amount float64) error
	SaveDocument(ctx context.Context, applicationID string, docType constants.DocumentType, filePath string) error
}

// Env carries everything a stage may touch: the live session, the
// application data, and the write-back surface. One Env per job runner.
type Env struct {
	App     *entity.Application
	Session session.Session
	Apps    ApplicationWriter
	Logger  *slog.Logger
}

// Stage is one named step with a deterministic position in the pipeline.
// A stage with a non-nil Resume is a suspension point: its Run parks the
// pipeline and Resume consumes the human-supplied input later.
type Stage struct {
	Name     string
	Status   constants.JobStatus // persisted when the stage is entered
	Message  string              // stage_message persisted alongside
	Optional bool                // failure degrades the terminal status instead of failing the job

	Run func(ctx context.Context, env *Env) Outcome

	// Resume fields apply only to suspension points.
	ResumeMessage string
	Resume        func(ctx context.Context, env *Env, input string) Outcome
}

// SuspensionPoint reports whether this stage parks the pipeline.
func (s Stage) SuspensionPoint() bool {
	return s.Resume != nil
}

// Pipeline is a fixed, ordered workflow variant.
type Pipeline struct {
	Flow   constants.Flow
	Stages []Stage
}

// StageIndex returns the position of the named stage, or -1.
func (p Pipeline) StageIndex(name string) int {
	for i, s := range p.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Build constructs the pipeline variant for the application's flow.
// Optional upload stages are omitted here when the application carries no
// corresponding asset; stages never swallow their own failures.
func Build(app *entity.Application) Pipeline {
	if app.Flow == constants.FlowFaculty {
		return BuildFaculty(app)
	}
	return BuildUniversity(app)
}

// failure turns a session result into a stage outcome.
func failure(op string, res session.Result) Outcome {
	if res.Message != "" {
		return Fail(op + ": " + res.Message)
	}
	return Fail(op + " failed")
}
