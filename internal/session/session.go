// Package session defines the capability boundary between the orchestration
// core and the browser automation that drives a remote admission site. The
// core never sees selectors or pages, only stage-shaped operations.
package session

import (
	"context"
	"time"
)

// Result is the outcome of one capability operation.
type Result struct {
	OK       bool
	TimedOut bool
	Message  string
}

func Completed(message string) Result {
	return Result{OK: true, Message: message}
}

func Failed(message string) Result {
	return Result{Message: message}
}

func TimedOut(message string) Result {
	return Result{TimedOut: true, Message: message}
}

// Session is an opaque, stateful handle to one automated browser
// interaction. A Session is exclusively owned by a single job runner and is
// not safe for concurrent use. Every operation may fail terminally; the
// runner decides what that means for the job.
type Session interface {
	// Navigate loads the named target (a page or logical step).
	Navigate(ctx context.Context, target string) Result

	// FillSection enters the given values into a named form section.
	FillSection(ctx context.Context, name string, data map[string]string) Result

	// Upload attaches a local file to a named upload slot.
	Upload(ctx context.Context, slot, fileRef string) Result

	// Submit confirms the current form or page.
	Submit(ctx context.Context) Result

	// ExtractCode scrapes a short code from the current page, e.g. the SMS
	// code the site expects the applicant to text to a shortcode. Returns
	// an empty string when no code is present.
	ExtractCode(ctx context.Context) (string, error)

	// WaitHumanGate blocks until the page-side validation of a human gate
	// (a solved CAPTCHA, a confirmed payment) settles, the timeout passes,
	// or the gate fails.
	WaitHumanGate(ctx context.Context, kind string, timeout time.Duration) Result

	// Download saves a result document the site produced (receipt, admit
	// card, admission slip) and returns its local file reference.
	Download(ctx context.Context, item string) (string, error)

	// CaptureDiagnostic saves a screenshot-equivalent artifact and returns
	// its reference. Best effort: an error means no artifact exists.
	CaptureDiagnostic(ctx context.Context) (string, error)

	// Close releases the underlying browser resources. Safe to call twice.
	Close(ctx context.Context) error
}

// Factory opens a fresh Session for one job. Each runner gets its own.
type Factory func(ctx context.Context) (Session, error)
