package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scripted is a Session whose behavior is driven by per-operation hooks.
// With no hooks set every operation completes, which makes it the driver
// for dry runs; tests override individual hooks to script failures,
// timeouts and extracted codes.
type Scripted struct {
	DiagnosticDir string
	DocumentDir   string

	OnNavigate    func(ctx context.Context, target string) Result
	OnFillSection func(ctx context.Context, name string, data map[string]string) Result
	OnUpload      func(ctx context.Context, slot, fileRef string) Result
	OnSubmit      func(ctx context.Context) Result
	OnExtractCode func(ctx context.Context) (string, error)
	OnHumanGate   func(ctx context.Context, kind string, timeout time.Duration) Result
	OnDownload    func(ctx context.Context, item string) (string, error)
	OnDiagnostic  func(ctx context.Context) (string, error)

	mu     sync.Mutex
	closed bool
	calls  []string
}

// NewScripted returns a Scripted session writing diagnostics under dir.
func NewScripted(dir string) *Scripted {
	return &Scripted{DiagnosticDir: dir}
}

// Calls returns the operation names invoked so far, in order.
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Closed reports whether Close has been called.
func (s *Scripted) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scripted) record(op string) {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	s.mu.Unlock()
}

func (s *Scripted) Navigate(ctx context.Context, target string) Result {
	s.record("navigate:" + target)
	if s.OnNavigate != nil {
		return s.OnNavigate(ctx, target)
	}
	return Completed("navigated to " + target)
}

func (s *Scripted) FillSection(ctx context.Context, name string, data map[string]string) Result {
	s.record("fill:" + name)
	if s.OnFillSection != nil {
		return s.OnFillSection(ctx, name, data)
	}
	return Completed("filled " + name)
}

func (s *Scripted) Upload(ctx context.Context, slot, fileRef string) Result {
	s.record("upload:" + slot)
	if s.OnUpload != nil {
		return s.OnUpload(ctx, slot, fileRef)
	}
	return Completed("uploaded " + slot)
}

func (s *Scripted) Submit(ctx context.Context) Result {
	s.record("submit")
	if s.OnSubmit != nil {
		return s.OnSubmit(ctx)
	}
	return Completed("submitted")
}

func (s *Scripted) ExtractCode(ctx context.Context) (string, error) {
	s.record("extract_code")
	if s.OnExtractCode != nil {
		return s.OnExtractCode(ctx)
	}
	return uuid.NewString()[:8], nil
}

func (s *Scripted) WaitHumanGate(ctx context.Context, kind string, timeout time.Duration) Result {
	s.record("human_gate:" + kind)
	if s.OnHumanGate != nil {
		return s.OnHumanGate(ctx, kind, timeout)
	}
	return Completed(kind + " gate cleared")
}

func (s *Scripted) Download(ctx context.Context, item string) (string, error) {
	s.record("download:" + item)
	if s.OnDownload != nil {
		return s.OnDownload(ctx, item)
	}
	dir := s.DocumentDir
	if dir == "" {
		dir = s.DiagnosticDir
	}
	if dir == "" {
		return "", fmt.Errorf("no document dir configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.pdf", item, time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte("%PDF-1.4 scripted document\n"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Scripted) CaptureDiagnostic(ctx context.Context) (string, error) {
	s.record("capture_diagnostic")
	if s.OnDiagnostic != nil {
		return s.OnDiagnostic(ctx)
	}
	if s.DiagnosticDir == "" {
		return "", fmt.Errorf("no diagnostic dir configured")
	}
	if err := os.MkdirAll(s.DiagnosticDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.DiagnosticDir, fmt.Sprintf("diag-%d.txt", time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte("scripted diagnostic capture\n"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Scripted) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
