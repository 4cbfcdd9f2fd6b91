package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/entity"
	"github.com/testpulse/admitflow/internal/registry"
	"github.com/testpulse/admitflow/internal/session"
)

// memApps is an in-memory ApplicationRepository.
type memApps struct {
	mu   sync.Mutex
	apps map[string]*entity.Application
	docs map[string][]*entity.Document
}

func newMemApps() *memApps {
	return &memApps{apps: map[string]*entity.Application{}, docs: map[string][]*entity.Document{}}
}

func (m *memApps) Create(ctx context.Context, app *entity.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.ID] = app
	return nil
}

func (m *memApps) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *memApps) GetByTransactionID(ctx context.Context, transactionID string) (*entity.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if app.TransactionID == transactionID {
			cp := *app
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memApps) List(ctx context.Context) ([]*entity.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Application
	for _, app := range m.apps {
		cp := *app
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memApps) SetSMSCode(ctx context.Context, applicationID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app, ok := m.apps[applicationID]; ok {
		app.SMSCode = code
	}
	return nil
}

func (m *memApps) SetPaymentAmount(ctx context.Context, applicationID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app, ok := m.apps[applicationID]; ok {
		app.PaymentAmount = amount
	}
	return nil
}

func (m *memApps) SetPayment(ctx context.Context, applicationID, status, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app, ok := m.apps[applicationID]; ok {
		app.PaymentStatus = status
	}
	return nil
}

func (m *memApps) SaveDocument(ctx context.Context, applicationID string, docType constants.DocumentType, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[applicationID] = append(m.docs[applicationID], &entity.Document{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		Type:          docType,
		FilePath:      filePath,
	})
	if app, ok := m.apps[applicationID]; ok {
		switch docType {
		case constants.DocumentReceipt:
			app.ReceiptPath = filePath
		case constants.DocumentAdmitCard:
			app.AdmitCardPath = filePath
		}
	}
	return nil
}

func (m *memApps) ListDocuments(ctx context.Context, applicationID string) ([]*entity.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[applicationID], nil
}

func (m *memApps) RecordPayment(ctx context.Context, p *entity.Payment) error {
	return nil
}

func (m *memApps) ListPayments(ctx context.Context, applicationID string) ([]*entity.Payment, error) {
	return nil, nil
}

// memJobs is an in-memory JobRepository whose CreateForApplication keeps
// the one-active-job invariant under concurrent callers.
type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[uuid.UUID]*entity.Job{}}
}

func (m *memJobs) CreateForApplication(ctx context.Context, applicationID string) (*entity.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ApplicationID == applicationID && !j.Status.Terminal() {
			cp := *j
			return &cp, false, nil
		}
	}
	job := &entity.Job{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		Status:        constants.JobStatusPending,
		CurrentStage:  "queued",
		CreatedAt:     time.Now(),
	}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, true, nil
}

func (m *memJobs) GetByID(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) GetLatestByApplication(ctx context.Context, applicationID string) (*entity.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *entity.Job
	for _, j := range m.jobs {
		if j.ApplicationID != applicationID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, common.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memJobs) MarkStarted(ctx context.Context, jobID uuid.UUID) error {
	return m.set(jobID, constants.JobStatusInitializing, "initialization", "Opening browser session...")
}

func (m *memJobs) UpdateStage(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, stage, message string) error {
	return m.set(jobID, status, stage, message)
}

func (m *memJobs) MarkTerminal(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, stage, message, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return common.ErrNotFound
	}
	if j.Status.Terminal() {
		return nil
	}
	j.Status = status
	j.CurrentStage = stage
	j.StageMessage = message
	j.LastError = lastError
	return nil
}

func (m *memJobs) RecordError(ctx context.Context, jobID uuid.UUID, lastError, screenshotRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.ErrorCount++
		j.LastError = lastError
	}
	return nil
}

func (m *memJobs) set(jobID uuid.UUID, status constants.JobStatus, stage, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return common.ErrNotFound
	}
	j.Status = status
	j.CurrentStage = stage
	j.StageMessage = message
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() common.AutomationConfig {
	return common.AutomationConfig{
		Workers:        2,
		QueueSize:      16,
		StageTimeout:   5 * time.Second,
		OTPTimeout:     time.Minute,
		CaptchaTimeout: time.Minute,
		PaymentTimeout: time.Minute,
		ReaperInterval: 10 * time.Millisecond,
	}
}

type world struct {
	apps *memApps
	jobs *memJobs
	reg  *registry.Registry
	orch *Orchestrator
}

func newWorld(t *testing.T) *world {
	t.Helper()
	apps := newMemApps()
	jobs := newMemJobs()
	reg := registry.New()
	factory := session.Factory(func(ctx context.Context) (session.Session, error) {
		s := session.NewScripted(t.TempDir())
		s.DocumentDir = t.TempDir()
		return s, nil
	})
	orch := New(apps, jobs, reg, factory, testConfig(), testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})
	return &world{apps: apps, jobs: jobs, reg: reg, orch: orch}
}

func (w *world) seedApp(t *testing.T, flow constants.Flow) *entity.Application {
	t.Helper()
	app := &entity.Application{
		ID:            common.NewApplicationID(string(flow)),
		Flow:          flow,
		HSCRoll:       "123456",
		FirstName:     "Rahim",
		LastName:      "Uddin",
		MobileNumber:  "01712345678",
		TransactionID: common.NewTransactionID(),
		PaymentAmount: 500,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, w.apps.Create(context.Background(), app))
	return app
}

func (w *world) waitForStatus(t *testing.T, jobID uuid.UUID, want constants.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := w.jobs.GetByID(context.Background(), jobID)
		return err == nil && j.Status == want
	}, 5*time.Second, 5*time.Millisecond, "waiting for status %s", want)
}

func TestStartAutomationUnknownApplication(t *testing.T) {
	w := newWorld(t)
	_, _, err := w.orch.StartAutomation(context.Background(), "DU-nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStartAutomationIsIdempotent(t *testing.T) {
	w := newWorld(t)
	app := w.seedApp(t, constants.FlowUniversity)

	job1, created, err := w.orch.StartAutomation(context.Background(), app.ID)
	require.NoError(t, err)
	assert.True(t, created)

	job2, created, err := w.orch.StartAutomation(context.Background(), app.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job1.ID, job2.ID)
}

func TestStartAutomationConcurrentStarts(t *testing.T) {
	w := newWorld(t)
	app := w.seedApp(t, constants.FlowUniversity)

	const callers = 8
	ids := make(chan uuid.UUID, callers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	creations := 0
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			job, created, err := w.orch.StartAutomation(context.Background(), app.ID)
			if !assert.NoError(t, err) {
				return
			}
			ids <- job.ID
			if created {
				mu.Lock()
				creations++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		assert.Equal(t, first, id)
	}
	assert.Equal(t, 1, creations)
}

func TestOTPThenPaymentScenario(t *testing.T) {
	w := newWorld(t)
	app := w.seedApp(t, constants.FlowUniversity)

	job, _, err := w.orch.StartAutomation(context.Background(), app.ID)
	require.NoError(t, err)
	w.waitForStatus(t, job.ID, constants.JobStatusOTPRequired)

	view, err := w.orch.StatusByApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusOTPRequired, view.JobStatus)
	assert.NotEmpty(t, view.NextStep)

	require.NoError(t, w.orch.SubmitResume(context.Background(), job.ID, constants.SuspendOTP, "123456"))
	w.waitForStatus(t, job.ID, constants.JobStatusPaymentPending)

	require.NoError(t, w.orch.ResumePayment(context.Background(), app.ID, "BANK-1"))
	w.waitForStatus(t, job.ID, constants.JobStatusCompleted)

	view, err = w.orch.StatusByApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, view.JobStatus)
	assert.Contains(t, view.Documents, "receipt")

	byJob, err := w.orch.StatusByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, byJob.ApplicationID)
	assert.Equal(t, constants.JobStatusCompleted, byJob.JobStatus)
}

func TestStatusByJobUnknown(t *testing.T) {
	w := newWorld(t)

	_, err := w.orch.StatusByJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrJobNotFound)
}

func TestSubmitResumeValidation(t *testing.T) {
	w := newWorld(t)

	err := w.orch.SubmitResume(context.Background(), uuid.New(), "bogus", "x")
	assert.ErrorIs(t, err, common.ErrValidation)

	err = w.orch.SubmitResume(context.Background(), uuid.New(), constants.SuspendOTP, "123456")
	assert.ErrorIs(t, err, common.ErrJobNotFound)
}

func TestSubmitResumeWrongState(t *testing.T) {
	w := newWorld(t)
	app := w.seedApp(t, constants.FlowUniversity)

	job, _, err := w.orch.StartAutomation(context.Background(), app.ID)
	require.NoError(t, err)
	w.waitForStatus(t, job.ID, constants.JobStatusOTPRequired)

	// Job waits for OTP; a captcha submission must not disturb it.
	err = w.orch.SubmitResume(context.Background(), job.ID, constants.SuspendCaptcha, "x7k2p")
	assert.ErrorIs(t, err, common.ErrInvalidResumeState)

	j, err := w.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusOTPRequired, j.Status)
	assert.Equal(t, 1, w.reg.Len())
}

func TestSubmitResumeSecondCallLoses(t *testing.T) {
	w := newWorld(t)
	app := w.seedApp(t, constants.FlowUniversity)

	job, _, err := w.orch.StartAutomation(context.Background(), app.ID)
	require.NoError(t, err)
	w.waitForStatus(t, job.ID, constants.JobStatusOTPRequired)

	require.NoError(t, w.orch.SubmitResume(context.Background(), job.ID, constants.SuspendOTP, "123456"))

	// The entry is consumed; a duplicate either hits the consumed registry
	// or the already-advanced persisted status.
	err = w.orch.SubmitResume(context.Background(), job.ID, constants.SuspendOTP, "123456")
	assert.True(t,
		errors.Is(err, common.ErrJobNotFound) || errors.Is(err, common.ErrInvalidResumeState),
		"got %v", err)
}

func TestReaperFailsExpiredSuspension(t *testing.T) {
	w := newWorld(t)
	app := w.seedApp(t, constants.FlowUniversity)

	job, _, err := w.orch.StartAutomation(context.Background(), app.ID)
	require.NoError(t, err)
	w.waitForStatus(t, job.ID, constants.JobStatusOTPRequired)

	// Force the parked entry to be already expired, then run the reaper.
	entry := w.reg.Take(job.ID)
	require.NotNil(t, entry)
	entry.ExpiresAt = time.Now().Add(-time.Second)
	require.True(t, w.reg.Put(entry))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.orch.RunReaper(ctx)

	w.waitForStatus(t, job.ID, constants.JobStatusFailed)
	j, err := w.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, j.StageMessage, "Timed out")
	assert.Equal(t, 0, w.reg.Len())
}

func TestStatusByApplicationWithoutJob(t *testing.T) {
	w := newWorld(t)
	app := w.seedApp(t, constants.FlowFaculty)

	view, err := w.orch.StatusByApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, view.JobStatus)
	assert.Empty(t, view.JobID)
}
