package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/export"
	"github.com/testpulse/admitflow/internal/orchestrator"
	"github.com/testpulse/admitflow/internal/payment"
	"github.com/testpulse/admitflow/internal/registry"
	"github.com/testpulse/admitflow/internal/repository"
	"github.com/testpulse/admitflow/internal/session"
)

type testAPI struct {
	srv  *httptest.Server
	jobs repository.JobRepository
	apps repository.ApplicationRepository
}

// newTestAPI wires the whole stack on SQLite with a dry-run session
// driver and a stubbed payment gateway.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := repository.Open(context.Background(), repository.Config{
		DSN: "sqlite://" + filepath.Join(t.TempDir(), "api.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))

	apps := repository.NewApplicationRepository(db, logger)
	jobs := repository.NewJobRepository(db, logger)

	factory := session.Factory(func(ctx context.Context) (session.Session, error) {
		s := session.NewScripted(t.TempDir())
		s.DocumentDir = t.TempDir()
		return s, nil
	})
	orch := orchestrator.New(apps, jobs, registry.New(), factory, common.AutomationConfig{
		Workers:        2,
		QueueSize:      16,
		StageTimeout:   5 * time.Second,
		OTPTimeout:     time.Minute,
		CaptchaTimeout: time.Minute,
		PaymentTimeout: time.Minute,
		ReaperInterval: time.Second,
	}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "validationserverAPI") {
			w.Write([]byte(`{"status":"VALID","tran_id":"` + r.URL.Query().Get("val_id") + `","amount":"500.00","bank_tran_id":"BANK-1"}`))
			return
		}
		w.Write([]byte(`{"status":"SUCCESS","sessionkey":"sess-1","GatewayPageURL":"https://sandbox.example/EasyCheckOut/sess-1"}`))
	}))
	t.Cleanup(gateway.Close)

	payments := payment.NewClient(common.PaymentConfig{
		StoreID:       "testbox",
		StorePassword: "qwerty",
		APIURL:        gateway.URL + "/gwprocess/v4/api.php",
		ValidationURL: gateway.URL + "/validator/api/validationserverAPI.php",
		Timeout:       5 * time.Second,
	}, "http://localhost:8080", logger)

	api := New(orch, apps, payments, export.NewService(apps, jobs, logger), db, "http://localhost:5173", logger)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, jobs: jobs, apps: apps}
}

func (a *testAPI) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(a.srv.URL+path, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return resp
}

func (a *testAPI) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(a.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func validApply() map[string]any {
	return map[string]any{
		"flow":           "university",
		"hsc_roll":       "123456",
		"hsc_board":      "dhaka",
		"hsc_year":       2024,
		"first_name":     "Rahim",
		"last_name":      "Uddin",
		"mobile_number":  "01712345678",
		"email":          "rahim@example.com",
		"payment_amount": 500,
	}
}

func (a *testAPI) apply(t *testing.T) (applicationID, transactionID string) {
	t.Helper()
	resp := a.postJSON(t, "/api/admission/apply", validApply())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	return body["application_id"], body["transaction_id"]
}

// waitForJobStatus polls the status endpoint until the job reaches want.
func (a *testAPI) waitForJobStatus(t *testing.T, applicationID string, want constants.JobStatus) map[string]any {
	t.Helper()
	var view map[string]any
	require.Eventually(t, func() bool {
		resp := a.get(t, "/api/admission/status/"+applicationID)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return false
		}
		view = decode[map[string]any](t, resp)
		return view["job_status"] == string(want)
	}, 5*time.Second, 10*time.Millisecond, "waiting for %s", want)
	return view
}

func TestApplyCreatesApplication(t *testing.T) {
	a := newTestAPI(t)
	id, txn := a.apply(t)

	assert.True(t, strings.HasPrefix(id, "DU-"), id)
	assert.True(t, strings.HasPrefix(txn, "TXN-"), txn)

	app, err := a.apps.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Rahim", app.FirstName)
	assert.Equal(t, "unpaid", app.PaymentStatus)
}

func TestApplyRejectsSchemaViolations(t *testing.T) {
	a := newTestAPI(t)

	for name, mutate := range map[string]func(m map[string]any){
		"missing flow":      func(m map[string]any) { delete(m, "flow") },
		"bad flow":          func(m map[string]any) { m["flow"] = "college" },
		"unknown field":     func(m map[string]any) { m["hacker"] = true },
		"year out of range": func(m map[string]any) { m["hsc_year"] = 1890 },
		"empty first name":  func(m map[string]any) { m["first_name"] = "" },
		"bad mobile number": func(m map[string]any) { m["mobile_number"] = "12345" },
		"negative amount":   func(m map[string]any) { m["payment_amount"] = -5 },
		"bad photo type":    func(m map[string]any) { m["photo_path"] = "/uploads/photos/me.exe" },
	} {
		t.Run(name, func(t *testing.T) {
			body := validApply()
			mutate(body)
			resp := a.postJSON(t, "/api/admission/apply", body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestApplyRejectsUnknownFaculty(t *testing.T) {
	a := newTestAPI(t)
	body := validApply()
	body["flow"] = "faculty"
	body["ssc_roll"] = "654321"
	body["faculty"] = "School of Wizardry"

	resp := a.postJSON(t, "/api/admission/apply", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartUnknownApplication(t *testing.T) {
	a := newTestAPI(t)
	resp := a.postJSON(t, "/api/admission/start/DU-nope", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartIsIdempotentOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	id, _ := a.apply(t)

	resp := a.postJSON(t, "/api/admission/start/"+id, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	first := decode[map[string]any](t, resp)

	resp = a.postJSON(t, "/api/admission/start/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[map[string]any](t, resp)

	assert.Equal(t, first["job_id"], second["job_id"])
}

func TestFullUniversityFlowOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	id, txn := a.apply(t)

	resp := a.postJSON(t, "/api/admission/start/"+id, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[map[string]any](t, resp)
	jobID := started["job_id"].(string)

	view := a.waitForJobStatus(t, id, constants.JobStatusOTPRequired)
	assert.NotEmpty(t, view["next_step"])

	// Wrong payload first: captcha against an OTP wait conflicts.
	resp = a.postJSON(t, "/api/admission/submit-captcha", map[string]string{
		"job_id": jobID, "captcha": "x7k2p",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.postJSON(t, "/api/admission/submit-otp", map[string]string{
		"job_id": jobID, "otp": "123456",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	a.waitForJobStatus(t, id, constants.JobStatusPaymentPending)

	// Fetch the gateway redirect, then simulate the gateway callback.
	resp = a.get(t, "/api/admission/payment-url/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pay := decode[map[string]string](t, resp)
	assert.Contains(t, pay["gateway_url"], "EasyCheckOut")

	form := url.Values{}
	form.Set("tran_id", txn)
	form.Set("val_id", txn) // stub gateway echoes val_id as tran_id
	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	cbResp, err := client.PostForm(a.srv.URL+"/api/admission/payment/callback?outcome=success", form)
	require.NoError(t, err)
	cbResp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, cbResp.StatusCode)

	view = a.waitForJobStatus(t, id, constants.JobStatusCompleted)
	docs, ok := view["documents"].(map[string]any)
	require.True(t, ok, "expected downloaded documents in status")
	assert.Contains(t, docs, "receipt")

	app, err := a.apps.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "paid", app.PaymentStatus)

	payments, err := a.apps.ListPayments(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "paid", payments[0].Status)
	assert.Equal(t, txn, payments[0].TransactionID)
}

func TestSubmitOTPValidation(t *testing.T) {
	a := newTestAPI(t)

	resp := a.postJSON(t, "/api/admission/submit-otp", map[string]string{
		"job_id": "not-a-uuid", "otp": "123456",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.postJSON(t, "/api/admission/submit-otp", map[string]string{
		"job_id": "6a2f4c0e-9f3b-4f6e-8a3c-0d1e2f3a4b5c", "otp": "abc",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.postJSON(t, "/api/admission/submit-otp", map[string]string{
		"job_id": "6a2f4c0e-9f3b-4f6e-8a3c-0d1e2f3a4b5c", "otp": "123456",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPaymentCallbackFailOutcome(t *testing.T) {
	a := newTestAPI(t)
	id, txn := a.apply(t)

	form := url.Values{}
	form.Set("tran_id", txn)
	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.PostForm(a.srv.URL+"/api/admission/payment/callback?outcome=fail", form)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	app, err := a.apps.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "fail", app.PaymentStatus)

	payments, err := a.apps.ListPayments(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "fail", payments[0].Status)
}

func TestExportReturnsWorkbook(t *testing.T) {
	a := newTestAPI(t)
	a.apply(t)

	resp := a.get(t, "/api/admission/export")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	// XLSX is a zip container.
	require.Greater(t, len(data), 4)
	assert.Equal(t, []byte{'P', 'K'}, data[:2])
}

func TestExportRejectsBadFlow(t *testing.T) {
	a := newTestAPI(t)
	resp := a.get(t, "/api/admission/export?flow=college")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	resp := a.get(t, "/health")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDocumentsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	id, _ := a.apply(t)

	resp := a.get(t, "/api/admission/documents/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, id, body["application_id"])

	resp = a.get(t, "/api/admission/documents/DU-nope")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
