package payment

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(common.PaymentConfig{
		StoreID:       "testbox",
		StorePassword: "qwerty",
		APIURL:        srv.URL + "/gwprocess/v4/api.php",
		ValidationURL: srv.URL + "/validator/api/validationserverAPI.php",
		Timeout:       5 * time.Second,
	}, "http://localhost:8080", testLogger())
}

func payableApp() *entity.Application {
	return &entity.Application{
		ID:            "BUP-20260901-abcd1234",
		FirstName:     "Rahim",
		LastName:      "Uddin",
		Email:         "rahim@example.com",
		MobileNumber:  "01712345678",
		PaymentAmount: 1000,
		TransactionID: "TXN-20260901-ffff0000",
	}
}

func TestCreateSession(t *testing.T) {
	var gotForm map[string]string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"store_id":     r.PostFormValue("store_id"),
			"tran_id":      r.PostFormValue("tran_id"),
			"total_amount": r.PostFormValue("total_amount"),
			"currency":     r.PostFormValue("currency"),
			"cus_name":     r.PostFormValue("cus_name"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"SUCCESS","sessionkey":"sess-1","GatewayPageURL":"https://sandbox.sslcommerz.com/EasyCheckOut/sess-1"}`))
	}))

	sess, err := c.CreateSession(context.Background(), payableApp())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.SessionKey)
	assert.Contains(t, sess.GatewayURL, "EasyCheckOut")

	assert.Equal(t, "testbox", gotForm["store_id"])
	assert.Equal(t, "TXN-20260901-ffff0000", gotForm["tran_id"])
	assert.Equal(t, "1000.00", gotForm["total_amount"])
	assert.Equal(t, "BDT", gotForm["currency"])
	assert.Equal(t, "Rahim Uddin", gotForm["cus_name"])
}

func TestCreateSessionRejected(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FAILED","failedreason":"store credential mismatch"}`))
	}))

	_, err := c.CreateSession(context.Background(), payableApp())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store credential mismatch")
}

func TestCreateSessionNoAmount(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called for a zero amount")
	}))

	app := payableApp()
	app.PaymentAmount = 0
	_, err := c.CreateSession(context.Background(), app)
	require.Error(t, err)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		status string
		valid  bool
	}{
		{"valid", "VALID", true},
		{"validated", "VALIDATED", true},
		{"failed", "FAILED", false},
		{"pending", "PENDING", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "val-1", r.URL.Query().Get("val_id"))
				w.Write([]byte(`{"status":"` + tt.status + `","tran_id":"TXN-20260901-ffff0000","amount":"1000.00","bank_tran_id":"BANK-1"}`))
			}))

			v, err := c.Verify(context.Background(), "val-1")
			require.NoError(t, err)
			assert.Equal(t, tt.valid, v.Valid)
			assert.Equal(t, "TXN-20260901-ffff0000", v.TransactionID)
			assert.InDelta(t, 1000.0, v.Amount, 0.001)
		})
	}
}

func TestVerifyMissingID(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := c.Verify(context.Background(), "")
	require.Error(t, err)
}
