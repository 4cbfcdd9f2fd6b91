// Package payment integrates the SSLCommerz hosted checkout: session
// creation before redirecting the applicant, and server-side validation
// of the gateway callback.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/entity"
)

// Session is what the gateway hands back for a freshly initiated payment.
type Session struct {
	SessionKey string
	GatewayURL string
}

// Verification is the gateway's verdict on a completed transaction.
type Verification struct {
	Valid         bool
	Status        string
	TransactionID string
	Amount        float64
	BankTranID    string
}

type Client struct {
	storeID       string
	storePassword string
	apiURL        string
	validationURL string
	successURL    string
	failURL       string
	cancelURL     string
	http          *http.Client
	logger        *slog.Logger
}

func NewClient(cfg common.PaymentConfig, backendURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(backendURL, "/")
	return &Client{
		storeID:       cfg.StoreID,
		storePassword: cfg.StorePassword,
		apiURL:        cfg.APIURL,
		validationURL: cfg.ValidationURL,
		successURL:    base + "/api/admission/payment/callback?outcome=success",
		failURL:       base + "/api/admission/payment/callback?outcome=fail",
		cancelURL:     base + "/api/admission/payment/callback?outcome=cancel",
		http:          &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
	}
}

type createResponse struct {
	Status         string `json:"status"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
	FailedReason   string `json:"failedreason"`
}

// CreateSession initiates a checkout session for the application's fee.
// The returned GatewayURL is where the applicant completes payment.
func (c *Client) CreateSession(ctx context.Context, app *entity.Application) (*Session, error) {
	if app.PaymentAmount <= 0 {
		return nil, common.NewAppError("PAYMENT_ERROR", "application has no payable amount", common.ErrInvalidInput)
	}
	if app.TransactionID == "" {
		return nil, common.NewAppError("PAYMENT_ERROR", "application has no transaction id", common.ErrInvalidInput)
	}

	form := url.Values{}
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.storePassword)
	form.Set("total_amount", strconv.FormatFloat(app.PaymentAmount, 'f', 2, 64))
	form.Set("currency", "BDT")
	form.Set("tran_id", app.TransactionID)
	form.Set("success_url", c.successURL)
	form.Set("fail_url", c.failURL)
	form.Set("cancel_url", c.cancelURL)
	form.Set("cus_name", app.FullName())
	form.Set("cus_email", stringOr(app.Email, "noreply@example.com"))
	form.Set("cus_add1", stringOr(app.PresentAddress, "Dhaka"))
	form.Set("cus_city", stringOr(app.City, "Dhaka"))
	form.Set("cus_country", "Bangladesh")
	form.Set("cus_phone", app.MobileNumber)
	form.Set("shipping_method", "NO")
	form.Set("product_name", "Admission Fee "+app.ID)
	form.Set("product_category", "Education")
	form.Set("product_profile", "non-physical-goods")

	var out createResponse
	if err := c.postForm(ctx, c.apiURL, form, &out); err != nil {
		return nil, err
	}
	if !strings.EqualFold(out.Status, "SUCCESS") || out.GatewayPageURL == "" {
		c.logger.Error("payment session rejected",
			"transaction_id", app.TransactionID, "status", out.Status, "reason", out.FailedReason)
		return nil, common.NewAppError("PAYMENT_ERROR",
			"gateway refused to open a payment session: "+stringOr(out.FailedReason, out.Status),
			common.ErrInternal)
	}

	c.logger.Info("payment session created",
		"transaction_id", app.TransactionID, "session_key", out.SessionKey)
	return &Session{SessionKey: out.SessionKey, GatewayURL: out.GatewayPageURL}, nil
}

type validationResponse struct {
	Status     string `json:"status"`
	TranID     string `json:"tran_id"`
	Amount     string `json:"amount"`
	BankTranID string `json:"bank_tran_id"`
}

// Verify asks the gateway to confirm a callback's validation id. Only
// VALID and VALIDATED count; everything else is treated as not paid.
func (c *Client) Verify(ctx context.Context, validationID string) (*Verification, error) {
	if validationID == "" {
		return nil, common.NewAppError("PAYMENT_ERROR", "missing validation id", common.ErrInvalidInput)
	}

	q := url.Values{}
	q.Set("val_id", validationID)
	q.Set("store_id", c.storeID)
	q.Set("store_passwd", c.storePassword)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.validationURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, common.WrapError(err, "building validation request")
	}
	var out validationResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	amount, _ := strconv.ParseFloat(out.Amount, 64)
	v := &Verification{
		Valid:         strings.EqualFold(out.Status, "VALID") || strings.EqualFold(out.Status, "VALIDATED"),
		Status:        out.Status,
		TransactionID: out.TranID,
		Amount:        amount,
		BankTranID:    out.BankTranID,
	}
	c.logger.Info("payment verification",
		"validation_id", validationID, "transaction_id", v.TransactionID, "status", v.Status, "valid", v.Valid)
	return v, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return common.WrapError(err, "building gateway request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return common.NewAppError("PAYMENT_ERROR", "payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return common.WrapError(err, "reading gateway response")
	}
	if resp.StatusCode != http.StatusOK {
		return common.NewAppError("PAYMENT_ERROR",
			fmt.Sprintf("payment gateway returned %d", resp.StatusCode), common.ErrInternal)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return common.NewAppError("PAYMENT_ERROR", "malformed gateway response", err)
	}
	return nil
}

func stringOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
