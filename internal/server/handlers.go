package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/entity"
)

const maxBodyBytes = 1 << 20

type applyRequest struct {
	Flow             string  `json:"flow"`
	HSCRoll          string  `json:"hsc_roll"`
	HSCBoard         string  `json:"hsc_board"`
	HSCYear          int     `json:"hsc_year"`
	HSCRegistration  string  `json:"hsc_registration"`
	SSCRoll          string  `json:"ssc_roll"`
	SSCBoard         string  `json:"ssc_board"`
	SSCYear          int     `json:"ssc_year"`
	SSCRegistration  string  `json:"ssc_registration"`
	FirstName        string  `json:"first_name"`
	LastName         string  `json:"last_name"`
	FatherName       string  `json:"father_name"`
	MotherName       string  `json:"mother_name"`
	DateOfBirth      string  `json:"date_of_birth"`
	Gender           string  `json:"gender"`
	Email            string  `json:"email"`
	MobileNumber     string  `json:"mobile_number"`
	PresentAddress   string  `json:"present_address"`
	PermanentAddress string  `json:"permanent_address"`
	City             string  `json:"city"`
	District         string  `json:"district"`
	PostalCode       string  `json:"postal_code"`
	Faculty          string  `json:"faculty"`
	Quota            string  `json:"quota"`
	ExamCenter       string  `json:"exam_center"`
	Unit             string  `json:"unit"`
	PaymentAmount    float64 `json:"payment_amount"`
	PhotoPath        string  `json:"photo_path"`
	SignaturePath    string  `json:"signature_path"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR", "request body too large or unreadable", common.ErrInvalidInput))
		return
	}
	if err := validateApplyBody(body); err != nil {
		writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR", err.Error(), common.ErrValidation))
		return
	}

	var req applyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR", "malformed request body", common.ErrValidation))
		return
	}

	v := common.NewValidator()
	v.Field("mobile_number", req.MobileNumber, common.MobileNumber)
	v.Field("first_name", req.FirstName, common.Required, common.Max(100))
	v.Field("last_name", req.LastName, common.Required, common.Max(100))
	v.Field("photo_path", req.PhotoPath, common.UploadPath)
	v.Field("signature_path", req.SignaturePath, common.UploadPath)
	flow := constants.Flow(req.Flow)
	if flow == constants.FlowFaculty {
		v.Field("ssc_roll", req.SSCRoll, common.Required)
		v.Field("faculty", req.Faculty, common.Required)
	}
	if err := v.Error(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	faculty := req.Faculty
	if flow == constants.FlowFaculty {
		canonical, ok := constants.CanonicalFaculty(req.Faculty)
		if !ok {
			writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR",
				"unknown faculty "+req.Faculty, common.ErrValidation))
			return
		}
		faculty = string(canonical)
	}

	now := time.Now().UTC()
	app := &entity.Application{
		ID:               common.NewApplicationID(req.Flow),
		Flow:             flow,
		HSCRoll:          req.HSCRoll,
		HSCBoard:         req.HSCBoard,
		HSCYear:          req.HSCYear,
		HSCRegistration:  req.HSCRegistration,
		SSCRoll:          req.SSCRoll,
		SSCBoard:         req.SSCBoard,
		SSCYear:          req.SSCYear,
		SSCRegistration:  req.SSCRegistration,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		FatherName:       req.FatherName,
		MotherName:       req.MotherName,
		DateOfBirth:      req.DateOfBirth,
		Gender:           req.Gender,
		Email:            req.Email,
		MobileNumber:     req.MobileNumber,
		PresentAddress:   req.PresentAddress,
		PermanentAddress: req.PermanentAddress,
		City:             req.City,
		District:         req.District,
		PostalCode:       req.PostalCode,
		Faculty:          faculty,
		Quota:            req.Quota,
		ExamCenter:       req.ExamCenter,
		Unit:             req.Unit,
		PhotoPath:        req.PhotoPath,
		SignaturePath:    req.SignaturePath,
		PaymentStatus:    "unpaid",
		PaymentAmount:    req.PaymentAmount,
		TransactionID:    common.NewTransactionID(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.apps.Create(r.Context(), app); err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.logger.Info("application created", "application_id", app.ID, "flow", app.Flow)
	writeJSON(w, http.StatusCreated, map[string]any{
		"application_id": app.ID,
		"transaction_id": app.TransactionID,
		"status":         "created",
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, created, err := s.orch.StartAutomation(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	status := http.StatusAccepted
	message := "Automation started."
	if !created {
		status = http.StatusOK
		message = "Automation already in progress."
	}
	writeJSON(w, status, map[string]any{
		"application_id": id,
		"job_id":         job.ID.String(),
		"job_status":     job.Status,
		"message":        message,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.orch.StatusByApplication(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type resumeRequest struct {
	JobID   string `json:"job_id"`
	OTP     string `json:"otp,omitempty"`
	Captcha string `json:"captcha,omitempty"`
}

func (s *Server) handleSubmitOTP(w http.ResponseWriter, r *http.Request) {
	s.handleResume(w, r, constants.SuspendOTP)
}

func (s *Server) handleSubmitCaptcha(w http.ResponseWriter, r *http.Request) {
	s.handleResume(w, r, constants.SuspendCaptcha)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, kind constants.SuspensionKind) {
	var req resumeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR", "malformed request body", common.ErrValidation))
		return
	}

	payload := req.OTP
	v := common.NewValidator()
	v.Field("job_id", req.JobID, common.Required, common.UUID)
	switch kind {
	case constants.SuspendOTP:
		v.Field("otp", req.OTP, common.Required, common.OTPCode)
	case constants.SuspendCaptcha:
		v.Field("captcha", req.Captcha, common.Required, common.Max(32))
		payload = req.Captcha
	}
	if err := v.Error(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR", "job_id must be a UUID", common.ErrValidation))
		return
	}
	if err := s.orch.SubmitResume(r.Context(), jobID, kind, payload); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  req.JobID,
		"message": "Input accepted, automation resuming.",
	})
}

// handlePaymentURL opens a gateway checkout session for the application
// and returns the redirect URL.
func (s *Server) handlePaymentURL(w http.ResponseWriter, r *http.Request) {
	app, err := s.apps.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	sess, err := s.payments.CreateSession(r.Context(), app)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"application_id": app.ID,
		"transaction_id": app.TransactionID,
		"gateway_url":    sess.GatewayURL,
	})
}

// handlePaymentCallback is hit by the gateway after checkout. The val_id
// is verified server side before the payment is recorded and the
// suspended job resumed; the applicant is then bounced to the frontend.
func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR", "malformed callback", common.ErrValidation))
		return
	}
	outcome := r.FormValue("outcome")
	if outcome == "" {
		outcome = r.URL.Query().Get("outcome")
	}
	tranID := r.FormValue("tran_id")
	valID := r.FormValue("val_id")

	app, err := s.apps.GetByTransactionID(r.Context(), tranID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if outcome != "success" {
		s.logger.Warn("payment not completed",
			"application_id", app.ID, "transaction_id", tranID, "outcome", outcome)
		if err := s.apps.SetPayment(r.Context(), app.ID, outcome, tranID); err != nil {
			writeError(w, s.logger, err)
			return
		}
		if err := s.apps.RecordPayment(r.Context(), &entity.Payment{
			ApplicationID: app.ID,
			TransactionID: tranID,
			Amount:        app.PaymentAmount,
			Method:        r.FormValue("card_type"),
			Status:        outcome,
		}); err != nil {
			writeError(w, s.logger, err)
			return
		}
		http.Redirect(w, r, s.frontend+"/payment/"+outcome, http.StatusSeeOther)
		return
	}

	verification, err := s.payments.Verify(r.Context(), valID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !verification.Valid || verification.TransactionID != tranID {
		s.logger.Warn("payment verification rejected",
			"application_id", app.ID, "transaction_id", tranID, "status", verification.Status)
		writeError(w, s.logger, common.NewAppError("PAYMENT_ERROR",
			"payment could not be verified", common.ErrInvalidInput))
		return
	}

	if err := s.apps.SetPayment(r.Context(), app.ID, "paid", tranID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.apps.RecordPayment(r.Context(), &entity.Payment{
		ApplicationID: app.ID,
		TransactionID: tranID,
		ValidationID:  valID,
		Amount:        verification.Amount,
		Method:        r.FormValue("card_type"),
		Status:        "paid",
	}); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.orch.ResumePayment(r.Context(), app.ID, verification.BankTranID); err != nil {
		// Payment is recorded either way; the job may have expired or
		// never suspended on payment.
		s.logger.Warn("payment recorded but job not resumed",
			"application_id", app.ID, "error", err)
	}

	http.Redirect(w, r, s.frontend+"/payment/success", http.StatusSeeOther)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.apps.GetByID(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	docs, err := s.apps.ListDocuments(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application_id": id,
		"documents":      docs,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flow := constants.Flow(q.Get("flow"))
	if flow != "" && flow != constants.FlowUniversity && flow != constants.FlowFaculty {
		writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR",
			"flow must be university or faculty", common.ErrValidation))
		return
	}

	var from, to *time.Time
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR", "from must be YYYY-MM-DD", common.ErrValidation))
			return
		}
		from = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, s.logger, common.NewAppError("VALIDATION_ERROR", "to must be YYYY-MM-DD", common.ErrValidation))
			return
		}
		to = &t
	}

	data, err := s.exporter.ExportApplicationsXLSX(r.Context(), flow, from, to)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	filename := "applications-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.HealthCheck(r.Context(), 2*time.Second); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
