package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/entity"
)

type ApplicationRepository interface {
	Create(ctx context.Context, app *entity.Application) error
	GetByID(ctx context.Context, id string) (*entity.Application, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*entity.Application, error)
	List(ctx context.Context) ([]*entity.Application, error)
	SetSMSCode(ctx context.Context, applicationID, code string) error
	SetPaymentAmount(ctx context.Context, applicationID string, amount float64) error
	SetPayment(ctx context.Context, applicationID, status, transactionID string) error
	SaveDocument(ctx context.Context, applicationID string, docType constants.DocumentType, filePath string) error
	ListDocuments(ctx context.Context, applicationID string) ([]*entity.Document, error)
	RecordPayment(ctx context.Context, p *entity.Payment) error
	ListPayments(ctx context.Context, applicationID string) ([]*entity.Payment, error)
}

type applicationRepo struct {
	db  *DB
	log *slog.Logger
}

func NewApplicationRepository(db *DB, log *slog.Logger) ApplicationRepository {
	return &applicationRepo{db: db, log: log}
}

const applicationColumns = `id, flow, hsc_roll, hsc_board, hsc_year, hsc_registration,
	ssc_roll, ssc_board, ssc_year, ssc_registration,
	first_name, last_name, father_name, mother_name, date_of_birth, gender,
	email, mobile_number, present_address, permanent_address, city, district, postal_code,
	faculty, quota, exam_center, unit, photo_path, signature_path,
	payment_status, payment_amount, transaction_id, sms_code, receipt_path, admit_card_path,
	created_at, updated_at`

func (r *applicationRepo) Create(ctx context.Context, app *entity.Application) error {
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	if app.PaymentStatus == "" {
		app.PaymentStatus = "pending"
	}

	_, err := r.db.ExecContext(ctx, r.db.rebind(`INSERT INTO applications (`+applicationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		app.ID, string(app.Flow), app.HSCRoll, app.HSCBoard, app.HSCYear, app.HSCRegistration,
		app.SSCRoll, app.SSCBoard, app.SSCYear, app.SSCRegistration,
		app.FirstName, app.LastName, app.FatherName, app.MotherName, app.DateOfBirth, app.Gender,
		app.Email, app.MobileNumber, app.PresentAddress, app.PermanentAddress, app.City, app.District, app.PostalCode,
		app.Faculty, app.Quota, app.ExamCenter, app.Unit, app.PhotoPath, app.SignaturePath,
		app.PaymentStatus, app.PaymentAmount, app.TransactionID, app.SMSCode, app.ReceiptPath, app.AdmitCardPath,
		app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		r.log.Error("application create failed", "application_id", app.ID, "error", err)
		return common.WrapError(err, "create application")
	}
	r.log.Info("application created", "application_id", app.ID, "flow", app.Flow)
	return nil
}

func (r *applicationRepo) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT `+applicationColumns+` FROM applications WHERE id = ?`), id)
	return scanApplication(row)
}

func (r *applicationRepo) GetByTransactionID(ctx context.Context, transactionID string) (*entity.Application, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT `+applicationColumns+` FROM applications WHERE transaction_id = ?`), transactionID)
	return scanApplication(row)
}

func (r *applicationRepo) List(ctx context.Context) ([]*entity.Application, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+applicationColumns+` FROM applications ORDER BY created_at`)
	if err != nil {
		r.log.Error("application list failed", "error", err)
		return nil, common.WrapError(err, "list applications")
	}
	defer rows.Close()

	var apps []*entity.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*entity.Application, error) {
	var app entity.Application
	var flow string
	var nullable = struct {
		hscReg, sscReg, dob, gender, permAddr, district, postal sql.NullString
		faculty, quota, center, unit, photo, signature          sql.NullString
		txn, sms, receipt, admitCard                            sql.NullString
	}{}

	err := row.Scan(
		&app.ID, &flow, &app.HSCRoll, &app.HSCBoard, &app.HSCYear, &nullable.hscReg,
		&app.SSCRoll, &app.SSCBoard, &app.SSCYear, &nullable.sscReg,
		&app.FirstName, &app.LastName, &app.FatherName, &app.MotherName, &nullable.dob, &nullable.gender,
		&app.Email, &app.MobileNumber, &app.PresentAddress, &nullable.permAddr, &app.City, &nullable.district, &nullable.postal,
		&nullable.faculty, &nullable.quota, &nullable.center, &nullable.unit, &nullable.photo, &nullable.signature,
		&app.PaymentStatus, &app.PaymentAmount, &nullable.txn, &nullable.sms, &nullable.receipt, &nullable.admitCard,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "scan application")
	}

	app.Flow = constants.Flow(flow)
	app.HSCRegistration = nullable.hscReg.String
	app.SSCRegistration = nullable.sscReg.String
	app.DateOfBirth = nullable.dob.String
	app.Gender = nullable.gender.String
	app.PermanentAddress = nullable.permAddr.String
	app.District = nullable.district.String
	app.PostalCode = nullable.postal.String
	app.Faculty = nullable.faculty.String
	app.Quota = nullable.quota.String
	app.ExamCenter = nullable.center.String
	app.Unit = nullable.unit.String
	app.PhotoPath = nullable.photo.String
	app.SignaturePath = nullable.signature.String
	app.TransactionID = nullable.txn.String
	app.SMSCode = nullable.sms.String
	app.ReceiptPath = nullable.receipt.String
	app.AdmitCardPath = nullable.admitCard.String
	return &app, nil
}

func (r *applicationRepo) SetSMSCode(ctx context.Context, applicationID, code string) error {
	return r.update(ctx, applicationID, `sms_code = ?`, code)
}

func (r *applicationRepo) SetPaymentAmount(ctx context.Context, applicationID string, amount float64) error {
	return r.update(ctx, applicationID, `payment_amount = ?`, amount)
}

func (r *applicationRepo) SetPayment(ctx context.Context, applicationID, status, transactionID string) error {
	_, err := r.db.ExecContext(ctx,
		r.db.rebind(`UPDATE applications SET payment_status = ?, transaction_id = ?, updated_at = ? WHERE id = ?`),
		status, transactionID, time.Now().UTC(), applicationID)
	if err != nil {
		r.log.Error("payment update failed", "application_id", applicationID, "error", err)
		return common.WrapError(err, "update payment")
	}
	return nil
}

func (r *applicationRepo) update(ctx context.Context, applicationID, set string, value any) error {
	_, err := r.db.ExecContext(ctx,
		r.db.rebind(`UPDATE applications SET `+set+`, updated_at = ? WHERE id = ?`),
		value, time.Now().UTC(), applicationID)
	if err != nil {
		r.log.Error("application update failed", "application_id", applicationID, "error", err)
		return common.WrapError(err, "update application")
	}
	return nil
}

// SaveDocument records a produced document and mirrors its path onto the
// application row for the common cases.
func (r *applicationRepo) SaveDocument(ctx context.Context, applicationID string, docType constants.DocumentType, filePath string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		r.db.rebind(`INSERT INTO application_documents (id, application_id, document_type, file_path, created_at) VALUES (?, ?, ?, ?, ?)`),
		uuid.NewString(), applicationID, string(docType), filePath, now)
	if err != nil {
		r.log.Error("document save failed", "application_id", applicationID, "type", docType, "error", err)
		return common.WrapError(err, "save document")
	}

	switch docType {
	case constants.DocumentReceipt:
		err = r.update(ctx, applicationID, `receipt_path = ?`, filePath)
	case constants.DocumentAdmitCard, constants.DocumentAdmissionSlip:
		err = r.update(ctx, applicationID, `admit_card_path = ?`, filePath)
	}
	if err != nil {
		return err
	}
	r.log.Info("document saved", "application_id", applicationID, "type", docType, "path", filePath)
	return nil
}

// RecordPayment upserts the gateway transaction row keyed by transaction
// id, so a retried callback updates in place instead of duplicating.
func (r *applicationRepo) RecordPayment(ctx context.Context, p *entity.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Currency == "" {
		p.Currency = "BDT"
	}
	if p.InitiatedAt.IsZero() {
		p.InitiatedAt = time.Now().UTC()
	}
	if p.Status == "paid" && p.CompletedAt == nil {
		now := time.Now().UTC()
		p.CompletedAt = &now
	}

	_, err := r.db.ExecContext(ctx, r.db.rebind(`INSERT INTO payments
		(id, application_id, transaction_id, validation_id, amount, currency, payment_method, status, initiated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO UPDATE SET
			validation_id = excluded.validation_id,
			amount = excluded.amount,
			payment_method = excluded.payment_method,
			status = excluded.status,
			completed_at = excluded.completed_at`),
		p.ID, p.ApplicationID, p.TransactionID, p.ValidationID, p.Amount, p.Currency,
		p.Method, p.Status, p.InitiatedAt, p.CompletedAt)
	if err != nil {
		r.log.Error("payment record failed", "transaction_id", p.TransactionID, "error", err)
		return common.WrapError(err, "record payment")
	}
	r.log.Info("payment recorded",
		"application_id", p.ApplicationID, "transaction_id", p.TransactionID, "status", p.Status)
	return nil
}

func (r *applicationRepo) ListPayments(ctx context.Context, applicationID string) ([]*entity.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		r.db.rebind(`SELECT id, application_id, transaction_id, validation_id, amount, currency, payment_method, status, initiated_at, completed_at
			FROM payments WHERE application_id = ? ORDER BY initiated_at`),
		applicationID)
	if err != nil {
		r.log.Error("payment list failed", "application_id", applicationID, "error", err)
		return nil, common.WrapError(err, "list payments")
	}
	defer rows.Close()

	var payments []*entity.Payment
	for rows.Next() {
		var p entity.Payment
		var validationID, method sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&p.ID, &p.ApplicationID, &p.TransactionID, &validationID,
			&p.Amount, &p.Currency, &method, &p.Status, &p.InitiatedAt, &completed); err != nil {
			return nil, common.WrapError(err, "scan payment")
		}
		p.ValidationID = validationID.String
		p.Method = method.String
		if completed.Valid {
			t := completed.Time
			p.CompletedAt = &t
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

func (r *applicationRepo) ListDocuments(ctx context.Context, applicationID string) ([]*entity.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		r.db.rebind(`SELECT id, application_id, document_type, file_path, created_at FROM application_documents WHERE application_id = ? ORDER BY created_at`),
		applicationID)
	if err != nil {
		r.log.Error("document list failed", "application_id", applicationID, "error", err)
		return nil, common.WrapError(err, "list documents")
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		var d entity.Document
		var docType string
		if err := rows.Scan(&d.ID, &d.ApplicationID, &docType, &d.FilePath, &d.CreatedAt); err != nil {
			return nil, common.WrapError(err, "scan document")
		}
		d.Type = constants.DocumentType(docType)
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
