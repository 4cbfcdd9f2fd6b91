package entity

import (
	"time"

	"github.com/testpulse/admitflow/constants"
)

// Application is the durable admission record created by the apply endpoint.
// The orchestrator mostly reads it; pipeline stages write back the extracted
// SMS code, the negotiated payment amount, and the paths of downloaded
// documents.
type Application struct {
	ID   string         `json:"id"`
	Flow constants.Flow `json:"flow"`

	// Education credentials
	HSCRoll         string `json:"hsc_roll"`
	HSCBoard        string `json:"hsc_board"`
	HSCYear         int    `json:"hsc_year"`
	HSCRegistration string `json:"hsc_registration"`
	SSCRoll         string `json:"ssc_roll"`
	SSCBoard        string `json:"ssc_board"`
	SSCYear         int    `json:"ssc_year"`
	SSCRegistration string `json:"ssc_registration"`

	// Personal details
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	FatherName  string `json:"father_name"`
	MotherName  string `json:"mother_name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Gender      string `json:"gender,omitempty"`

	// Contact
	Email        string `json:"email"`
	MobileNumber string `json:"mobile_number"`

	// Address
	PresentAddress   string `json:"present_address"`
	PermanentAddress string `json:"permanent_address,omitempty"`
	City             string `json:"city"`
	District         string `json:"district,omitempty"`
	PostalCode       string `json:"postal_code,omitempty"`

	// Program selection
	Faculty    string `json:"faculty,omitempty"`
	Quota      string `json:"quota,omitempty"`
	ExamCenter string `json:"exam_center,omitempty"`
	Unit       string `json:"unit,omitempty"`

	// Uploaded assets
	PhotoPath     string `json:"photo_path,omitempty"`
	SignaturePath string `json:"signature_path,omitempty"`

	// Payment
	PaymentStatus string  `json:"payment_status"`
	PaymentAmount float64 `json:"payment_amount"`
	TransactionID string  `json:"transaction_id,omitempty"`

	// Written back by pipeline stages
	SMSCode       string `json:"sms_code,omitempty"`
	ReceiptPath   string `json:"receipt_path,omitempty"`
	AdmitCardPath string `json:"admit_card_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName joins the applicant's name parts for display and gateway use.
func (a *Application) FullName() string {
	if a.FirstName == "" {
		return a.LastName
	}
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// Document is one produced or uploaded file attached to an application.
type Document struct {
	ID            string                 `json:"id"`
	ApplicationID string                 `json:"application_id"`
	Type          constants.DocumentType `json:"type"`
	FilePath      string                 `json:"file_path"`
	CreatedAt     time.Time              `json:"created_at"`
}
