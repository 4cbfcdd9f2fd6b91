package constants

import "strings"

// DocumentType classifies rows in application_documents.
type DocumentType string

const (
	DocumentReceipt       DocumentType = "receipt"
	DocumentAdmitCard     DocumentType = "admit_card"
	DocumentAdmissionSlip DocumentType = "admission_slip"
)

// AllowedUploadExtensions holds the accepted extensions for photo and
// signature assets supplied with an application.
var AllowedUploadExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
