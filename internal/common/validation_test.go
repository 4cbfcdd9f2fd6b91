package common

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorCollectsErrors(t *testing.T) {
	v := NewValidator()
	v.Field("first_name", "", Required)
	v.Field("mobile_number", "12345", MobileNumber)
	v.Field("otp", "12ab", OTPCode)

	assert.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 3)

	err := v.Error()
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "first_name")
	assert.Contains(t, err.Error(), "mobile_number")
}

func TestValidatorPasses(t *testing.T) {
	v := NewValidator()
	v.Field("first_name", "Rahim", Required, Max(100))
	v.Field("mobile_number", "01712345678", MobileNumber)
	v.Field("otp", "123456", OTPCode)
	v.Field("job_id", "6a2f4c0e-9f3b-4f6e-8a3c-0d1e2f3a4b5c", UUID)

	assert.False(t, v.HasErrors())
	assert.NoError(t, v.Error())
}

func TestMaxRule(t *testing.T) {
	v := NewValidator()
	v.Field("name", strings.Repeat("x", 101), Max(100))
	assert.True(t, v.HasErrors())
}

func TestUploadPathRule(t *testing.T) {
	v := NewValidator()
	v.Field("photo_path", "", UploadPath)
	v.Field("photo_path", "/uploads/photos/me.jpg", UploadPath)
	v.Field("signature_path", "/uploads/photos/sig.PNG", UploadPath)
	assert.False(t, v.HasErrors())

	v = NewValidator()
	v.Field("photo_path", "/uploads/photos/me.pdf", UploadPath)
	assert.True(t, v.HasErrors())
}

func TestApplicationIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewApplicationID("university"), "DU-"))
	assert.True(t, strings.HasPrefix(NewApplicationID("faculty"), "BUP-"))
	assert.True(t, strings.HasPrefix(NewTransactionID(), "TXN-"))
}

func TestAppErrorUnwraps(t *testing.T) {
	err := NewAppError("DB_ERROR", "query failed", ErrDatabase)
	assert.ErrorIs(t, err, ErrDatabase)
	assert.Contains(t, err.Error(), "query failed")

	wrapped := WrapError(ErrNotFound, "loading application")
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}
