package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewApplicationID builds a human-readable application identifier,
// e.g. DU-20250901143000-a1b2c3d4.
func NewApplicationID(flow string) string {
	prefix := "DU"
	if flow == "faculty" {
		prefix = "BUP"
	}
	ts := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}

// NewTransactionID builds a payment transaction identifier.
func NewTransactionID() string {
	ts := time.Now().Format("20060102150405")
	return fmt.Sprintf("TXN-%s-%s", ts, uuid.NewString()[:6])
}
