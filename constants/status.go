package constants

// JobStatus is the canonical status for rows in automation_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending          JobStatus = "pending"           // job row created, runner not started
	JobStatusInitializing     JobStatus = "initializing"      // session being opened
	JobStatusRunning          JobStatus = "running"           // pipeline in progress
	JobStatusOTPRequired      JobStatus = "otp_required"      // suspended, waiting for OTP input
	JobStatusCaptchaRequired  JobStatus = "captcha_required"  // suspended, waiting for CAPTCHA solution
	JobStatusPaymentPending   JobStatus = "payment_pending"   // suspended, waiting for payment completion
	JobStatusDownloading      JobStatus = "downloading"       // fetching result documents
	JobStatusCompleted        JobStatus = "completed"         // terminal success
	JobStatusCompletedPartial JobStatus = "completed_partial" // terminal success, a non-critical stage failed
	JobStatusFailed           JobStatus = "failed"            // terminal failure
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedPartial, JobStatusFailed:
		return true
	}
	return false
}

// Suspended reports whether the status marks a parked pipeline awaiting
// human-supplied input.
func (s JobStatus) Suspended() bool {
	switch s {
	case JobStatusOTPRequired, JobStatusCaptchaRequired, JobStatusPaymentPending:
		return true
	}
	return false
}

// SuspensionKind names the human input a parked pipeline is waiting for.
type SuspensionKind string

const (
	SuspendOTP     SuspensionKind = "otp"
	SuspendCaptcha SuspensionKind = "captcha"
	SuspendPayment SuspensionKind = "payment"
)

// Status maps a suspension kind to the job status persisted while parked.
func (k SuspensionKind) Status() JobStatus {
	switch k {
	case SuspendOTP:
		return JobStatusOTPRequired
	case SuspendCaptcha:
		return JobStatusCaptchaRequired
	case SuspendPayment:
		return JobStatusPaymentPending
	}
	return JobStatusFailed
}

// Valid reports whether k is one of the known suspension kinds.
func (k SuspensionKind) Valid() bool {
	switch k {
	case SuspendOTP, SuspendCaptcha, SuspendPayment:
		return true
	}
	return false
}
