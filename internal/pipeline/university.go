package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/entity"
)

// gateSettle bounds the page-side wait after a human gate input is applied.
// The long wait for the human happens in the registry, not here.
const gateSettle = 30 * time.Second

// BuildUniversity assembles the DU-style flow: login with board credentials,
// one large form, submit (which reveals the SMS code), an OTP suspension,
// then a payment suspension self, then document download.
func BuildUniversity(app *entity.Application) Pipeline {
	stages := []Stage{
		{
			Name:    "login",
			Status:  constants.JobStatusRunning,
			Message: "Logging in to the admission portal...",
			Run: func(ctx context.Context, env *Env) Outcome {
				if res := env.Session.Navigate(ctx, "login"); !res.OK {
					return failure("login navigation", res)
				}
				creds := map[string]string{
					"hsc_roll":  env.App.HSCRoll,
					"hsc_board": env.App.HSCBoard,
					"ssc_roll":  env.App.SSCRoll,
				}
				if res := env.Session.FillSection(ctx, "login", creds); !res.OK {
					return failure("login", res)
				}
				return Complete()
			},
		},
		{
			Name:    "form_fill",
			Status:  constants.JobStatusRunning,
			Message: "Filling application form...",
			Run: func(ctx context.Context, env *Env) Outcome {
				form := map[string]string{
					"first_name":      env.App.FirstName,
					"last_name":       env.App.LastName,
					"father_name":     env.App.FatherName,
					"mother_name":     env.App.MotherName,
					"email":           env.App.Email,
					"mobile_number":   env.App.MobileNumber,
					"present_address": env.App.PresentAddress,
					"city":            env.App.City,
					"quota":           env.App.Quota,
					"exam_center":     env.App.ExamCenter,
				}
				if res := env.Session.FillSection(ctx, "application_form", form); !res.OK {
					return failure("form fill", res)
				}
				return Complete()
			},
		},
	}

	if app.PhotoPath != "" {
		stages = append(stages, Stage{
			Name:     "photo_upload",
			Status:   constants.JobStatusRunning,
			Message:  "Uploading photo...",
			Optional: true,
			Run: func(ctx context.Context, env *Env) Outcome {
				if res := env.Session.Upload(ctx, "photo", env.App.PhotoPath); !res.OK {
					return failure("photo upload", res)
				}
				return Complete()
			},
		})
	}

	stages = append(stages,
		Stage{
			Name:    "submitting",
			Status:  constants.JobStatusRunning,
			Message: "Submitting application form...",
			Run: func(ctx context.Context, env *Env) Outcome {
				if res := env.Session.Submit(ctx); !res.OK {
					return failure("form submit", res)
				}
				code, err := env.Session.ExtractCode(ctx)
				if err != nil {
					return Fail("sms code extraction: " + err.Error())
				}
				if code != "" {
					if err := env.Apps.SetSMSCode(ctx, env.App.ID, code); err != nil {
						return Fail("saving sms code: " + err.Error())
					}
					env.App.SMSCode = code
					env.Logger.Info("runner.sms_code.extracted", "application_id", env.App.ID)
				}
				return Complete()
			},
		},
		Stage{
			Name:    "otp_wait",
			Status:  constants.JobStatusOTPRequired,
			Message: "Waiting for OTP...",
			Run: func(ctx context.Context, env *Env) Outcome {
				msg := "Check the admission page for the SMS code, text it to 16321, then enter the OTP here to continue."
				if env.App.SMSCode != "" {
					msg = fmt.Sprintf("SMS Code: %s. Text this code to 16321 from your mobile to receive the OTP, then enter the OTP here to continue.", env.App.SMSCode)
				}
				return Suspend(constants.SuspendOTP, msg)
			},
			ResumeMessage: "Verifying OTP...",
			Resume: func(ctx context.Context, env *Env, input string) Outcome {
				if res := env.Session.FillSection(ctx, "otp", map[string]string{"code": input}); !res.OK {
					return failure("otp entry", res)
				}
				if res := env.Session.Submit(ctx); !res.OK {
					return failure("otp verification", res)
				}
				return Complete()
			},
		},
		Stage{
			Name:    "payment_wait",
			Status:  constants.JobStatusPaymentPending,
			Message: "Waiting for payment...",
			Run: func(ctx context.Context, env *Env) Outcome {
				return Suspend(constants.SuspendPayment, "OTP verified. Please complete the payment to continue.")
			},
			ResumeMessage: "Confirming payment...",
			Resume: func(ctx context.Context, env *Env, input string) Outcome {
				res := env.Session.WaitHumanGate(ctx, "payment", gateSettle)
				if res.TimedOut {
					return Fail("payment confirmation timed out on the admission site")
				}
				if !res.OK {
					return failure("payment confirmation", res)
				}
				return Complete()
			},
		},
		downloadStage([]downloadItem{
			{item: "receipt", docType: constants.DocumentReceipt},
			{item: "admit_card", docType: constants.DocumentAdmitCard},
		}),
	)

	return Pipeline{Flow: constants.FlowUniversity, Stages: stages}
}

type downloadItem struct {
	item    string
	docType constants.DocumentType
}

// downloadStage fetches result documents. It is optional in every flow:
// the application is already submitted and paid for, so a download failure
// degrades the job to completed_partial instead of failing it.
func downloadStage(items []downloadItem) Stage {
	return Stage{
		Name:     "downloading",
		Status:   constants.JobStatusDownloading,
		Message:  "Downloading result documents...",
		Optional: true,
		Run: func(ctx context.Context, env *Env) Outcome {
			for _, it := range items {
				path, err := env.Session.Download(ctx, it.item)
				if err != nil {
					return Fail(fmt.Sprintf("download %s: %v", it.item, err))
				}
				if err := env.Apps.SaveDocument(ctx, env.App.ID, it.docType, path); err != nil {
					return Fail(fmt.Sprintf("save %s: %v", it.item, err))
				}
			}
			return Complete()
		},
	}
}
