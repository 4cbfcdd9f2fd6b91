package pipeline

import (
	"context"
	"strconv"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/entity"
)

// BuildFaculty assembles the BUP-style flow: a sectioned form filled piece
// by piece, optional photo/signature uploads, a CAPTCHA suspension before
// the final submit, then the payment suspension and document download.
func BuildFaculty(app *entity.Application) Pipeline {
	stages := []Stage{
		{
			Name:    "navigation",
			Status:  constants.JobStatusRunning,
			Message: "Loading admission page...",
			Run: func(ctx context.Context, env *Env) Outcome {
				if res := env.Session.Navigate(ctx, "admission"); !res.OK {
					return failure("navigation", res)
				}
				return Complete()
			},
		},
		{
			Name:    "faculty_selection",
			Status:  constants.JobStatusRunning,
			Message: "Selecting faculty: " + app.Faculty,
			Run: func(ctx context.Context, env *Env) Outcome {
				data := map[string]string{"faculty": env.App.Faculty}
				if res := env.Session.FillSection(ctx, "faculty", data); !res.OK {
					return failure("faculty selection", res)
				}
				return Complete()
			},
		},
		{
			Name:    "education_type",
			Status:  constants.JobStatusRunning,
			Message: "Selecting SSC/HSC education type...",
			Run: func(ctx context.Context, env *Env) Outcome {
				data := map[string]string{"education_type": "SSC/HSC"}
				if res := env.Session.FillSection(ctx, "education_type", data); !res.OK {
					return failure("education type selection", res)
				}
				return Complete()
			},
		},
		{
			Name:    "ssc_info",
			Status:  constants.JobStatusRunning,
			Message: "Filling SSC examination details...",
			Run: func(ctx context.Context, env *Env) Outcome {
				data := map[string]string{
					"ssc_roll":         env.App.SSCRoll,
					"ssc_registration": env.App.SSCRegistration,
					"ssc_passing_year": strconv.Itoa(env.App.SSCYear),
					"ssc_board":        env.App.SSCBoard,
				}
				if res := env.Session.FillSection(ctx, "ssc_information", data); !res.OK {
					return failure("ssc information", res)
				}
				return Complete()
			},
		},
		{
			Name:    "hsc_info",
			Status:  constants.JobStatusRunning,
			Message: "Filling HSC examination details...",
			Run: func(ctx context.Context, env *Env) Outcome {
				data := map[string]string{
					"hsc_roll":         env.App.HSCRoll,
					"hsc_registration": env.App.HSCRegistration,
					"hsc_passing_year": strconv.Itoa(env.App.HSCYear),
					"hsc_board":        env.App.HSCBoard,
				}
				if res := env.Session.FillSection(ctx, "hsc_information", data); !res.OK {
					return failure("hsc information", res)
				}
				return Complete()
			},
		},
		{
			Name:    "personal_info",
			Status:  constants.JobStatusRunning,
			Message: "Filling personal details...",
			Run: func(ctx context.Context, env *Env) Outcome {
				data := map[string]string{
					"candidate_name": env.App.FirstName + " " + env.App.LastName,
					"father_name":    env.App.FatherName,
					"mother_name":    env.App.MotherName,
					"date_of_birth":  env.App.DateOfBirth,
					"gender":         env.App.Gender,
					"mobile_number":  env.App.MobileNumber,
					"email":          env.App.Email,
				}
				if res := env.Session.FillSection(ctx, "personal_information", data); !res.OK {
					return failure("personal information", res)
				}
				return Complete()
			},
		},
		{
			Name:    "present_address",
			Status:  constants.JobStatusRunning,
			Message: "Filling present address...",
			Run: func(ctx context.Context, env *Env) Outcome {
				data := map[string]string{
					"address":     env.App.PresentAddress,
					"city":        env.App.City,
					"district":    env.App.District,
					"postal_code": env.App.PostalCode,
				}
				if res := env.Session.FillSection(ctx, "present_address", data); !res.OK {
					return failure("present address", res)
				}
				return Complete()
			},
		},
		{
			Name:    "permanent_address",
			Status:  constants.JobStatusRunning,
			Message: "Filling permanent address...",
			Run: func(ctx context.Context, env *Env) Outcome {
				addr := env.App.PermanentAddress
				if addr == "" {
					addr = env.App.PresentAddress
				}
				data := map[string]string{"address": addr}
				if res := env.Session.FillSection(ctx, "permanent_address", data); !res.OK {
					return failure("permanent address", res)
				}
				return Complete()
			},
		},
	}

	if app.PhotoPath != "" {
		stages = append(stages, Stage{
			Name:     "photo_upload",
			Status:   constants.JobStatusRunning,
			Message:  "Uploading candidate photo...",
			Optional: true,
			Run: func(ctx context.Context, env *Env) Outcome {
				if res := env.Session.Upload(ctx, "photo", env.App.PhotoPath); !res.OK {
					return failure("photo upload", res)
				}
				return Complete()
			},
		})
	}
	if app.SignaturePath != "" {
		stages = append(stages, Stage{
			Name:     "signature_upload",
			Status:   constants.JobStatusRunning,
			Message:  "Uploading candidate signature...",
			Optional: true,
			Run: func(ctx context.Context, env *Env) Outcome {
				if res := env.Session.Upload(ctx, "signature", env.App.SignaturePath); !res.OK {
					return failure("signature upload", res)
				}
				return Complete()
			},
		})
	}

	stages = append(stages,
		Stage{
			Name:    "captcha_wait",
			Status:  constants.JobStatusCaptchaRequired,
			Message: "Waiting for CAPTCHA solution...",
			Run: func(ctx context.Context, env *Env) Outcome {
				return Suspend(constants.SuspendCaptcha, "A CAPTCHA is blocking submission. Enter the characters shown on the admission page to continue.")
			},
			ResumeMessage: "Applying CAPTCHA solution...",
			Resume: func(ctx context.Context, env *Env, input string) Outcome {
				if res := env.Session.FillSection(ctx, "captcha", map[string]string{"solution": input}); !res.OK {
					return failure("captcha entry", res)
				}
				res := env.Session.WaitHumanGate(ctx, "captcha", gateSettle)
				if res.TimedOut {
					return Fail("captcha validation timed out on the admission site")
				}
				if !res.OK {
					return failure("captcha validation", res)
				}
				return Complete()
			},
		},
		Stage{
			Name:    "submission",
			Status:  constants.JobStatusRunning,
			Message: "Submitting application form...",
			Run: func(ctx context.Context, env *Env) Outcome {
				if res := env.Session.Submit(ctx); !res.OK {
					return failure("application submission", res)
				}
				if env.App.PaymentAmount > 0 {
					if err := env.Apps.SetPaymentAmount(ctx, env.App.ID, env.App.PaymentAmount); err != nil {
						return Fail("saving payment amount: " + err.Error())
					}
				}
				return Complete()
			},
		},
		Stage{
			Name:    "payment_wait",
			Status:  constants.JobStatusPaymentPending,
			Message: "Waiting for payment...",
			Run: func(ctx context.Context, env *Env) Outcome {
				return Suspend(constants.SuspendPayment, "Application submitted. Please complete the payment to continue.")
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
			{item: "admission_slip", docType: constants.DocumentAdmissionSlip},
			{item: "receipt", docType: constants.DocumentReceipt},
		}),
	)

	return Pipeline{Flow: constants.FlowFaculty, Stages: stages}
}
