// Package export produces XLSX summaries of applications and their latest
// automation outcome, for office-side record keeping.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/testpulse/admitflow/constants"
	"github.com/testpulse/admitflow/internal/common"
	"github.com/testpulse/admitflow/internal/repository"
)

// Service is a tiny façade over repositories that produces XLSX bytes for exports.
type Service struct {
	apps   repository.ApplicationRepository
	jobs   repository.JobRepository
	logger *slog.Logger
}

func NewService(apps repository.ApplicationRepository, jobs repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{apps: apps, jobs: jobs, logger: logger}
}

// ExportApplicationsXLSX returns an XLSX workbook (as bytes) with one row per
// application created inside the date window, annotated with the latest job
// status. A zero flow exports both flows.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all applications.
func (s *Service) ExportApplicationsXLSX(ctx context.Context, flow constants.Flow, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		// Inclusive upper bound: anything created before the next midnight.
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		toDate = &t
	}

	apps, err := s.apps.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Applications"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Application ID",
		"Flow",
		"Applicant",
		"Mobile",
		"HSC Roll",
		"Faculty/Unit",
		"Payment Status",
		"Amount",
		"Job Status",
		"Current Stage",
		"Created",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	exported := 0
	for _, app := range apps {
		if flow != "" && app.Flow != flow {
			continue
		}
		if fromDate != nil && app.CreatedAt.Before(*fromDate) {
			continue
		}
		if toDate != nil && !app.CreatedAt.Before(*toDate) {
			continue
		}

		jobStatus := string(constants.JobStatusPending)
		currentStage := ""
		job, err := s.jobs.GetLatestByApplication(ctx, app.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("query latest job for %s: %w", app.ID, err)
		}
		if job != nil {
			jobStatus = string(job.Status)
			currentStage = job.CurrentStage
		}

		program := app.Faculty
		if program == "" {
			program = app.Unit
		}

		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, app.ID)
		write(2, string(app.Flow))
		write(3, app.FullName())
		write(4, app.MobileNumber)
		write(5, app.HSCRoll)
		write(6, program)
		write(7, app.PaymentStatus)
		write(8, app.PaymentAmount)
		write(9, jobStatus)
		write(10, currentStage)
		write(11, app.CreatedAt.UTC().Format("2006-01-02 15:04"))

		row++
		exported++
	}

	_ = f.SetColWidth(sheet, "A", "A", 28) // id
	_ = f.SetColWidth(sheet, "B", "B", 12) // flow
	_ = f.SetColWidth(sheet, "C", "C", 26) // applicant
	_ = f.SetColWidth(sheet, "D", "D", 14) // mobile
	_ = f.SetColWidth(sheet, "E", "F", 16) // roll, program
	_ = f.SetColWidth(sheet, "G", "H", 14) // payment
	_ = f.SetColWidth(sheet, "I", "J", 18) // job status, stage
	_ = f.SetColWidth(sheet, "K", "K", 18) // created

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"flow", string(flow),
		"rows", exported,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
