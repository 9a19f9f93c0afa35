package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/export"
)

// Export formats accepted by ExportService.
const (
	ExportCSV = "csv"
	ExportPDF = "pdf"
)

var applicationExportHeaders = []string{"ID", "Created", "Student", "Phone", "Target", "City", "Category", "Format", "Time", "Status"}

type applicationExportReader interface {
	ListAll(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered report ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders application reports for the staff panel.
type ExportService struct {
	apps     applicationExportReader
	csv      csvRenderer
	pdf      pdfRenderer
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the pkg/export defaults.
func NewExportService(apps applicationExportReader, csv csvRenderer, pdf pdfRenderer, location *time.Location, logger *zap.Logger) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("")
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{apps: apps, csv: csv, pdf: pdf, location: location, logger: logger, now: time.Now}
}

// Applications renders every application visible to who, optionally filtered by status.
func (s *ExportService) Applications(ctx context.Context, who models.StaffIdentity, status, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportCSV
	}
	if format != ExportCSV && format != ExportPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	filter := who.Scope()
	if status != "" {
		parsed, ok := models.ParseApplicationStatus(status)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
		}
		filter.Status = &parsed
	}

	items, err := s.apps.ListAll(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applications")
	}
	dataset := s.dataset(items)
	stamp := s.now().In(s.location).Format("20060102-1504")

	file := &ExportFile{Filename: fmt.Sprintf("applications-%s.%s", stamp, format)}
	switch format {
	case ExportPDF:
		file.ContentType = "application/pdf"
		file.Body, err = s.pdf.Render(dataset, "Applications "+stamp)
	default:
		file.ContentType = "text/csv; charset=utf-8"
		file.Body, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("applications exported", zap.Int64("user_id", who.UserID), zap.String("format", format), zap.Int("rows", len(items)))
	return file, nil
}

func (s *ExportService) dataset(items []models.ApplicationDetail) export.Dataset {
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		target := ""
		switch {
		case item.SchoolName != nil:
			target = *item.SchoolName
		case item.InstructorName != nil:
			target = *item.InstructorName
		}
		slot := ""
		if item.TimeSlot != nil {
			slot = item.TimeSlot.In(s.location).Format(timeSlotLayout)
		}
		rows = append(rows, map[string]string{
			"ID":       strconv.FormatInt(item.ID, 10),
			"Created":  item.CreatedAt.In(s.location).Format(timeSlotLayout),
			"Student":  item.StudentName,
			"Phone":    item.StudentPhone,
			"Target":   target,
			"City":     item.CityName,
			"Category": item.Category,
			"Format":   item.Format,
			"Time":     slot,
			"Status":   string(item.Status),
		})
	}
	return export.Dataset{Headers: applicationExportHeaders, Rows: rows}
}
