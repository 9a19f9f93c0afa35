package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/jobs"
)

const (
	jobSendConfirmation = "send_confirmation"

	whatsAppGreeting = "Здравствуйте! Я оставил(а) заявку через AvtoMat."
	timeSlotLayout   = "02.01.2006 15:04"
)

// Messenger delivers chat messages to students.
type Messenger interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
}

type applicationDetailReader interface {
	FindDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error)
}

// NotificationConfig tunes the delivery queue.
type NotificationConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Location   *time.Location
	Logger     *zap.Logger
}

// NotificationService composes and delivers application confirmations.
type NotificationService struct {
	apps        applicationDetailReader
	schools     schoolReader
	instructors instructorReader
	messenger   Messenger
	metrics     *MetricsService
	location    *time.Location
	logger      *zap.Logger
	queue       *jobs.Queue
}

// NewNotificationService constructs a NotificationService. Dispatch requires Start.
func NewNotificationService(apps applicationDetailReader, schools schoolReader, instructors instructorReader, messenger Messenger, metrics *MetricsService, cfg NotificationConfig) *NotificationService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &NotificationService{
		apps:        apps,
		schools:     schools,
		instructors: instructors,
		messenger:   messenger,
		metrics:     metrics,
		location:    cfg.Location,
		logger:      cfg.Logger,
	}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		BufferSize: 128,
		Logger:     cfg.Logger,
	})
	return s
}

// Start launches delivery workers.
func (s *NotificationService) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop drains delivery workers.
func (s *NotificationService) Stop() { s.queue.Stop() }

// Dispatch schedules a confirmation for applicationID. Failures are logged only.
func (s *NotificationService) Dispatch(applicationID int64) {
	job := jobs.Job{ID: fmt.Sprintf("%s:%d", jobSendConfirmation, applicationID), Type: jobSendConfirmation, Payload: applicationID}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("confirmation not scheduled", zap.Int64("application_id", applicationID), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(int64)
	if !ok {
		s.logger.Error("bad notification payload", zap.String("job", job.ID))
		return nil
	}
	err := s.Send(ctx, id)
	if appErrors.Is(err, appErrors.ErrNotFound) {
		// nothing to retry
		s.logger.Warn("confirmation dropped", zap.Int64("application_id", id), zap.Error(err))
		return nil
	}
	return err
}

// Send composes and delivers the confirmation of one application synchronously.
func (s *NotificationService) Send(ctx context.Context, applicationID int64) error {
	detail, err := s.apps.FindDetail(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if detail.StudentChatID == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "student has no telegram chat")
	}

	msg, err := s.Compose(ctx, detail)
	if err != nil {
		return err
	}
	msg.ChatID = *detail.StudentChatID

	if err := s.messenger.Send(ctx, msg); err != nil {
		s.metrics.RecordNotification(false)
		s.logger.Warn("confirmation delivery failed", zap.Int64("application_id", applicationID), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrDeliveryFailed.Code, appErrors.ErrDeliveryFailed.Status, "failed to deliver confirmation")
	}
	s.metrics.RecordNotification(true)
	return nil
}

// Compose renders the HTML confirmation and optional WhatsApp button for an application.
func (s *NotificationService) Compose(ctx context.Context, detail *models.ApplicationDetail) (models.OutboundMessage, error) {
	target, err := detail.Target()
	if err != nil {
		return models.OutboundMessage{}, appErrors.Clone(appErrors.ErrTargetAmbiguous, err.Error())
	}

	var (
		text  string
		phone string
	)
	switch t := target.(type) {
	case models.SchoolTarget:
		school, err := s.schools.FindActiveByID(ctx, t.SchoolID)
		if err != nil {
			return models.OutboundMessage{}, notFoundOrInternal(err, "school")
		}
		text = schoolConfirmation(detail, school)
		phone = school.ContactPhone()
	case models.InstructorTarget:
		instructor, err := s.instructors.FindActiveByID(ctx, t.InstructorID)
		if err != nil {
			return models.OutboundMessage{}, notFoundOrInternal(err, "instructor")
		}
		text = instructorConfirmation(detail, instructor, s.location)
		phone = instructor.Phone
	}

	msg := models.OutboundMessage{Text: text, HTML: true}
	if link := whatsAppLink(phone, whatsAppGreeting); link != "" {
		msg.Buttons = [][]models.Button{{{Label: "💬 Написать в WhatsApp", URL: link}}}
	}
	return msg, nil
}

func schoolConfirmation(detail *models.ApplicationDetail, school *models.School) string {
	format := models.Format(detail.Format)
	var b strings.Builder
	b.WriteString("✅ <b>Спасибо за заявку!</b>\n\n")
	fmt.Fprintf(&b, "🏫 <b>Автошкола:</b> %s\n", html.EscapeString(school.Name))
	fmt.Fprintf(&b, "📍 <b>Адрес:</b> %s\n", html.EscapeString(school.Address))
	fmt.Fprintf(&b, "🏙 <b>Город:</b> %s\n", html.EscapeString(detail.CityName))
	fmt.Fprintf(&b, "🚗 <b>Категория:</b> %s\n", html.EscapeString(detail.Category))
	fmt.Fprintf(&b, "📚 <b>Формат:</b> %s\n", html.EscapeString(format.Label()))
	writePaymentLinks(&b, school.PaymentLinkKaspi, school.PaymentLinkHalyk)
	b.WriteString("\nАвтошкола свяжется с вами в ближайшее время!")
	return b.String()
}

func instructorConfirmation(detail *models.ApplicationDetail, instructor *models.Instructor, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("✅ <b>Спасибо за заявку!</b>\n\n")
	fmt.Fprintf(&b, "👨‍🏫 <b>Инструктор:</b> %s\n", html.EscapeString(instructor.Name))
	fmt.Fprintf(&b, "🏙 <b>Город:</b> %s\n", html.EscapeString(detail.CityName))
	fmt.Fprintf(&b, "🚗 <b>Тип авто:</b> %s\n", instructor.AutoType.Label())
	if detail.TimeSlot != nil {
		fmt.Fprintf(&b, "\n📅 <b>Время:</b> %s\n", detail.TimeSlot.In(loc).Format(timeSlotLayout))
	}
	writePaymentLinks(&b, instructor.PaymentLinkKaspi, instructor.PaymentLinkHalyk)
	b.WriteString("\nИнструктор свяжется с вами в ближайшее время!")
	return b.String()
}

func writePaymentLinks(b *strings.Builder, kaspi, halyk string) {
	if kaspi != "" {
		fmt.Fprintf(b, "\n💳 <b>Оплата Kaspi:</b> %s\n", html.EscapeString(kaspi))
	}
	if halyk != "" {
		fmt.Fprintf(b, "💳 <b>Оплата HalykPay:</b> %s\n", html.EscapeString(halyk))
	}
}

// whatsAppLink builds a wa.me deep link, or "" when phone has no digits.
func whatsAppLink(phone, text string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	return "https://wa.me/" + digits + "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

func notFoundOrInternal(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+what)
}
