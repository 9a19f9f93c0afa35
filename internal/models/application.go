package models

import (
	"errors"
	"time"
)

// ApplicationStatus is the lifecycle state of an application.
type ApplicationStatus string

const (
	StatusNew       ApplicationStatus = "new"
	StatusConfirmed ApplicationStatus = "confirmed"
	StatusPaid      ApplicationStatus = "paid"
	StatusCompleted ApplicationStatus = "completed"
	StatusCancelled ApplicationStatus = "cancelled"
)

// ApplicationStatuses lists every status token in lifecycle order.
var ApplicationStatuses = []ApplicationStatus{StatusNew, StatusConfirmed, StatusPaid, StatusCompleted, StatusCancelled}

// Statuses only move forward; skipping steps is allowed so staff can record a
// student who paid or finished on first contact.
var statusTransitions = map[ApplicationStatus][]ApplicationStatus{
	StatusNew:       {StatusConfirmed, StatusPaid, StatusCompleted, StatusCancelled},
	StatusConfirmed: {StatusPaid, StatusCompleted, StatusCancelled},
	StatusPaid:      {StatusCompleted, StatusCancelled},
}

// ParseApplicationStatus validates a raw status token.
func ParseApplicationStatus(raw string) (ApplicationStatus, bool) {
	for _, s := range ApplicationStatuses {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// Label returns the display name used in the staff panel.
func (s ApplicationStatus) Label() string {
	switch s {
	case StatusNew:
		return "Новая"
	case StatusConfirmed:
		return "Подтверждена"
	case StatusPaid:
		return "Оплачено"
	case StatusCompleted:
		return "Завершено"
	case StatusCancelled:
		return "Отменено"
	default:
		return string(s)
	}
}

// Terminal reports whether no further transitions are allowed.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether staff may move an application from s to next.
func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TargetKind discriminates application targets.
type TargetKind string

const (
	TargetSchool     TargetKind = "school"
	TargetInstructor TargetKind = "instructor"
)

// ApplicationTarget is either a SchoolTarget or an InstructorTarget.
type ApplicationTarget interface {
	Kind() TargetKind
	isApplicationTarget()
}

// SchoolTarget is an enrolment request at a driving school.
type SchoolTarget struct {
	SchoolID int64
}

// InstructorTarget is a lesson booking with an instructor.
type InstructorTarget struct {
	InstructorID int64
}

func (SchoolTarget) Kind() TargetKind         { return TargetSchool }
func (InstructorTarget) Kind() TargetKind     { return TargetInstructor }
func (SchoolTarget) isApplicationTarget()     {}
func (InstructorTarget) isApplicationTarget() {}

// ErrAmbiguousTarget is returned when an application references both or neither target.
var ErrAmbiguousTarget = errors.New("application must reference exactly one of school or instructor")

// Application is the durable record of a completed bot flow.
type Application struct {
	ID              int64             `db:"id" json:"id"`
	StudentID       int64             `db:"student_id" json:"student_id"`
	SchoolID        *int64            `db:"school_id" json:"school_id,omitempty"`
	InstructorID    *int64            `db:"instructor_id" json:"instructor_id,omitempty"`
	CityID          int64             `db:"city_id" json:"city_id"`
	Category        string            `db:"category" json:"category,omitempty"`
	Format          string            `db:"format" json:"format,omitempty"`
	TimeSlot        *time.Time        `db:"time_slot" json:"time_slot,omitempty"`
	Status          ApplicationStatus `db:"status" json:"status"`
	StudentName     string            `db:"student_name" json:"student_name"`
	StudentPhone    string            `db:"student_phone" json:"student_phone"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
	StatusChangedAt *time.Time        `db:"status_changed_at" json:"status_changed_at,omitempty"`
}

// Target decodes the nullable foreign keys into the tagged variant.
func (a *Application) Target() (ApplicationTarget, error) {
	switch {
	case a.SchoolID != nil && a.InstructorID == nil:
		return SchoolTarget{SchoolID: *a.SchoolID}, nil
	case a.InstructorID != nil && a.SchoolID == nil:
		return InstructorTarget{InstructorID: *a.InstructorID}, nil
	default:
		return nil, ErrAmbiguousTarget
	}
}

// SetTarget writes exactly one of the foreign keys.
func (a *Application) SetTarget(t ApplicationTarget) {
	a.SchoolID, a.InstructorID = nil, nil
	switch v := t.(type) {
	case SchoolTarget:
		id := v.SchoolID
		a.SchoolID = &id
	case InstructorTarget:
		id := v.InstructorID
		a.InstructorID = &id
	}
}

// ApplicationDetail joins display names for the staff panel and notifications.
type ApplicationDetail struct {
	Application
	CityName       string  `db:"city_name" json:"city_name"`
	SchoolName     *string `db:"school_name" json:"school_name,omitempty"`
	InstructorName *string `db:"instructor_name" json:"instructor_name,omitempty"`
	OwnerID        int64   `db:"owner_id" json:"-"`
	StudentChatID  *int64  `db:"student_telegram_id" json:"-"`
}

// ApplicationFilter scopes staff list queries.
type ApplicationFilter struct {
	OwnerID   int64
	AllOwners bool
	Status    *ApplicationStatus
	Page      int
	PageSize  int
}

// UpdateStatusRequest is the staff payload for a status change.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// Student identifies the bot user an application is created for.
type Student struct {
	TelegramID int64
	Username   string
}

// ApplicationDraft is the accumulated flow context handed to the factory.
type ApplicationDraft struct {
	Target   ApplicationTarget
	CityName string
	Category string
	Format   Format
	TimeSlot *time.Time
	Name     string
	Phone    string
}
