package models

import "time"

// WebAppUser is the Telegram user carried in verified Mini App init data.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Student returns the identity the application factory registers.
func (u WebAppUser) Student() Student {
	return Student{TelegramID: u.ID, Username: u.Username}
}

// TelegramAuthRequest carries the raw init data string of the Mini App.
type TelegramAuthRequest struct {
	InitData string `json:"init_data" validate:"required"`
}

// WebAppProfile is returned to the Mini App after authentication.
type WebAppProfile struct {
	UserID     int64  `json:"id"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name,omitempty"`
}

// WebAppApplicationRequest is an application submitted from the Mini App.
// Exactly one of SchoolID and InstructorID must be set.
type WebAppApplicationRequest struct {
	SchoolID      *int64     `json:"school_id" validate:"omitempty,gt=0"`
	InstructorID  *int64     `json:"instructor_id" validate:"omitempty,gt=0"`
	City          string     `json:"city" validate:"required"`
	Category      string     `json:"category"`
	Format        string     `json:"format"`
	PreferredTime *time.Time `json:"preferred_time"`
	Name          string     `json:"name" validate:"required,min=2,max=100"`
	Phone         string     `json:"phone" validate:"required,kzphone"`
}

// Target returns the tagged target, or ErrAmbiguousTarget unless exactly one id is set.
func (r WebAppApplicationRequest) Target() (ApplicationTarget, error) {
	switch {
	case r.SchoolID != nil && r.InstructorID == nil:
		return SchoolTarget{SchoolID: *r.SchoolID}, nil
	case r.InstructorID != nil && r.SchoolID == nil:
		return InstructorTarget{InstructorID: *r.InstructorID}, nil
	default:
		return nil, ErrAmbiguousTarget
	}
}
