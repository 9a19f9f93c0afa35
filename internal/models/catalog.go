package models

import "time"

// AutoType is the transmission an instructor teaches on.
type AutoType string

const (
	AutoTypeAutomatic AutoType = "automatic"
	AutoTypeManual    AutoType = "manual"
)

// Label returns the display name shown to students.
func (a AutoType) Label() string {
	switch a {
	case AutoTypeAutomatic:
		return "Автомат"
	case AutoTypeManual:
		return "Механика"
	default:
		return string(a)
	}
}

// Valid reports whether a is a known auto type.
func (a AutoType) Valid() bool {
	return a == AutoTypeAutomatic || a == AutoTypeManual
}

// AutoTypes lists selectable auto types in display order.
var AutoTypes = []AutoType{AutoTypeAutomatic, AutoTypeManual}

// Format is the training format of a school course.
type Format string

const (
	FormatOnline  Format = "online"
	FormatOffline Format = "offline"
	FormatHybrid  Format = "hybrid"
)

// Formats lists selectable formats in display order.
var Formats = []Format{FormatOnline, FormatOffline, FormatHybrid}

// Label returns the display name shown to students.
func (f Format) Label() string {
	switch f {
	case FormatOnline:
		return "Онлайн"
	case FormatOffline:
		return "Оффлайн"
	case FormatHybrid:
		return "Гибрид"
	default:
		return string(f)
	}
}

// ParseFormat accepts either the storage key or its Russian label.
func ParseFormat(raw string) (Format, bool) {
	for _, f := range Formats {
		if raw == string(f) || raw == f.Label() {
			return f, true
		}
	}
	return "", false
}

// Categories lists licence categories a school can teach.
var Categories = []string{"A", "B", "BE", "C", "CE", "D", "DE", "A1", "C1", "D1"}

// ValidCategory reports whether c is a known licence category.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// City is a reference city; name is the natural key.
type City struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	NameRU string `db:"name_ru" json:"name_ru"`
	Active bool   `db:"active" json:"active"`
}

// School is a driving school listed in the bot.
type School struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	Name             string    `db:"name" json:"name"`
	CityID           int64     `db:"city_id" json:"city_id"`
	Address          string    `db:"address" json:"address"`
	Rating           float64   `db:"rating" json:"rating"`
	TrustIndex       float64   `db:"trust_index" json:"trust_index"`
	WhatsApp         string    `db:"whatsapp" json:"whatsapp"`
	TelegramContact  string    `db:"telegram_contact" json:"telegram_contact"`
	PaymentLinkKaspi string    `db:"payment_link_kaspi" json:"payment_link_kaspi,omitempty"`
	PaymentLinkHalyk string    `db:"payment_link_halyk" json:"payment_link_halyk,omitempty"`
	OwnerPhone       string    `db:"owner_phone" json:"-"`
	Active           bool      `db:"active" json:"active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ContactPhone returns the WhatsApp number, falling back to the owner's phone.
func (s *School) ContactPhone() string {
	if s.WhatsApp != "" {
		return s.WhatsApp
	}
	return s.OwnerPhone
}

// Instructor is an independent driving instructor.
type Instructor struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	Name             string    `db:"name" json:"name"`
	CityID           int64     `db:"city_id" json:"city_id"`
	AutoType         AutoType  `db:"auto_type" json:"auto_type"`
	Phone            string    `db:"phone" json:"phone"`
	Rating           float64   `db:"rating" json:"rating"`
	PaymentLinkKaspi string    `db:"payment_link_kaspi" json:"payment_link_kaspi,omitempty"`
	PaymentLinkHalyk string    `db:"payment_link_halyk" json:"payment_link_halyk,omitempty"`
	Schedule         string    `db:"schedule" json:"schedule,omitempty"`
	Active           bool      `db:"active" json:"active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// SchoolFilter scopes school catalog queries.
type SchoolFilter struct {
	CityID int64
}

// InstructorFilter scopes instructor catalog queries.
type InstructorFilter struct {
	CityID   int64
	AutoType AutoType
}
