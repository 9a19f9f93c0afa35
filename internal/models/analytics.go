package models

import (
	"encoding/json"
	"time"
)

// EventKind classifies an analytics event.
type EventKind string

const (
	EventButtonClick        EventKind = "button_click"
	EventStepCompleted      EventKind = "step_completed"
	EventReturn             EventKind = "return"
	EventApplicationCreated EventKind = "application_created"
)

// AnalyticsEvent is an append-only record of one user action.
type AnalyticsEvent struct {
	ID            int64           `db:"id" json:"id"`
	UserID        int64           `db:"user_id" json:"user_id"`
	Kind          EventKind       `db:"event_type" json:"event_type"`
	StepName      string          `db:"step_name" json:"step_name"`
	Payload       json.RawMessage `db:"event_data" json:"event_data"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	SincePrevious *float64        `db:"time_since_last" json:"time_since_last,omitempty"`
}

// TrustIndex is the derived reputation score of one school.
type TrustIndex struct {
	SchoolID           int64     `db:"school_id" json:"school_id"`
	AvgResponseHours   float64   `db:"avg_response_time" json:"avg_response_time"`
	ConfirmationRate   float64   `db:"confirmation_rate" json:"confirmation_rate"`
	PaymentRate        float64   `db:"payment_rate" json:"payment_rate"`
	CompletionRate     float64   `db:"completion_rate" json:"completion_rate"`
	AvgProcessingDelay float64   `db:"avg_processing_delay" json:"avg_processing_delay"`
	Value              float64   `db:"index_value" json:"index_value"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// TrustLeader is a leaderboard row.
type TrustLeader struct {
	SchoolID   int64   `db:"school_id" json:"school_id"`
	SchoolName string  `db:"school_name" json:"school_name"`
	CityName   string  `db:"city_name" json:"city_name"`
	Value      float64 `db:"index_value" json:"index_value"`
}

// DisciplineIndex is the derived behaviour score of one student.
type DisciplineIndex struct {
	UserID        int64     `db:"user_id" json:"user_id"`
	AvgStepTime   float64   `db:"avg_step_time" json:"avg_step_time"`
	ReturnCount   int       `db:"return_count" json:"return_count"`
	ReactionDelay float64   `db:"reaction_delay" json:"reaction_delay"`
	TotalClicks   int       `db:"total_clicks" json:"total_clicks"`
	Value         float64   `db:"index_value" json:"index_value"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// DashboardStats summarises applications visible to a staff identity.
type DashboardStats struct {
	Total       int                       `json:"total"`
	ByStatus    map[ApplicationStatus]int `json:"by_status"`
	TrustIndex  *float64                  `json:"trust_index,omitempty"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// StatusCount is one row of a grouped status count query.
type StatusCount struct {
	Status ApplicationStatus `db:"status"`
	Count  int               `db:"count"`
}
