package bot

import (
	"context"
	"strconv"
	"time"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

// SessionStore keeps the in-flight conversation context per key.
// Update merges fields into what is stored.
type SessionStore interface {
	Get(ctx context.Context, key string) (map[string]string, error)
	Update(ctx context.Context, key string, fields map[string]string) error
	Clear(ctx context.Context, key string) error
}

const (
	fieldState      = "state"
	fieldFlow       = "flow"
	fieldCity       = "city"
	fieldCategory   = "category"
	fieldFormat     = "format"
	fieldAutoType   = "auto_type"
	fieldSchool     = "school_id"
	fieldInstructor = "instructor_id"
	fieldTime       = "time_slot"
	fieldName       = "name"
	fieldPhone      = "phone"

	anyTime = "any"
)

// Session is the decoded conversation context of one user.
type Session struct {
	State        State
	Flow         Flow
	City         string
	Category     string
	Format       models.Format
	AutoType     models.AutoType
	SchoolID     int64
	InstructorID int64
	// TimeChosen is set once the time step was answered; TimeSlot stays nil for "any".
	TimeChosen bool
	TimeSlot   *time.Time
	Name       string
	Phone      string
}

func sessionKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// decodeSession tolerates garbage: unknown values decode to their zero value,
// which the engine then treats as missing data.
func decodeSession(fields map[string]string) Session {
	var s Session
	if state, ok := ParseState(fields[fieldState]); ok {
		s.State = state
	}
	if flow, ok := ParseFlow(fields[fieldFlow]); ok {
		s.Flow = flow
	}
	if !s.State.belongsTo(s.Flow) {
		s.State, s.Flow = StateIdle, FlowNone
	}
	s.City = fields[fieldCity]
	s.Category = fields[fieldCategory]
	if f, ok := models.ParseFormat(fields[fieldFormat]); ok {
		s.Format = f
	}
	if a := models.AutoType(fields[fieldAutoType]); a.Valid() {
		s.AutoType = a
	}
	s.SchoolID, _ = strconv.ParseInt(fields[fieldSchool], 10, 64)
	s.InstructorID, _ = strconv.ParseInt(fields[fieldInstructor], 10, 64)
	switch raw := fields[fieldTime]; raw {
	case "":
	case anyTime:
		s.TimeChosen = true
	default:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			s.TimeChosen = true
			s.TimeSlot = &t
		}
	}
	s.Name = fields[fieldName]
	s.Phone = fields[fieldPhone]
	return s
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return anyTime
	}
	return t.Format(time.RFC3339)
}

// target returns the chosen provider of a complete flow, or nil.
func (s Session) target() models.ApplicationTarget {
	switch s.Flow {
	case FlowSchool:
		if s.SchoolID > 0 {
			return models.SchoolTarget{SchoolID: s.SchoolID}
		}
	case FlowInstructor:
		if s.InstructorID > 0 {
			return models.InstructorTarget{InstructorID: s.InstructorID}
		}
	}
	return nil
}

// complete reports whether every field the current state presumes is present.
func (s Session) complete() bool {
	switch s.State {
	case StateIdle, StateWaitingOption, StateWaitingCity:
		return true
	case StateWaitingCategory, StateWaitingAutoType:
		return s.City != ""
	case StateWaitingFormat:
		return s.City != "" && s.Category != ""
	case StateWaitingSchool:
		return s.City != "" && s.Category != "" && s.Format != ""
	case StateWaitingInstructor:
		return s.City != "" && s.AutoType != ""
	case StateWaitingTime:
		return s.City != "" && s.AutoType != "" && s.InstructorID > 0
	case StateWaitingName:
		return s.providerChosen()
	case StateWaitingPhone:
		return s.providerChosen() && s.Name != ""
	default:
		return false
	}
}

func (s Session) providerChosen() bool {
	switch s.Flow {
	case FlowSchool:
		return s.City != "" && s.Category != "" && s.Format != "" && s.SchoolID > 0
	case FlowInstructor:
		return s.City != "" && s.AutoType != "" && s.InstructorID > 0 && s.TimeChosen
	default:
		return false
	}
}
