package bot

import (
	"strings"
	"time"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

// ActionKind discriminates inbound user actions.
type ActionKind int

const (
	ActionText ActionKind = iota + 1
	ActionButton
	ActionContact
)

func (k ActionKind) String() string {
	switch k {
	case ActionText:
		return "text"
	case ActionButton:
		return "button"
	case ActionContact:
		return "contact"
	default:
		return "unknown"
	}
}

// Action is one inbound user action tagged with the conversation identity.
type Action struct {
	ID       string
	UserID   int64
	ChatID   int64
	Username string
	Kind     ActionKind
	// Text is set for ActionText.
	Text string
	// Data is the button payload for ActionButton; CallbackID identifies the press.
	Data       string
	CallbackID string
	// Phone is the shared number for ActionContact.
	Phone      string
	ReceivedAt time.Time
}

// SelectionKind is the kind of choice a button encodes.
type SelectionKind int

const (
	SelectFlow SelectionKind = iota + 1
	SelectCertificate
	SelectCity
	SelectCategory
	SelectFormat
	SelectAutoType
	SelectSchool
	SelectInstructor
	SelectNav
)

var selectionPrefixes = map[SelectionKind]string{
	SelectFlow:        "flow",
	SelectCertificate: "cert",
	SelectCity:        "city",
	SelectCategory:    "category",
	SelectFormat:      "format",
	SelectAutoType:    "auto",
	SelectSchool:      "school",
	SelectInstructor:  "instructor",
	SelectNav:         "nav",
}

func (k SelectionKind) String() string { return selectionPrefixes[k] }

// Selection is a decoded button payload such as "city:Almaty".
type Selection struct {
	Kind  SelectionKind
	Value string
}

// ParseSelection decodes a button payload.
func ParseSelection(data string) (Selection, bool) {
	prefix, value, ok := strings.Cut(data, ":")
	if !ok || value == "" {
		return Selection{}, false
	}
	for kind, p := range selectionPrefixes {
		if p == prefix {
			return Selection{Kind: kind, Value: value}, true
		}
	}
	return Selection{}, false
}

// Data encodes the selection as a button payload.
func (s Selection) Data() string {
	return selectionPrefixes[s.Kind] + ":" + s.Value
}

func selection(kind SelectionKind, value string) string {
	return Selection{Kind: kind, Value: value}.Data()
}

// Outcome is the engine's reply to one action.
type Outcome struct {
	Messages []models.OutboundMessage
	// Alert answers the button press that triggered the action, if any.
	Alert *models.Alert
	State State
}

func (o *Outcome) say(chatID int64, text string, buttons [][]models.Button) {
	o.Messages = append(o.Messages, models.OutboundMessage{ChatID: chatID, Text: text, Buttons: buttons})
}

func (o *Outcome) alert(a Action, text string) {
	if a.CallbackID == "" {
		return
	}
	o.Alert = &models.Alert{CallbackID: a.CallbackID, Text: text}
}
