package models

// Button is one inline keyboard button. Exactly one of Data or URL is set.
type Button struct {
	Label string
	Data  string
	URL   string
}

// OutboundMessage is a transport-neutral chat message.
type OutboundMessage struct {
	ChatID int64
	Text   string
	HTML   bool
	// Buttons are rendered as an inline keyboard, one slice per row.
	Buttons [][]Button
	// RequestContact shows a reply keyboard asking the user to share their phone.
	RequestContact bool
	// RemoveKeyboard hides a previously shown reply keyboard.
	RemoveKeyboard bool
}

// Alert is a short popup answer to a button press.
type Alert struct {
	CallbackID string
	Text       string
}
