package bot

// Flow is the conversation a student is in.
type Flow int

const (
	FlowNone Flow = iota
	FlowSchool
	FlowInstructor
	FlowCertificate
)

var flowNames = map[Flow]string{
	FlowNone:        "",
	FlowSchool:      "school",
	FlowInstructor:  "instructor",
	FlowCertificate: "certificate",
}

func (f Flow) String() string { return flowNames[f] }

// ParseFlow maps a stored flow name back to a Flow.
func ParseFlow(raw string) (Flow, bool) {
	for f, name := range flowNames {
		if name == raw {
			return f, true
		}
	}
	return FlowNone, false
}

// State is a step of a flow.
type State int

const (
	StateIdle State = iota
	StateWaitingOption
	StateWaitingCity
	StateWaitingCategory
	StateWaitingFormat
	StateWaitingSchool
	StateWaitingAutoType
	StateWaitingInstructor
	StateWaitingTime
	StateWaitingName
	StateWaitingPhone
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateWaitingOption:     "waiting_option",
	StateWaitingCity:       "waiting_city",
	StateWaitingCategory:   "waiting_category",
	StateWaitingFormat:     "waiting_format",
	StateWaitingSchool:     "waiting_school_selection",
	StateWaitingAutoType:   "waiting_auto_type",
	StateWaitingInstructor: "waiting_instructor_selection",
	StateWaitingTime:       "waiting_time",
	StateWaitingName:       "waiting_name",
	StateWaitingPhone:      "waiting_phone",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseState maps a stored state name back to a State.
func ParseState(raw string) (State, bool) {
	for s, name := range stateNames {
		if name == raw {
			return s, true
		}
	}
	return StateIdle, false
}

// expects reports whether a state is advanced by a selection of kind k.
func (s State) expects(k SelectionKind) bool {
	switch s {
	case StateWaitingOption:
		return k == SelectCertificate
	case StateWaitingCity:
		return k == SelectCity
	case StateWaitingCategory:
		return k == SelectCategory
	case StateWaitingFormat:
		return k == SelectFormat
	case StateWaitingSchool:
		return k == SelectSchool
	case StateWaitingAutoType:
		return k == SelectAutoType
	case StateWaitingInstructor:
		return k == SelectInstructor
	default:
		return false
	}
}

// takesText reports whether a state consumes free text.
func (s State) takesText() bool {
	return s == StateWaitingTime || s == StateWaitingName || s == StateWaitingPhone
}

// stateFlows lists the flows a state may belong to.
var stateFlows = map[State][]Flow{
	StateWaitingOption:     {FlowCertificate},
	StateWaitingCity:       {FlowSchool, FlowInstructor},
	StateWaitingCategory:   {FlowSchool},
	StateWaitingFormat:     {FlowSchool},
	StateWaitingSchool:     {FlowSchool},
	StateWaitingAutoType:   {FlowInstructor},
	StateWaitingInstructor: {FlowInstructor},
	StateWaitingTime:       {FlowInstructor},
	StateWaitingName:       {FlowSchool, FlowInstructor},
	StateWaitingPhone:      {FlowSchool, FlowInstructor},
}

func (s State) belongsTo(f Flow) bool {
	for _, allowed := range stateFlows[s] {
		if allowed == f {
			return true
		}
	}
	return false
}
