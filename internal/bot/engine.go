package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

// Catalog looks up the active reference data offered to students.
type Catalog interface {
	Cities(ctx context.Context) ([]models.City, error)
	City(ctx context.Context, name string) (*models.City, error)
	SchoolsInCity(ctx context.Context, cityName string) ([]models.School, error)
	InstructorsInCity(ctx context.Context, cityName string, autoType models.AutoType) ([]models.Instructor, error)
	School(ctx context.Context, id int64) (*models.School, error)
	Instructor(ctx context.Context, id int64) (*models.Instructor, error)
}

// Factory persists a completed flow as an application.
type Factory interface {
	Create(ctx context.Context, student models.Student, draft models.ApplicationDraft) (*models.Application, error)
}

// Students resolves bot users to stored student records.
type Students interface {
	GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username string) (*models.User, error)
}

// Tracker appends analytics events.
type Tracker interface {
	TrackEvent(ctx context.Context, userID int64, kind models.EventKind, step string, payload map[string]interface{}) (*models.AnalyticsEvent, error)
}

// Notifier schedules the confirmation message of a new application.
type Notifier interface {
	Dispatch(applicationID int64)
}

// Refresher schedules index recomputation.
type Refresher interface {
	RefreshTrust(schoolID int64)
	RefreshDiscipline(userID int64)
}

// Config tunes the engine.
type Config struct {
	MiniAppURL string
	ListLimit  int
	Location   *time.Location
}

// Dependencies groups the engine collaborators. Tracker, Notifier and Refresher are optional.
type Dependencies struct {
	Sessions  SessionStore
	Catalog   Catalog
	Factory   Factory
	Students  Students
	Tracker   Tracker
	Notifier  Notifier
	Refresher Refresher
	Logger    *zap.Logger
}

// Engine is the conversation state machine. It is safe for concurrent use as long as
// actions of one user are not handled concurrently, which Runner guarantees.
type Engine struct {
	deps Dependencies
	cfg  Config
	log  *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(deps Dependencies, cfg Config) *Engine {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{deps: deps, cfg: cfg, log: log}
}

// Handle processes one action. User mistakes are answered in the Outcome; a returned
// error means the action could not be handled and the session was left untouched.
func (e *Engine) Handle(ctx context.Context, a Action) (Outcome, error) {
	key := sessionKey(a.UserID)
	out := Outcome{}

	if a.Kind == ActionText && isMenuCommand(a.Text) {
		if err := e.deps.Sessions.Clear(ctx, key); err != nil {
			return out, fmt.Errorf("clear session: %w", err)
		}
		e.startMenu(&out, a)
		return out, nil
	}

	fields, err := e.deps.Sessions.Get(ctx, key)
	if err != nil {
		return out, fmt.Errorf("load session: %w", err)
	}
	sess := decodeSession(fields)
	out.State = sess.State

	var sel Selection
	if a.Kind == ActionButton {
		var ok bool
		if sel, ok = ParseSelection(a.Data); !ok {
			out.alert(a, textUnknown)
			return out, nil
		}
		// flow and navigation buttons work from any state
		switch sel.Kind {
		case SelectFlow:
			return e.enterFlow(ctx, a, sel)
		case SelectNav:
			e.track(ctx, a, models.EventReturn, "back_to_start", map[string]interface{}{"from": sess.State.String()})
			return e.reset(ctx, a, "")
		}
	}

	if !sess.complete() {
		return e.lost(ctx, a, sess)
	}

	switch a.Kind {
	case ActionButton:
		return e.onSelection(ctx, a, sess, sel)
	case ActionText:
		return e.onText(ctx, a, sess)
	case ActionContact:
		if sess.State != StateWaitingPhone {
			note := textUseKeys
			if sess.State.takesText() {
				// typed answer expected: repeat the question only
				note = ""
			}
			return e.reprompt(ctx, a, sess, note)
		}
		return e.finish(ctx, a, sess, contactPhone(a.Phone))
	default:
		return out, fmt.Errorf("unsupported action kind %d", a.Kind)
	}
}

func (e *Engine) onSelection(ctx context.Context, a Action, sess Session, sel Selection) (Outcome, error) {
	if sess.State == StateIdle {
		// a step button without any stored conversation: the session was lost
		return e.lost(ctx, a, sess)
	}
	if !sess.State.expects(sel.Kind) {
		out, err := e.reprompt(ctx, a, sess, "")
		out.alert(a, textStale)
		return out, err
	}

	e.track(ctx, a, models.EventButtonClick, sel.Kind.String(), map[string]interface{}{"value": sel.Value})

	switch sel.Kind {
	case SelectCertificate:
		return e.onCertificate(ctx, a, sel.Value)
	case SelectCity:
		return e.onCity(ctx, a, sess, sel.Value)
	case SelectCategory:
		if !models.ValidCategory(sel.Value) {
			return e.reprompt(ctx, a, sess, textGone)
		}
		return e.advance(ctx, a, sess, StateWaitingFormat, map[string]string{fieldCategory: sel.Value})
	case SelectFormat:
		format, ok := models.ParseFormat(sel.Value)
		if !ok {
			return e.reprompt(ctx, a, sess, textGone)
		}
		return e.advance(ctx, a, sess, StateWaitingSchool, map[string]string{fieldFormat: string(format)})
	case SelectAutoType:
		auto := models.AutoType(sel.Value)
		if !auto.Valid() {
			return e.reprompt(ctx, a, sess, textGone)
		}
		return e.advance(ctx, a, sess, StateWaitingInstructor, map[string]string{fieldAutoType: string(auto)})
	case SelectSchool:
		return e.onSchool(ctx, a, sess, sel.Value)
	case SelectInstructor:
		return e.onInstructor(ctx, a, sess, sel.Value)
	}
	out, err := e.reprompt(ctx, a, sess, "")
	out.alert(a, textUnknown)
	return out, err
}

func (e *Engine) enterFlow(ctx context.Context, a Action, sel Selection) (Outcome, error) {
	flow, ok := ParseFlow(sel.Value)
	if !ok || flow == FlowNone {
		out := Outcome{}
		out.alert(a, textUnknown)
		return out, nil
	}
	e.track(ctx, a, models.EventButtonClick, "flow", map[string]interface{}{"flow": flow.String()})
	if flow == FlowCertificate {
		return e.begin(ctx, a, flow, StateWaitingOption)
	}
	return e.begin(ctx, a, flow, StateWaitingCity)
}

func (e *Engine) onCertificate(ctx context.Context, a Action, option string) (Outcome, error) {
	switch option {
	case "practice":
		return e.begin(ctx, a, FlowInstructor, StateWaitingCity)
	case "full":
		return e.begin(ctx, a, FlowSchool, StateWaitingCity)
	case "tests":
		if err := e.deps.Sessions.Clear(ctx, sessionKey(a.UserID)); err != nil {
			return Outcome{}, fmt.Errorf("clear session: %w", err)
		}
		out := Outcome{State: StateIdle}
		out.say(a.ChatID, textTests, [][]models.Button{backRow()})
		out.alert(a, "")
		return out, nil
	default:
		out := Outcome{State: StateWaitingOption}
		out.say(a.ChatID, textChooseOption, certificateKeyboard())
		out.alert(a, textUnknown)
		return out, nil
	}
}

func (e *Engine) onCity(ctx context.Context, a Action, sess Session, name string) (Outcome, error) {
	if _, err := e.deps.Catalog.City(ctx, name); err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return e.reprompt(ctx, a, sess, textNoCity)
		}
		return Outcome{}, err
	}
	sess.City = name
	next := StateWaitingCategory
	if sess.Flow == FlowInstructor {
		next = StateWaitingAutoType
	}
	return e.advance(ctx, a, sess, next, map[string]string{fieldCity: name})
}

func (e *Engine) onSchool(ctx context.Context, a Action, sess Session, raw string) (Outcome, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return e.reprompt(ctx, a, sess, textGone)
	}
	if ok, err := e.schoolInCity(ctx, id, sess.City); err != nil {
		return Outcome{}, err
	} else if !ok {
		return e.reprompt(ctx, a, sess, textGone)
	}
	return e.advance(ctx, a, sess, StateWaitingName, map[string]string{fieldSchool: raw})
}

func (e *Engine) onInstructor(ctx context.Context, a Action, sess Session, raw string) (Outcome, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return e.reprompt(ctx, a, sess, textGone)
	}
	instructor, err := e.deps.Catalog.Instructor(ctx, id)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return e.reprompt(ctx, a, sess, textGone)
		}
		return Outcome{}, err
	}
	city, err := e.deps.Catalog.City(ctx, sess.City)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return e.reset(ctx, a, textLost)
		}
		return Outcome{}, err
	}
	if instructor.CityID != city.ID || instructor.AutoType != sess.AutoType {
		return e.reprompt(ctx, a, sess, textGone)
	}
	return e.advance(ctx, a, sess, StateWaitingTime, map[string]string{fieldInstructor: raw})
}

func (e *Engine) schoolInCity(ctx context.Context, id int64, cityName string) (bool, error) {
	school, err := e.deps.Catalog.School(ctx, id)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	city, err := e.deps.Catalog.City(ctx, cityName)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return school.CityID == city.ID, nil
}

func (e *Engine) onText(ctx context.Context, a Action, sess Session) (Outcome, error) {
	switch sess.State {
	case StateIdle:
		out := Outcome{State: StateIdle}
		out.say(a.ChatID, textHint, nil)
		return out, nil
	case StateWaitingTime:
		slot, err := parseTimeSlot(a.Text, e.cfg.Location)
		if err != nil {
			return e.reply(a, sess.State, textBadTime), nil
		}
		return e.advance(ctx, a, sess, StateWaitingName, map[string]string{fieldTime: encodeTime(slot)})
	case StateWaitingName:
		name, err := validateName(a.Text)
		if err != nil {
			return e.reply(a, sess.State, textBadName), nil
		}
		return e.advance(ctx, a, sess, StateWaitingPhone, map[string]string{fieldName: name})
	case StateWaitingPhone:
		phone, err := normalizePhone(a.Text)
		if err != nil {
			return e.reply(a, sess.State, textBadPhone), nil
		}
		return e.finish(ctx, a, sess, phone)
	default:
		return e.reprompt(ctx, a, sess, textUseKeys)
	}
}

// finish creates the application. On a business failure the context is kept so the
// student can retry by sending the phone again.
func (e *Engine) finish(ctx context.Context, a Action, sess Session, phone string) (Outcome, error) {
	draft := models.ApplicationDraft{
		Target:   sess.target(),
		CityName: sess.City,
		Category: sess.Category,
		Format:   sess.Format,
		TimeSlot: sess.TimeSlot,
		Name:     sess.Name,
		Phone:    phone,
	}
	if draft.Target == nil {
		return e.reset(ctx, a, textLost)
	}
	app, err := e.deps.Factory.Create(ctx, models.Student{TelegramID: a.UserID, Username: a.Username}, draft)
	if err != nil {
		switch {
		case appErrors.Is(err, appErrors.ErrNotFound), appErrors.Is(err, appErrors.ErrTargetAmbiguous), appErrors.Is(err, appErrors.ErrValidation):
			e.log.Info("application rejected", zap.Int64("telegram_id", a.UserID), zap.Error(err))
			return e.reply(a, sess.State, textFailed), nil
		default:
			e.log.Error("application creation failed", zap.Int64("telegram_id", a.UserID), zap.Error(err))
			return e.reply(a, sess.State, textInternal), nil
		}
	}

	e.trackFor(ctx, app.StudentID, models.EventApplicationCreated, "application_completed", map[string]interface{}{"application_id": app.ID})
	if e.deps.Notifier != nil {
		e.deps.Notifier.Dispatch(app.ID)
	}
	if app.SchoolID != nil && e.deps.Refresher != nil {
		e.deps.Refresher.RefreshTrust(*app.SchoolID)
	}
	if err := e.deps.Sessions.Clear(ctx, sessionKey(a.UserID)); err != nil {
		e.log.Warn("session not cleared after application", zap.Int64("telegram_id", a.UserID), zap.Error(err))
	}

	done := textDoneSchool
	if sess.Flow == FlowInstructor {
		done = textDoneInstructor
	}
	out := Outcome{State: StateIdle}
	out.Messages = append(out.Messages, models.OutboundMessage{ChatID: a.ChatID, Text: done, RemoveKeyboard: true})
	return out, nil
}

// begin discards any previous context and starts flow at state.
func (e *Engine) begin(ctx context.Context, a Action, flow Flow, state State) (Outcome, error) {
	key := sessionKey(a.UserID)
	if err := e.deps.Sessions.Clear(ctx, key); err != nil {
		return Outcome{}, fmt.Errorf("clear session: %w", err)
	}
	if err := e.deps.Sessions.Update(ctx, key, map[string]string{fieldState: state.String(), fieldFlow: flow.String()}); err != nil {
		return Outcome{}, fmt.Errorf("save session: %w", err)
	}
	out, err := e.prompt(ctx, a, Session{State: state, Flow: flow}, "")
	out.alert(a, "")
	return out, err
}

// advance merges fields, moves to next and prompts for it. Listing states that turn
// out empty send the student back to city selection.
func (e *Engine) advance(ctx context.Context, a Action, sess Session, next State, fields map[string]string) (Outcome, error) {
	done := sess.State
	sess.State = next
	applyFields(&sess, fields)

	var list *Outcome
	switch next {
	case StateWaitingSchool, StateWaitingInstructor:
		o, empty, err := e.listing(ctx, a, sess)
		if err != nil {
			return Outcome{}, err
		}
		if empty {
			next = StateWaitingCity
			sess.State = next
		}
		list = &o
	}

	fields[fieldState] = next.String()
	if err := e.deps.Sessions.Update(ctx, sessionKey(a.UserID), fields); err != nil {
		return Outcome{}, fmt.Errorf("save session: %w", err)
	}
	e.track(ctx, a, models.EventStepCompleted, done.String(), stepPayload(sess))

	if list != nil {
		list.alert(a, "")
		return *list, nil
	}
	out, err := e.prompt(ctx, a, sess, "")
	out.alert(a, "")
	return out, err
}

func applyFields(sess *Session, fields map[string]string) {
	for k, v := range fields {
		switch k {
		case fieldCity:
			sess.City = v
		case fieldCategory:
			sess.Category = v
		case fieldFormat:
			sess.Format = models.Format(v)
		case fieldAutoType:
			sess.AutoType = models.AutoType(v)
		case fieldSchool:
			sess.SchoolID, _ = strconv.ParseInt(v, 10, 64)
		case fieldInstructor:
			sess.InstructorID, _ = strconv.ParseInt(v, 10, 64)
		case fieldName:
			sess.Name = v
		}
	}
}

func stepPayload(sess Session) map[string]interface{} {
	payload := map[string]interface{}{"city": sess.City}
	if sess.Flow == FlowSchool {
		payload["category"] = sess.Category
		payload["format"] = string(sess.Format)
	} else {
		payload["auto_type"] = string(sess.AutoType)
	}
	return payload
}

// listing renders the provider list for sess. empty is true when none are available,
// in which case the returned outcome asks for another city.
func (e *Engine) listing(ctx context.Context, a Action, sess Session) (Outcome, bool, error) {
	out := Outcome{State: sess.State}
	var (
		text    string
		buttons [][]models.Button
		empty   bool
	)
	if sess.Flow == FlowSchool {
		schools, err := e.deps.Catalog.SchoolsInCity(ctx, sess.City)
		if err != nil && !appErrors.Is(err, appErrors.ErrNotFound) {
			return out, false, err
		}
		if len(schools) == 0 {
			empty, text = true, noSchoolsText(sess.City)
		} else {
			if len(schools) > e.cfg.ListLimit {
				schools = schools[:e.cfg.ListLimit]
			}
			text, buttons = schoolList(schools)
		}
	} else {
		instructors, err := e.deps.Catalog.InstructorsInCity(ctx, sess.City, sess.AutoType)
		if err != nil && !appErrors.Is(err, appErrors.ErrNotFound) {
			return out, false, err
		}
		if len(instructors) == 0 {
			empty, text = true, noInstructorsText(sess.City, sess.AutoType)
		} else {
			if len(instructors) > e.cfg.ListLimit {
				instructors = instructors[:e.cfg.ListLimit]
			}
			text, buttons = instructorList(instructors)
		}
	}

	if empty {
		out.State = StateWaitingCity
		out.say(a.ChatID, text, nil)
		cities, err := e.cityPrompt(ctx, a)
		if err != nil {
			return out, true, err
		}
		out.Messages = append(out.Messages, cities)
		return out, true, nil
	}
	out.say(a.ChatID, text, buttons)
	return out, false, nil
}

func (e *Engine) cityPrompt(ctx context.Context, a Action) (models.OutboundMessage, error) {
	cities, err := e.deps.Catalog.Cities(ctx)
	if err != nil {
		return models.OutboundMessage{}, err
	}
	return models.OutboundMessage{ChatID: a.ChatID, Text: textChooseCity, Buttons: citiesKeyboard(cities)}, nil
}

// prompt renders the question of the current state, preceded by note when set.
func (e *Engine) prompt(ctx context.Context, a Action, sess Session, note string) (Outcome, error) {
	out := Outcome{State: sess.State}
	if note != "" {
		out.say(a.ChatID, note, nil)
	}
	switch sess.State {
	case StateIdle:
		out.say(a.ChatID, textWelcome, startKeyboard(e.cfg.MiniAppURL))
	case StateWaitingOption:
		out.say(a.ChatID, textChooseOption, certificateKeyboard())
	case StateWaitingCity:
		msg, err := e.cityPrompt(ctx, a)
		if err != nil {
			return out, err
		}
		out.Messages = append(out.Messages, msg)
	case StateWaitingCategory:
		out.say(a.ChatID, textChooseCategory, categoriesKeyboard())
	case StateWaitingFormat:
		out.say(a.ChatID, textChooseFormat, formatsKeyboard())
	case StateWaitingAutoType:
		out.say(a.ChatID, textChooseAutoType, autoTypesKeyboard())
	case StateWaitingSchool, StateWaitingInstructor:
		list, empty, err := e.listing(ctx, a, sess)
		if err != nil {
			return out, err
		}
		if empty {
			if err := e.deps.Sessions.Update(ctx, sessionKey(a.UserID), map[string]string{fieldState: StateWaitingCity.String()}); err != nil {
				return out, fmt.Errorf("save session: %w", err)
			}
		}
		list.Messages = append(out.Messages, list.Messages...)
		return list, nil
	case StateWaitingTime:
		out.say(a.ChatID, textEnterTime, nil)
	case StateWaitingName:
		out.say(a.ChatID, textEnterName, nil)
	case StateWaitingPhone:
		out.Messages = append(out.Messages, models.OutboundMessage{ChatID: a.ChatID, Text: textEnterPhone, RequestContact: true})
	}
	return out, nil
}

// reprompt repeats the current question without touching the session.
func (e *Engine) reprompt(ctx context.Context, a Action, sess Session, note string) (Outcome, error) {
	out, err := e.prompt(ctx, a, sess, note)
	if out.Alert == nil {
		out.alert(a, "")
	}
	return out, err
}

func (e *Engine) reply(a Action, state State, text string) Outcome {
	out := Outcome{State: state}
	out.say(a.ChatID, text, nil)
	return out
}

// lost clears a context whose required fields are missing and explains why.
func (e *Engine) lost(ctx context.Context, a Action, sess Session) (Outcome, error) {
	e.log.Warn("conversation context lost", zap.Int64("telegram_id", a.UserID), zap.String("state", sess.State.String()))
	return e.reset(ctx, a, textLost)
}

// reset clears the context and shows the start menu, preceded by note when set.
func (e *Engine) reset(ctx context.Context, a Action, note string) (Outcome, error) {
	if err := e.deps.Sessions.Clear(ctx, sessionKey(a.UserID)); err != nil {
		return Outcome{}, fmt.Errorf("clear session: %w", err)
	}
	out := Outcome{State: StateIdle}
	if note != "" {
		out.say(a.ChatID, note, nil)
		out.alert(a, "⚠️ Начните заново")
	} else {
		out.alert(a, "")
	}
	out.say(a.ChatID, textWelcome, startKeyboard(e.cfg.MiniAppURL))
	return out, nil
}

func (e *Engine) startMenu(out *Outcome, a Action) {
	out.State = StateIdle
	out.say(a.ChatID, textWelcome, startKeyboard(e.cfg.MiniAppURL))
}

// track records an event for the acting student. Failures never affect the conversation.
func (e *Engine) track(ctx context.Context, a Action, kind models.EventKind, step string, payload map[string]interface{}) {
	if e.deps.Tracker == nil || e.deps.Students == nil {
		return
	}
	user, err := e.deps.Students.GetOrCreateByTelegramID(ctx, a.UserID, a.Username)
	if err != nil {
		e.log.Warn("event student not resolved", zap.Int64("telegram_id", a.UserID), zap.Error(err))
		return
	}
	e.trackFor(ctx, user.ID, kind, step, payload)
}

func (e *Engine) trackFor(ctx context.Context, userID int64, kind models.EventKind, step string, payload map[string]interface{}) {
	if e.deps.Tracker == nil {
		return
	}
	if _, err := e.deps.Tracker.TrackEvent(ctx, userID, kind, step, payload); err != nil {
		e.log.Warn("analytics event not stored", zap.Int64("user_id", userID), zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	if e.deps.Refresher != nil {
		e.deps.Refresher.RefreshDiscipline(userID)
	}
}
