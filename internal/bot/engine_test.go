package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	"github.com/avtomat-kz/avtomat-api/internal/repository"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

type catalogStub struct {
	cities      []models.City
	schools     []models.School
	instructors []models.Instructor
}

func (c *catalogStub) Cities(ctx context.Context) ([]models.City, error) {
	return c.cities, nil
}

func (c *catalogStub) City(ctx context.Context, name string) (*models.City, error) {
	for i := range c.cities {
		if c.cities[i].Name == name {
			return &c.cities[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "city not found")
}

func (c *catalogStub) SchoolsInCity(ctx context.Context, cityName string) ([]models.School, error) {
	city, err := c.City(ctx, cityName)
	if err != nil {
		return nil, err
	}
	var out []models.School
	for _, s := range c.schools {
		if s.CityID == city.ID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *catalogStub) InstructorsInCity(ctx context.Context, cityName string, autoType models.AutoType) ([]models.Instructor, error) {
	city, err := c.City(ctx, cityName)
	if err != nil {
		return nil, err
	}
	var out []models.Instructor
	for _, i := range c.instructors {
		if i.CityID == city.ID && (autoType == "" || i.AutoType == autoType) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (c *catalogStub) School(ctx context.Context, id int64) (*models.School, error) {
	for i := range c.schools {
		if c.schools[i].ID == id {
			return &c.schools[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
}

func (c *catalogStub) Instructor(ctx context.Context, id int64) (*models.Instructor, error) {
	for i := range c.instructors {
		if c.instructors[i].ID == id {
			return &c.instructors[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
}

type factoryStub struct {
	drafts  []models.ApplicationDraft
	student models.Student
	err     error
}

func (f *factoryStub) Create(ctx context.Context, student models.Student, draft models.ApplicationDraft) (*models.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.student = student
	f.drafts = append(f.drafts, draft)
	app := &models.Application{ID: 42, StudentID: 7, Status: models.StatusNew}
	app.SetTarget(draft.Target)
	return app, nil
}

type studentsStub struct{}

func (studentsStub) GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	return &models.User{ID: 7, TelegramID: &telegramID, Username: username, Role: models.RoleStudent}, nil
}

type trackerStub struct {
	mu     sync.Mutex
	events []models.EventKind
}

func (t *trackerStub) TrackEvent(ctx context.Context, userID int64, kind models.EventKind, step string, payload map[string]interface{}) (*models.AnalyticsEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, kind)
	return &models.AnalyticsEvent{UserID: userID, Kind: kind, StepName: step}, nil
}

func (t *trackerStub) count(kind models.EventKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.events {
		if k == kind {
			n++
		}
	}
	return n
}

type notifierStub struct{ ids []int64 }

func (n *notifierStub) Dispatch(id int64) { n.ids = append(n.ids, id) }

type refresherStub struct {
	trust      []int64
	discipline int
}

func (r *refresherStub) RefreshTrust(id int64)      { r.trust = append(r.trust, id) }
func (r *refresherStub) RefreshDiscipline(id int64) { r.discipline++ }

type engineFixture struct {
	engine    *Engine
	sessions  *repository.MemorySessionStore
	catalog   *catalogStub
	factory   *factoryStub
	tracker   *trackerStub
	notifier  *notifierStub
	refresher *refresherStub
}

const (
	testUser = int64(1001)
	testChat = int64(2002)
)

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		sessions: repository.NewMemorySessionStore(time.Hour),
		catalog: &catalogStub{
			cities: []models.City{{ID: 1, Name: "Almaty", NameRU: "Алматы", Active: true}, {ID: 2, Name: "Aktobe", Active: true}},
			schools: []models.School{
				{ID: 3, Name: "Sapa", CityID: 1, Rating: 4.5, Address: "Abay 1", Active: true},
				{ID: 5, Name: "Elsewhere", CityID: 2, Active: true},
			},
			instructors: []models.Instructor{
				{ID: 9, Name: "Arman", CityID: 1, AutoType: models.AutoTypeManual, Rating: 5, Active: true},
			},
		},
		factory:   &factoryStub{},
		tracker:   &trackerStub{},
		notifier:  &notifierStub{},
		refresher: &refresherStub{},
	}
	f.engine = NewEngine(Dependencies{
		Sessions:  f.sessions,
		Catalog:   f.catalog,
		Factory:   f.factory,
		Students:  studentsStub{},
		Tracker:   f.tracker,
		Notifier:  f.notifier,
		Refresher: f.refresher,
	}, Config{ListLimit: 5, Location: time.UTC, MiniAppURL: "https://app.example.kz"})
	return f
}

func (f *engineFixture) press(t *testing.T, data string) Outcome {
	t.Helper()
	out, err := f.engine.Handle(context.Background(), Action{UserID: testUser, ChatID: testChat, Kind: ActionButton, Data: data, CallbackID: "cb"})
	require.NoError(t, err)
	return out
}

func (f *engineFixture) say(t *testing.T, text string) Outcome {
	t.Helper()
	out, err := f.engine.Handle(context.Background(), Action{UserID: testUser, ChatID: testChat, Kind: ActionText, Text: text})
	require.NoError(t, err)
	return out
}

func (f *engineFixture) session(t *testing.T) Session {
	t.Helper()
	fields, err := f.sessions.Get(context.Background(), sessionKey(testUser))
	require.NoError(t, err)
	return decodeSession(fields)
}

func lastText(out Outcome) string {
	if len(out.Messages) == 0 {
		return ""
	}
	return out.Messages[len(out.Messages)-1].Text
}

func TestStartShowsMenu(t *testing.T) {
	f := newEngineFixture()
	out := f.say(t, "/start")

	assert.Equal(t, StateIdle, out.State)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, textWelcome, out.Messages[0].Text)
	buttons := out.Messages[0].Buttons
	require.Len(t, buttons, 4)
	assert.Equal(t, "flow:school", buttons[0][0].Data)
	assert.Equal(t, "https://app.example.kz", buttons[3][0].URL)
}

func TestSchoolFlowCreatesApplication(t *testing.T) {
	f := newEngineFixture()
	f.say(t, "/start")

	out := f.press(t, "flow:school")
	assert.Equal(t, StateWaitingCity, out.State)
	assert.Equal(t, textChooseCity, lastText(out))
	assert.Equal(t, "Алматы", out.Messages[0].Buttons[0][0].Label)

	out = f.press(t, "city:Almaty")
	assert.Equal(t, StateWaitingCategory, out.State)

	out = f.press(t, "category:B")
	assert.Equal(t, StateWaitingFormat, out.State)

	out = f.press(t, "format:offline")
	assert.Equal(t, StateWaitingSchool, out.State)
	require.Len(t, out.Messages, 1)
	assert.Contains(t, out.Messages[0].Text, "Sapa")
	assert.Equal(t, "school:3", out.Messages[0].Buttons[0][0].Data)

	out = f.press(t, "school:3")
	assert.Equal(t, StateWaitingName, out.State)
	assert.Equal(t, textEnterName, lastText(out))

	out = f.say(t, "Aigerim")
	assert.Equal(t, StateWaitingPhone, out.State)
	assert.True(t, out.Messages[0].RequestContact)

	out = f.say(t, "87011234567")
	assert.Equal(t, StateIdle, out.State)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, textDoneSchool, out.Messages[0].Text)
	assert.True(t, out.Messages[0].RemoveKeyboard)

	require.Len(t, f.factory.drafts, 1)
	draft := f.factory.drafts[0]
	assert.Equal(t, models.SchoolTarget{SchoolID: 3}, draft.Target)
	assert.Equal(t, "Almaty", draft.CityName)
	assert.Equal(t, "B", draft.Category)
	assert.Equal(t, models.FormatOffline, draft.Format)
	assert.Equal(t, "Aigerim", draft.Name)
	assert.Equal(t, "+77011234567", draft.Phone)
	assert.Equal(t, testUser, f.factory.student.TelegramID)

	assert.Equal(t, []int64{42}, f.notifier.ids)
	assert.Equal(t, []int64{3}, f.refresher.trust)
	assert.Equal(t, 1, f.tracker.count(models.EventApplicationCreated))
	assert.Equal(t, StateIdle, f.session(t).State)
}

func TestInvalidPhoneKeepsContext(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")
	f.press(t, "city:Almaty")
	f.press(t, "category:B")
	f.press(t, "format:offline")
	f.press(t, "school:3")
	f.say(t, "Aigerim")
	before := f.session(t)

	out := f.say(t, "12345")
	assert.Equal(t, StateWaitingPhone, out.State)
	assert.Equal(t, textBadPhone, lastText(out))
	assert.Equal(t, before, f.session(t))
	assert.Empty(t, f.factory.drafts)
}

func TestContactCompletesFlow(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")
	f.press(t, "city:Almaty")
	f.press(t, "category:B")
	f.press(t, "format:online")
	f.press(t, "school:3")
	f.say(t, "Aigerim")

	out, err := f.engine.Handle(context.Background(), Action{UserID: testUser, ChatID: testChat, Kind: ActionContact, Phone: "77011234567"})
	require.NoError(t, err)
	assert.Equal(t, textDoneSchool, lastText(out))
	require.Len(t, f.factory.drafts, 1)
	assert.Equal(t, "+77011234567", f.factory.drafts[0].Phone)
}

func TestContactWhileAskingNameRepeatsQuestion(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")
	f.press(t, "city:Almaty")
	f.press(t, "category:B")
	f.press(t, "format:offline")
	f.press(t, "school:3")
	before := f.session(t)

	out, err := f.engine.Handle(context.Background(), Action{UserID: testUser, ChatID: testChat, Kind: ActionContact, Phone: "77011234567"})
	require.NoError(t, err)
	assert.Equal(t, StateWaitingName, out.State)
	assert.Equal(t, textEnterName, lastText(out))
	for _, msg := range out.Messages {
		assert.NotEqual(t, textUseKeys, msg.Text)
	}
	assert.Equal(t, before, f.session(t))
	assert.Empty(t, f.factory.drafts)
}

func TestShortNameRejected(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")
	f.press(t, "city:Almaty")
	f.press(t, "category:B")
	f.press(t, "format:offline")
	f.press(t, "school:3")

	out := f.say(t, " A ")
	assert.Equal(t, textBadName, lastText(out))
	assert.Equal(t, StateWaitingName, f.session(t).State)
}

func TestInstructorFlowTimeSlots(t *testing.T) {
	cases := []struct {
		name string
		text string
		want *time.Time
	}{
		{name: "any time", text: "любое", want: nil},
		{name: "exact time", text: "2024-01-15 14:00", want: timePtr(time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture()
			f.press(t, "flow:instructor")
			out := f.press(t, "city:Almaty")
			assert.Equal(t, StateWaitingAutoType, out.State)
			out = f.press(t, "auto:manual")
			assert.Equal(t, StateWaitingInstructor, out.State)
			assert.Contains(t, out.Messages[0].Text, "Arman")
			out = f.press(t, "instructor:9")
			assert.Equal(t, StateWaitingTime, out.State)

			out = f.say(t, tc.text)
			assert.Equal(t, StateWaitingName, out.State)
			f.say(t, "Dana")
			out = f.say(t, "+7 701 123 45 67")
			assert.Equal(t, textDoneInstructor, lastText(out))

			require.Len(t, f.factory.drafts, 1)
			draft := f.factory.drafts[0]
			assert.Equal(t, models.InstructorTarget{InstructorID: 9}, draft.Target)
			if tc.want == nil {
				assert.Nil(t, draft.TimeSlot)
			} else {
				require.NotNil(t, draft.TimeSlot)
				assert.True(t, tc.want.Equal(*draft.TimeSlot))
			}
			assert.Empty(t, f.refresher.trust)
		})
	}
}

func TestBadTimeReprompts(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:instructor")
	f.press(t, "city:Almaty")
	f.press(t, "auto:manual")
	f.press(t, "instructor:9")

	out := f.say(t, "tomorrow")
	assert.Equal(t, StateWaitingTime, out.State)
	assert.Equal(t, textBadTime, lastText(out))
	assert.Equal(t, StateWaitingTime, f.session(t).State)
}

func TestEmptyListReturnsToCity(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:instructor")
	f.press(t, "city:Almaty")

	out := f.press(t, "auto:automatic")
	assert.Equal(t, StateWaitingCity, out.State)
	require.Len(t, out.Messages, 2)
	assert.Contains(t, out.Messages[0].Text, "нет доступных инструкторов")
	assert.Equal(t, textChooseCity, out.Messages[1].Text)
	assert.Equal(t, StateWaitingCity, f.session(t).State)

	out = f.press(t, "city:Almaty")
	assert.Equal(t, StateWaitingAutoType, out.State)
}

func TestStaleButtonReprompts(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")
	f.press(t, "city:Almaty")
	before := f.session(t)

	out := f.press(t, "school:3")
	assert.Equal(t, StateWaitingCategory, out.State)
	require.NotNil(t, out.Alert)
	assert.Equal(t, textStale, out.Alert.Text)
	assert.Equal(t, textChooseCategory, lastText(out))
	assert.Equal(t, before, f.session(t))
}

func TestSchoolFromOtherCityRejected(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")
	f.press(t, "city:Almaty")
	f.press(t, "category:B")
	f.press(t, "format:offline")

	out := f.press(t, "school:5")
	assert.Equal(t, StateWaitingSchool, out.State)
	assert.Equal(t, textGone, out.Messages[0].Text)
	assert.Equal(t, StateWaitingSchool, f.session(t).State)
}

func TestUnknownCityReprompts(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")

	out := f.press(t, "city:Paris")
	assert.Equal(t, StateWaitingCity, out.State)
	assert.Equal(t, textNoCity, out.Messages[0].Text)
}

func TestLostSessionResets(t *testing.T) {
	f := newEngineFixture()
	require.NoError(t, f.sessions.Update(context.Background(), sessionKey(testUser), map[string]string{
		fieldState: StateWaitingPhone.String(),
		fieldFlow:  FlowSchool.String(),
	}))

	out := f.say(t, "+77011234567")
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, textLost, out.Messages[0].Text)
	assert.Equal(t, textWelcome, lastText(out))
	assert.Empty(t, f.factory.drafts)
	assert.Equal(t, StateIdle, f.session(t).State)
}

func TestStepButtonWithoutSessionResets(t *testing.T) {
	f := newEngineFixture()
	out := f.press(t, "city:Almaty")
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, textLost, out.Messages[0].Text)
}

func TestBackClearsSession(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")
	f.press(t, "city:Almaty")

	out := f.press(t, "nav:back")
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, textWelcome, lastText(out))
	assert.Equal(t, 1, f.tracker.count(models.EventReturn))
	assert.Equal(t, Session{}, f.session(t))
}

func TestCertificateBranches(t *testing.T) {
	t.Run("practice", func(t *testing.T) {
		f := newEngineFixture()
		out := f.press(t, "flow:certificate")
		assert.Equal(t, StateWaitingOption, out.State)
		out = f.press(t, "cert:practice")
		assert.Equal(t, StateWaitingCity, out.State)
		assert.Equal(t, FlowInstructor, f.session(t).Flow)
	})
	t.Run("full", func(t *testing.T) {
		f := newEngineFixture()
		f.press(t, "flow:certificate")
		f.press(t, "cert:full")
		assert.Equal(t, FlowSchool, f.session(t).Flow)
		assert.Equal(t, StateWaitingCity, f.session(t).State)
	})
	t.Run("tests", func(t *testing.T) {
		f := newEngineFixture()
		f.press(t, "flow:certificate")
		out := f.press(t, "cert:tests")
		assert.Equal(t, StateIdle, out.State)
		assert.Equal(t, textTests, out.Messages[0].Text)
		assert.Equal(t, Session{}, f.session(t))
	})
}

func TestFactoryRejectionKeepsContext(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")
	f.press(t, "city:Almaty")
	f.press(t, "category:B")
	f.press(t, "format:offline")
	f.press(t, "school:3")
	f.say(t, "Aigerim")

	f.factory.err = appErrors.Clone(appErrors.ErrNotFound, "school not found")
	out := f.say(t, "+77011234567")
	assert.Equal(t, textFailed, lastText(out))
	assert.Equal(t, StateWaitingPhone, f.session(t).State)

	f.factory.err = errors.New("db down")
	out = f.say(t, "+77011234567")
	assert.Equal(t, textInternal, lastText(out))
	assert.Empty(t, f.notifier.ids)
}

func TestFreeTextWhileButtonsExpected(t *testing.T) {
	f := newEngineFixture()
	f.press(t, "flow:school")

	out := f.say(t, "Almaty")
	assert.Equal(t, textUseKeys, out.Messages[0].Text)
	assert.Equal(t, StateWaitingCity, f.session(t).State)
}

func TestIdleTextHints(t *testing.T) {
	f := newEngineFixture()
	out := f.say(t, "hello")
	assert.Equal(t, textHint, lastText(out))
}

func TestMalformedButtonAlerts(t *testing.T) {
	f := newEngineFixture()
	out := f.press(t, "garbage")
	require.NotNil(t, out.Alert)
	assert.Equal(t, textUnknown, out.Alert.Text)
	assert.Empty(t, out.Messages)
}

func timePtr(t time.Time) *time.Time { return &t }
