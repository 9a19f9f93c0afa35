package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

type cityStub struct {
	cities []models.City
}

func (s *cityStub) ListActive(ctx context.Context) ([]models.City, error) { return s.cities, nil }

func (s *cityStub) FindActiveByName(ctx context.Context, name string) (*models.City, error) {
	for _, c := range s.cities {
		if c.Name == name && c.Active {
			city := c
			return &city, nil
		}
	}
	return nil, sql.ErrNoRows
}

type schoolStub struct {
	schools []models.School
	filters []models.SchoolFilter
}

func (s *schoolStub) ListActive(ctx context.Context, filter models.SchoolFilter) ([]models.School, error) {
	s.filters = append(s.filters, filter)
	var out []models.School
	for _, school := range s.schools {
		if school.Active && school.CityID == filter.CityID {
			out = append(out, school)
		}
	}
	return out, nil
}

func (s *schoolStub) FindActiveByID(ctx context.Context, id int64) (*models.School, error) {
	for _, school := range s.schools {
		if school.ID == id && school.Active {
			found := school
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *schoolStub) FindByOwner(ctx context.Context, userID int64) (*models.School, error) {
	for _, school := range s.schools {
		if school.UserID == userID {
			found := school
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

type instructorStub struct {
	instructors []models.Instructor
}

func (s *instructorStub) ListActive(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, error) {
	var out []models.Instructor
	for _, i := range s.instructors {
		if i.Active && i.CityID == filter.CityID && (filter.AutoType == "" || i.AutoType == filter.AutoType) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *instructorStub) FindActiveByID(ctx context.Context, id int64) (*models.Instructor, error) {
	for _, i := range s.instructors {
		if i.ID == id && i.Active {
			found := i
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// applicationStoreStub is an in-memory application table with owner lookups.
type applicationStoreStub struct {
	mu        sync.Mutex
	nextID    int64
	apps      map[int64]*models.Application
	owners    map[int64]int64
	chats     map[int64]int64
	createErr error
	// casHook runs before the compare-and-set, simulating a concurrent writer.
	casHook func(app *models.Application)
}

func newApplicationStoreStub() *applicationStoreStub {
	return &applicationStoreStub{apps: map[int64]*models.Application{}, owners: map[int64]int64{}, chats: map[int64]int64{}}
}

func (s *applicationStoreStub) Create(ctx context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	app.ID = s.nextID
	stored := *app
	s.apps[app.ID] = &stored
	return nil
}

func (s *applicationStoreStub) put(app models.Application, ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := app
	s.apps[app.ID] = &stored
	s.owners[app.ID] = ownerID
}

func (s *applicationStoreStub) FindDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := &models.ApplicationDetail{Application: *app, CityName: "Almaty", OwnerID: s.owners[id]}
	if chat, ok := s.chats[id]; ok {
		detail.StudentChatID = &chat
	}
	return detail, nil
}

func (s *applicationStoreStub) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	items, err := s.ListAll(ctx, filter)
	return items, len(items), err
}

func (s *applicationStoreStub) ListAll(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, error) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.apps))
	for id, app := range s.apps {
		if !filter.AllOwners && s.owners[id] != filter.OwnerID {
			continue
		}
		if filter.Status != nil && app.Status != *filter.Status {
			continue
		}
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var out []models.ApplicationDetail
	for _, id := range ids {
		detail, _ := s.FindDetail(ctx, id)
		out = append(out, *detail)
	}
	return out, nil
}

func (s *applicationStoreStub) UpdateStatus(ctx context.Context, id int64, expected, next models.ApplicationStatus, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return sql.ErrNoRows
	}
	if s.casHook != nil {
		s.casHook(app)
	}
	if app.Status != expected {
		return sql.ErrNoRows
	}
	app.Status = next
	app.StatusChangedAt = &changedAt
	return nil
}

type studentStub struct {
	users map[int64]*models.User
}

func (s *studentStub) GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	if s.users == nil {
		s.users = map[int64]*models.User{}
	}
	if u, ok := s.users[telegramID]; ok {
		return u, nil
	}
	tg := telegramID
	u := &models.User{ID: int64(len(s.users) + 100), TelegramID: &tg, Username: username, Role: models.RoleStudent, Active: true}
	s.users[telegramID] = u
	return u, nil
}

type messengerStub struct {
	mu   sync.Mutex
	sent []models.OutboundMessage
	err  error
}

func (m *messengerStub) Send(ctx context.Context, msg models.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *messengerStub) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func int64Ptr(v int64) *int64 { return &v }
