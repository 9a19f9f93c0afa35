package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

func newFactoryFixture() (*ApplicationFactory, *applicationStoreStub, *studentStub) {
	store := newApplicationStoreStub()
	students := &studentStub{}
	cities := &cityStub{cities: []models.City{{ID: 1, Name: "Almaty", Active: true}}}
	return NewApplicationFactory(students, cities, store, nil, nil), store, students
}

func TestFactoryCreatesSchoolApplication(t *testing.T) {
	factory, store, students := newFactoryFixture()

	app, err := factory.Create(context.Background(), models.Student{TelegramID: 555, Username: "aigerim"}, models.ApplicationDraft{
		Target:   models.SchoolTarget{SchoolID: 3},
		CityName: "Almaty",
		Category: "B",
		Format:   models.FormatOffline,
		Name:     " Aigerim ",
		Phone:    "+77011234567",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusNew, app.Status)
	assert.Equal(t, "Aigerim", app.StudentName)
	require.NotNil(t, app.SchoolID)
	assert.Equal(t, int64(3), *app.SchoolID)
	assert.Nil(t, app.InstructorID)
	assert.Equal(t, "offline", app.Format)
	assert.Equal(t, students.users[555].ID, app.StudentID)
	assert.Len(t, store.apps, 1)
}

func TestFactoryCreatesInstructorApplicationWithSlot(t *testing.T) {
	factory, _, _ := newFactoryFixture()
	slot := time.Date(2024, 12, 25, 14, 0, 0, 0, time.UTC)

	app, err := factory.Create(context.Background(), models.Student{TelegramID: 1}, models.ApplicationDraft{
		Target:   models.InstructorTarget{InstructorID: 7},
		CityName: "Almaty",
		TimeSlot: &slot,
		Name:     "Dias",
		Phone:    "+77000000000",
	})
	require.NoError(t, err)
	require.NotNil(t, app.InstructorID)
	assert.Nil(t, app.SchoolID)
	assert.Equal(t, slot, *app.TimeSlot)
	assert.Empty(t, app.Category)
}

func TestFactoryMissingTarget(t *testing.T) {
	factory, store, _ := newFactoryFixture()
	store.createErr = sql.ErrNoRows

	_, err := factory.Create(context.Background(), models.Student{TelegramID: 1}, models.ApplicationDraft{
		Target: models.SchoolTarget{SchoolID: 99}, CityName: "Almaty", Category: "B", Name: "Dias", Phone: "+77000000000",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, store.apps)
}

func TestFactoryUnknownCity(t *testing.T) {
	factory, _, students := newFactoryFixture()

	_, err := factory.Create(context.Background(), models.Student{TelegramID: 1}, models.ApplicationDraft{
		Target: models.SchoolTarget{SchoolID: 3}, CityName: "Atlantis", Category: "B", Name: "Dias", Phone: "+77000000000",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, students.users)
}

func TestFactoryRejectsIncompleteDraft(t *testing.T) {
	factory, _, _ := newFactoryFixture()
	ctx := context.Background()

	_, err := factory.Create(ctx, models.Student{TelegramID: 1}, models.ApplicationDraft{CityName: "Almaty", Name: "Dias", Phone: "+7"})
	assert.True(t, appErrors.Is(err, appErrors.ErrTargetAmbiguous))

	_, err = factory.Create(ctx, models.Student{TelegramID: 1}, models.ApplicationDraft{
		Target: models.SchoolTarget{SchoolID: 3}, CityName: "Almaty", Category: "Z", Name: "Dias", Phone: "+77000000000",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
