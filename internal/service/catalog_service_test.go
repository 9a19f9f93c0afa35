package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

func newCatalogFixture() *CatalogService {
	cities := &cityStub{cities: []models.City{{ID: 1, Name: "Almaty", Active: true}, {ID: 2, Name: "Aktau", Active: false}}}
	schools := &schoolStub{schools: []models.School{
		{ID: 3, Name: "Sapa", CityID: 1, Active: true},
		{ID: 4, Name: "Closed", CityID: 1, Active: false},
	}}
	instructors := &instructorStub{instructors: []models.Instructor{
		{ID: 7, Name: "Arman", CityID: 1, AutoType: models.AutoTypeManual, Active: true},
		{ID: 8, Name: "Dana", CityID: 1, AutoType: models.AutoTypeAutomatic, Active: true},
	}}
	return NewCatalogService(cities, schools, instructors, nil)
}

func TestSchoolsInCityListsActiveOnly(t *testing.T) {
	svc := newCatalogFixture()
	schools, err := svc.SchoolsInCity(context.Background(), "Almaty")
	require.NoError(t, err)
	require.Len(t, schools, 1)
	assert.Equal(t, int64(3), schools[0].ID)
}

func TestSchoolsInInactiveCity(t *testing.T) {
	svc := newCatalogFixture()
	_, err := svc.SchoolsInCity(context.Background(), "Aktau")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestInstructorsInCityFiltersAutoType(t *testing.T) {
	svc := newCatalogFixture()

	manual, err := svc.InstructorsInCity(context.Background(), "Almaty", models.AutoTypeManual)
	require.NoError(t, err)
	require.Len(t, manual, 1)
	assert.Equal(t, "Arman", manual[0].Name)

	all, err := svc.InstructorsInCity(context.Background(), "Almaty", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.InstructorsInCity(context.Background(), "Almaty", "hover")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCatalogLookupsMissing(t *testing.T) {
	svc := newCatalogFixture()
	_, err := svc.School(context.Background(), 4)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	_, err = svc.Instructor(context.Background(), 99)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestOwnedSchool(t *testing.T) {
	schools := &schoolStub{schools: []models.School{{ID: 3, UserID: 10, Name: "Sapa", Active: false}}}
	svc := NewCatalogService(&cityStub{}, schools, &instructorStub{}, nil)

	school, err := svc.OwnedSchool(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), school.ID)

	_, err = svc.OwnedSchool(context.Background(), 11)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
