package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

type cityReader interface {
	ListActive(ctx context.Context) ([]models.City, error)
	FindActiveByName(ctx context.Context, name string) (*models.City, error)
}

type schoolReader interface {
	ListActive(ctx context.Context, filter models.SchoolFilter) ([]models.School, error)
	FindActiveByID(ctx context.Context, id int64) (*models.School, error)
	FindByOwner(ctx context.Context, userID int64) (*models.School, error)
}

type instructorReader interface {
	ListActive(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, error)
	FindActiveByID(ctx context.Context, id int64) (*models.Instructor, error)
}

// CatalogService exposes the active reference data students pick from.
type CatalogService struct {
	cities      cityReader
	schools     schoolReader
	instructors instructorReader
	logger      *zap.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(cities cityReader, schools schoolReader, instructors instructorReader, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{cities: cities, schools: schools, instructors: instructors, logger: logger}
}

// Cities lists active cities.
func (s *CatalogService) Cities(ctx context.Context) ([]models.City, error) {
	cities, err := s.cities.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cities")
	}
	return cities, nil
}

// City resolves an active city by name.
func (s *CatalogService) City(ctx context.Context, name string) (*models.City, error) {
	city, err := s.cities.FindActiveByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "city not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load city")
	}
	return city, nil
}

// SchoolsInCity lists active schools of the named city ordered by rating then trust index.
func (s *CatalogService) SchoolsInCity(ctx context.Context, cityName string) ([]models.School, error) {
	city, err := s.City(ctx, cityName)
	if err != nil {
		return nil, err
	}
	schools, err := s.schools.ListActive(ctx, models.SchoolFilter{CityID: city.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schools")
	}
	return schools, nil
}

// InstructorsInCity lists active instructors of the named city. An empty autoType matches both.
func (s *CatalogService) InstructorsInCity(ctx context.Context, cityName string, autoType models.AutoType) ([]models.Instructor, error) {
	if autoType != "" && !autoType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown auto type")
	}
	city, err := s.City(ctx, cityName)
	if err != nil {
		return nil, err
	}
	instructors, err := s.instructors.ListActive(ctx, models.InstructorFilter{CityID: city.ID, AutoType: autoType})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructors")
	}
	return instructors, nil
}

// School returns an active school.
func (s *CatalogService) School(ctx context.Context, id int64) (*models.School, error) {
	school, err := s.schools.FindActiveByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}
	return school, nil
}

// Instructor returns an active instructor.
func (s *CatalogService) Instructor(ctx context.Context, id int64) (*models.Instructor, error) {
	instructor, err := s.instructors.FindActiveByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	return instructor, nil
}

// OwnedSchool returns the school managed by a staff user, active or not.
func (s *CatalogService) OwnedSchool(ctx context.Context, userID int64) (*models.School, error) {
	school, err := s.schools.FindByOwner(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no school is linked to this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}
	return school, nil
}
