package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/models"
)

// RegistryRepository handles driver and vehicle reference data
type RegistryRepository struct {
	db *gorm.DB
}

// CreateDriver registers a driver
func (r *RegistryRepository) CreateDriver(ctx context.Context, driver *models.Driver) error {
	if err := r.db.WithContext(ctx).Create(driver).Error; err != nil {
		if isDuplicateKey(err) {
			return apperror.Conflict("driver with license %s already exists", driver.LicenseNo)
		}
		return errors.Wrap(err, "failed to create driver")
	}
	return nil
}

// GetDriver retrieves a driver by ID
func (r *RegistryRepository) GetDriver(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	var driver models.Driver
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&driver).Error; err != nil {
		return nil, notFoundOr(err, "driver %s not found", id)
	}
	return &driver, nil
}

// CreateVehicle registers a vehicle
func (r *RegistryRepository) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if err := r.db.WithContext(ctx).Create(vehicle).Error; err != nil {
		if isDuplicateKey(err) {
			return apperror.Conflict("vehicle with plate %s already exists", vehicle.PlateNo)
		}
		return errors.Wrap(err, "failed to create vehicle")
	}
	return nil
}

// GetVehicle retrieves a vehicle by ID
func (r *RegistryRepository) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&vehicle).Error; err != nil {
		return nil, notFoundOr(err, "vehicle %s not found", id)
	}
	return &vehicle, nil
}
