package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/fines"
	"github.com/aegisshield/citation-engine/internal/models"
	"github.com/aegisshield/citation-engine/internal/repository"
	"github.com/aegisshield/citation-engine/internal/validation"
)

// RegistryHandler handles the driver and vehicle reference data
type RegistryHandler struct {
	registry *repository.RegistryRepository
	logger   *zap.Logger
}

// NewRegistryHandler creates a new registry handler
func NewRegistryHandler(registry *repository.RegistryRepository, logger *zap.Logger) *RegistryHandler {
	return &RegistryHandler{
		registry: registry,
		logger:   logger.Named("registry_handler"),
	}
}

type createDriverRequest struct {
	LicenseNo string `json:"license_no" validate:"required,max=64"`
	FullName  string `json:"full_name" validate:"required,max=255"`
}

type createVehicleRequest struct {
	PlateNo       string           `json:"plate_no" validate:"required,max=32"`
	OwnerClass    fines.OwnerClass `json:"owner_class" validate:"required,oneof=PRIVATE FOR_HIRE"`
	OwnerDriverID *uuid.UUID       `json:"owner_driver_id"`
}

// CreateDriver registers a driver
func (h *RegistryHandler) CreateDriver(c *gin.Context) {
	var req createDriverRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	driver := models.Driver{
		LicenseNo: strings.TrimSpace(req.LicenseNo),
		FullName:  strings.TrimSpace(req.FullName),
	}
	if err := h.registry.CreateDriver(c.Request.Context(), &driver); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Driver registered", zap.String("id", driver.ID.String()))
	c.JSON(http.StatusCreated, driver)
}

// GetDriver retrieves a driver by ID
func (h *RegistryHandler) GetDriver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	driver, err := h.registry.GetDriver(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, driver)
}

// CreateVehicle registers a vehicle, optionally owned by a registered driver
func (h *RegistryHandler) CreateVehicle(c *gin.Context) {
	var req createVehicleRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	ctx := c.Request.Context()
	if req.OwnerDriverID != nil {
		if _, err := h.registry.GetDriver(ctx, *req.OwnerDriverID); err != nil {
			if apperror.IsKind(err, apperror.KindNotFound) {
				err = apperror.Field("owner_driver_id", "does not exist")
			}
			respondError(c, h.logger, err)
			return
		}
	}

	vehicle := models.Vehicle{
		PlateNo:       strings.TrimSpace(req.PlateNo),
		OwnerClass:    req.OwnerClass,
		OwnerDriverID: req.OwnerDriverID,
	}
	if err := h.registry.CreateVehicle(ctx, &vehicle); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Vehicle registered", zap.String("id", vehicle.ID.String()))
	c.JSON(http.StatusCreated, vehicle)
}

// GetVehicle retrieves a vehicle by ID
func (h *RegistryHandler) GetVehicle(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	vehicle, err := h.registry.GetVehicle(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, vehicle)
}
