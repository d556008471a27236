package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
)

type ScheduleConfigService interface {
	GetOrCreate(ctx context.Context, organizationID string) (*domain.ScheduleConfig, error)
	Update(ctx context.Context, organizationID string, patch domain.ScheduleConfigPatch) (*domain.ScheduleConfig, error)
}

type ScheduleConfigHandler struct {
	configs ScheduleConfigService
}

func NewScheduleConfigHandler(configs ScheduleConfigService) (*ScheduleConfigHandler, error) {
	if configs == nil {
		return nil, fmt.Errorf("schedule config service is required")
	}
	return &ScheduleConfigHandler{configs: configs}, nil
}

func RegisterScheduleConfigRoutes(router fiber.Router, configs ScheduleConfigService) error {
	h, err := NewScheduleConfigHandler(configs)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/schedule-config", h.GetScheduleConfig)
	v1.Patch("/schedule-config", h.UpdateScheduleConfig)

	return nil
}

type updateScheduleConfigRequest struct {
	DailyLimit    *int    `json:"dailyLimit"`
	MinGapMinutes *int    `json:"minGapMinutes"`
	MaxGapMinutes *int    `json:"maxGapMinutes"`
	Timezone      *string `json:"timezone"`
}

type scheduleConfigResponse struct {
	OrganizationID string    `json:"organizationId"`
	DailyLimit     int       `json:"dailyLimit"`
	MinGapMinutes  int       `json:"minGapMinutes"`
	MaxGapMinutes  int       `json:"maxGapMinutes"`
	Timezone       string    `json:"timezone"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

func (h *ScheduleConfigHandler) GetScheduleConfig(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}

	cfg, err := h.configs.GetOrCreate(requestContext(c), orgID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toScheduleConfigResponse(cfg))
}

func (h *ScheduleConfigHandler) UpdateScheduleConfig(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}

	var req updateScheduleConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	cfg, err := h.configs.Update(requestContext(c), orgID, domain.ScheduleConfigPatch{
		DailyLimit:    req.DailyLimit,
		MinGapMinutes: req.MinGapMinutes,
		MaxGapMinutes: req.MaxGapMinutes,
		Timezone:      req.Timezone,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toScheduleConfigResponse(cfg))
}

func toScheduleConfigResponse(cfg *domain.ScheduleConfig) scheduleConfigResponse {
	return scheduleConfigResponse{
		OrganizationID: cfg.OrganizationID,
		DailyLimit:     cfg.DailyLimit,
		MinGapMinutes:  cfg.MinGapMinutes,
		MaxGapMinutes:  cfg.MaxGapMinutes,
		Timezone:       cfg.Timezone,
		UpdatedAt:      cfg.UpdatedAt,
	}
}
