package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"github.com/kursadbilgin/campaign-dispatch/internal/service"
)

type CampaignLifecycle interface {
	Schedule(ctx context.Context, campaignID, organizationID, actorID string) (*service.ScheduleResult, error)
	Pause(ctx context.Context, campaignID, organizationID string) (*service.PauseResult, error)
	Resume(ctx context.Context, campaignID, organizationID, actorID string) (*service.ResumeResult, error)
	Cancel(ctx context.Context, campaignID, organizationID string) (*service.CancelResult, error)
}

type ScheduleReader interface {
	GetSchedule(ctx context.Context, campaignID, organizationID string) (*service.CampaignSchedule, error)
}

type CampaignHandler struct {
	lifecycle CampaignLifecycle
	schedules ScheduleReader
}

func NewCampaignHandler(lifecycle CampaignLifecycle, schedules ScheduleReader) (*CampaignHandler, error) {
	if lifecycle == nil {
		return nil, fmt.Errorf("campaign lifecycle service is required")
	}
	if schedules == nil {
		return nil, fmt.Errorf("schedule query service is required")
	}
	return &CampaignHandler{lifecycle: lifecycle, schedules: schedules}, nil
}

func RegisterCampaignRoutes(router fiber.Router, lifecycle CampaignLifecycle, schedules ScheduleReader) error {
	h, err := NewCampaignHandler(lifecycle, schedules)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns/:id/schedule", h.ScheduleCampaign)
	v1.Get("/campaigns/:id/schedule", h.GetCampaignSchedule)
	v1.Post("/campaigns/:id/pause", h.PauseCampaign)
	v1.Post("/campaigns/:id/resume", h.ResumeCampaign)
	v1.Post("/campaigns/:id/cancel", h.CancelCampaign)

	return nil
}

type scheduleResponse struct {
	CampaignID string `json:"campaignId"`
	*service.ScheduleResult
}

type pauseResponse struct {
	CampaignID string `json:"campaignId"`
	*service.PauseResult
}

type resumeResponse struct {
	CampaignID string `json:"campaignId"`
	*service.ResumeResult
}

type cancelResponse struct {
	CampaignID string `json:"campaignId"`
	*service.CancelResult
}

type campaignScheduleResponse struct {
	CampaignID      string                  `json:"campaignId"`
	Name            string                  `json:"name"`
	Status          string                  `json:"status"`
	ScheduledBy     *string                 `json:"scheduledBy,omitempty"`
	ScheduledAt     *time.Time              `json:"scheduledAt,omitempty"`
	Stats           service.ScheduleStats   `json:"stats"`
	ScheduledEmails []scheduledEmailPayload `json:"scheduledEmails"`
}

type scheduledEmailPayload struct {
	EmailID       string     `json:"emailId"`
	DonorID       string     `json:"donorId"`
	Recipient     string     `json:"recipient"`
	Subject       string     `json:"subject"`
	SendStatus    string     `json:"sendStatus"`
	SendJobID     string     `json:"sendJobId"`
	JobStatus     string     `json:"jobStatus"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	Error         *string    `json:"error,omitempty"`
}

func (h *CampaignHandler) ScheduleCampaign(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}
	campaignID := strings.TrimSpace(c.Params("id"))

	result, err := h.lifecycle.Schedule(requestContext(c), campaignID, orgID, actorID(c))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(scheduleResponse{CampaignID: campaignID, ScheduleResult: result})
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}
	campaignID := strings.TrimSpace(c.Params("id"))

	result, err := h.lifecycle.Pause(requestContext(c), campaignID, orgID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(pauseResponse{CampaignID: campaignID, PauseResult: result})
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}
	campaignID := strings.TrimSpace(c.Params("id"))

	result, err := h.lifecycle.Resume(requestContext(c), campaignID, orgID, actorID(c))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(resumeResponse{CampaignID: campaignID, ResumeResult: result})
}

func (h *CampaignHandler) CancelCampaign(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}
	campaignID := strings.TrimSpace(c.Params("id"))

	result, err := h.lifecycle.Cancel(requestContext(c), campaignID, orgID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(cancelResponse{CampaignID: campaignID, CancelResult: result})
}

func (h *CampaignHandler) GetCampaignSchedule(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}

	schedule, err := h.schedules.GetSchedule(requestContext(c), strings.TrimSpace(c.Params("id")), orgID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toCampaignScheduleResponse(schedule))
}

func toCampaignScheduleResponse(s *service.CampaignSchedule) campaignScheduleResponse {
	return campaignScheduleResponse{
		CampaignID:      s.Session.ID,
		Name:            s.Session.Name,
		Status:          s.Session.Status.String(),
		ScheduledBy:     s.Session.ScheduledBy,
		ScheduledAt:     s.Session.ScheduledAt,
		Stats:           s.Stats,
		ScheduledEmails: toScheduledEmailPayloads(s.ScheduledEmails),
	}
}

func toScheduledEmailPayloads(rows []repository.ScheduledEmailRow) []scheduledEmailPayload {
	payloads := make([]scheduledEmailPayload, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, scheduledEmailPayload{
			EmailID:       row.EmailID,
			DonorID:       row.DonorID,
			Recipient:     row.Recipient,
			Subject:       row.Subject,
			SendStatus:    row.SendStatus.String(),
			SendJobID:     row.SendJobID,
			JobStatus:     row.JobStatus.String(),
			ScheduledTime: row.ScheduledTime,
			SentAt:        row.SentAt,
			Error:         row.Error,
		})
	}
	return payloads
}
