package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/service"
)

// SendCompleter records the outcome a managed job runner reports after it
// performed a send.
type SendCompleter interface {
	CompleteSend(ctx context.Context, sendJobID, organizationID string, sendErr error) error
}

// SendDeliverer performs a due send when a managed job runner calls back.
type SendDeliverer interface {
	DeliverJob(ctx context.Context, sendJobID, organizationID string) (service.DeliveryOutcome, error)
}

type SendJobHandler struct {
	completer SendCompleter
	deliverer SendDeliverer
}

func NewSendJobHandler(completer SendCompleter, deliverer SendDeliverer) (*SendJobHandler, error) {
	if completer == nil {
		return nil, fmt.Errorf("send completer is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("send deliverer is required")
	}
	return &SendJobHandler{completer: completer, deliverer: deliverer}, nil
}

func RegisterSendJobRoutes(router fiber.Router, completer SendCompleter, deliverer SendDeliverer) error {
	h, err := NewSendJobHandler(completer, deliverer)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/send-jobs/:id/deliver", h.Deliver)
	v1.Post("/send-jobs/:id/result", h.ReportResult)
	return nil
}

// Deliver is the due-time callback of a managed job runner. The send only
// happens while the job is still scheduled locally.
func (h *SendJobHandler) Deliver(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}

	sendJobID := strings.TrimSpace(c.Params("id"))
	outcome, err := h.deliverer.DeliverJob(requestContext(c), sendJobID, orgID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"sendJobId": sendJobID,
		"outcome":   outcome,
	})
}

type sendResultRequest struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (h *SendJobHandler) ReportResult(c *fiber.Ctx) error {
	orgID, err := organizationID(c)
	if err != nil {
		return err
	}

	var req sendResultRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var sendErr error
	if !req.Success {
		message := strings.TrimSpace(req.Error)
		if message == "" {
			message = "send failed"
		}
		sendErr = errors.New(message)
	}

	sendJobID := strings.TrimSpace(c.Params("id"))
	if err := h.completer.CompleteSend(requestContext(c), sendJobID, orgID, sendErr); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"sendJobId": sendJobID,
		"recorded":  true,
	})
}
