package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
)

const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderActorID        = "X-Actor-ID"
)

func organizationID(c *fiber.Ctx) (string, error) {
	orgID := strings.TrimSpace(c.Get(HeaderOrganizationID))
	if orgID == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, HeaderOrganizationID+" header is required")
	}
	return orgID, nil
}

func actorID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(HeaderActorID))
}

// requestContext carries the request's correlation id into the service call.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
