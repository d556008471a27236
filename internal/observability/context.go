package observability

import (
	"context"

	"go.uber.org/zap"
)

type correlationIDKey struct{}

// WithCorrelationID tags ctx with the id of the request or task it serves.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id, id != ""
}

// WithContextLogger adds the correlation id of ctx, if any, to logger.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(zap.String("correlationId", id))
	}
	return logger
}

// CampaignLogger scopes logger to one campaign of one organization.
func CampaignLogger(logger *zap.Logger, ctx context.Context, campaignID, organizationID string, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		return nil
	}
	scoped := append([]zap.Field{
		zap.String("campaignId", campaignID),
		zap.String("organizationId", organizationID),
	}, fields...)
	return WithContextLogger(logger, ctx).With(scoped...)
}
