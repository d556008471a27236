package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"go.uber.org/zap"
)

// ConfigStore owns the per-organization ScheduleConfig.
type ConfigStore struct {
	configs repository.ScheduleConfigRepository
	logger  *zap.Logger
}

func NewConfigStore(configs repository.ScheduleConfigRepository, logger *zap.Logger) *ConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigStore{configs: configs, logger: logger}
}

// GetOrCreate returns the organization's config, inserting the defaults on
// first access. Concurrent first calls converge on the same row.
func (s *ConfigStore) GetOrCreate(ctx context.Context, organizationID string) (*domain.ScheduleConfig, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}

	cfg, err := s.configs.GetByOrganization(ctx, organizationID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, s.persistenceErr("get schedule config", organizationID, err)
	}

	defaults := domain.DefaultScheduleConfig(organizationID)
	if err := s.configs.CreateIfAbsent(ctx, &defaults); err != nil {
		return nil, s.persistenceErr("create schedule config", organizationID, err)
	}

	cfg, err = s.configs.GetByOrganization(ctx, organizationID)
	if err != nil {
		return nil, s.persistenceErr("get schedule config", organizationID, err)
	}

	s.logger.Info("schedule config created with defaults",
		zap.String("organizationId", organizationID),
		zap.Int("dailyLimit", cfg.DailyLimit),
		zap.String("timezone", cfg.Timezone),
	)
	return cfg, nil
}

// Update merges patch onto the current config, validates the result and
// persists it. Nothing is written when validation fails.
func (s *ConfigStore) Update(ctx context.Context, organizationID string, patch domain.ScheduleConfigPatch) (*domain.ScheduleConfig, error) {
	current, err := s.GetOrCreate(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	merged := current.Apply(patch)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	if err := s.configs.Save(ctx, &merged); err != nil {
		return nil, s.persistenceErr("save schedule config", organizationID, err)
	}

	s.logger.Info("schedule config updated",
		zap.String("organizationId", organizationID),
		zap.Int("dailyLimit", merged.DailyLimit),
		zap.Int("minGapMinutes", merged.MinGapMinutes),
		zap.Int("maxGapMinutes", merged.MaxGapMinutes),
		zap.String("timezone", merged.Timezone),
	)
	return &merged, nil
}

func (s *ConfigStore) persistenceErr(op, organizationID string, err error) error {
	s.logger.Error("schedule config persistence failure",
		zap.String("operation", op),
		zap.String("organizationId", organizationID),
		zap.Error(err),
	)
	return domain.PersistenceFailure(op)
}
