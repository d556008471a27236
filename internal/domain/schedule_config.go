package domain

import (
	"fmt"
	"strings"
	"time"
)

// Sending policy defaults applied when an organization has no config yet.
const (
	DefaultDailyLimit    = 150
	DefaultMinGapMinutes = 1
	DefaultMaxGapMinutes = 3
	DefaultTimezone      = "America/New_York"

	MinDailyLimit = 1
	MaxDailyLimit = 500

	// MaxGapMinutesLimit keeps at least one slot inside a sending day.
	MaxGapMinutesLimit = 720
)

// ScheduleConfig is the per-organization sending policy.
type ScheduleConfig struct {
	OrganizationID string
	DailyLimit     int
	MinGapMinutes  int
	MaxGapMinutes  int
	Timezone       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScheduleConfigPatch carries a partial update; nil fields are left unchanged.
type ScheduleConfigPatch struct {
	DailyLimit    *int
	MinGapMinutes *int
	MaxGapMinutes *int
	Timezone      *string
}

func (p ScheduleConfigPatch) IsEmpty() bool {
	return p.DailyLimit == nil && p.MinGapMinutes == nil && p.MaxGapMinutes == nil && p.Timezone == nil
}

func DefaultScheduleConfig(organizationID string) ScheduleConfig {
	return ScheduleConfig{
		OrganizationID: organizationID,
		DailyLimit:     DefaultDailyLimit,
		MinGapMinutes:  DefaultMinGapMinutes,
		MaxGapMinutes:  DefaultMaxGapMinutes,
		Timezone:       DefaultTimezone,
	}
}

// Apply returns a copy of c with the non-nil patch fields merged in.
func (c ScheduleConfig) Apply(p ScheduleConfigPatch) ScheduleConfig {
	if p.DailyLimit != nil {
		c.DailyLimit = *p.DailyLimit
	}
	if p.MinGapMinutes != nil {
		c.MinGapMinutes = *p.MinGapMinutes
	}
	if p.MaxGapMinutes != nil {
		c.MaxGapMinutes = *p.MaxGapMinutes
	}
	if p.Timezone != nil {
		c.Timezone = strings.TrimSpace(*p.Timezone)
	}
	return c
}

func (c ScheduleConfig) Validate() error {
	if strings.TrimSpace(c.OrganizationID) == "" {
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	if c.DailyLimit < MinDailyLimit || c.DailyLimit > MaxDailyLimit {
		return fmt.Errorf("%w: dailyLimit must be between %d and %d (got %d)",
			ErrValidation, MinDailyLimit, MaxDailyLimit, c.DailyLimit)
	}
	if c.MinGapMinutes < 1 {
		return fmt.Errorf("%w: minGapMinutes must be at least 1 (got %d)", ErrValidation, c.MinGapMinutes)
	}
	if c.MaxGapMinutes < c.MinGapMinutes {
		return fmt.Errorf("%w: maxGapMinutes (%d) must be greater than or equal to minGapMinutes (%d)",
			ErrValidation, c.MaxGapMinutes, c.MinGapMinutes)
	}
	if c.MaxGapMinutes > MaxGapMinutesLimit {
		return fmt.Errorf("%w: maxGapMinutes must be at most %d (got %d)", ErrValidation, MaxGapMinutesLimit, c.MaxGapMinutes)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured IANA timezone.
func (c ScheduleConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return nil, fmt.Errorf("%w: timezone is required", ErrValidation)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrValidation, c.Timezone)
	}
	return loc, nil
}
