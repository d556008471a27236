package domain

import (
	"errors"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestDefaultScheduleConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultScheduleConfig("org-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
	if cfg.DailyLimit != 150 || cfg.MinGapMinutes != 1 || cfg.MaxGapMinutes != 3 {
		t.Fatalf("defaults = %d/%d/%d, want 150/1/3", cfg.DailyLimit, cfg.MinGapMinutes, cfg.MaxGapMinutes)
	}
	if cfg.Timezone != "America/New_York" {
		t.Fatalf("Timezone = %q, want America/New_York", cfg.Timezone)
	}
}

func TestScheduleConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		patch       ScheduleConfigPatch
		wantErr     bool
		errContains string
	}{
		{name: "defaults", patch: ScheduleConfigPatch{}},
		{name: "lower bound", patch: ScheduleConfigPatch{DailyLimit: intPtr(1)}},
		{name: "upper bound", patch: ScheduleConfigPatch{DailyLimit: intPtr(500)}},
		{name: "zero daily limit", patch: ScheduleConfigPatch{DailyLimit: intPtr(0)}, wantErr: true, errContains: "dailyLimit"},
		{name: "daily limit over max", patch: ScheduleConfigPatch{DailyLimit: intPtr(600)}, wantErr: true, errContains: "dailyLimit"},
		{
			name:        "max gap below min gap",
			patch:       ScheduleConfigPatch{MinGapMinutes: intPtr(5), MaxGapMinutes: intPtr(3)},
			wantErr:     true,
			errContains: "maxGapMinutes",
		},
		{name: "equal gaps", patch: ScheduleConfigPatch{MinGapMinutes: intPtr(4), MaxGapMinutes: intPtr(4)}},
		{name: "max gap over limit", patch: ScheduleConfigPatch{MaxGapMinutes: intPtr(721)}, wantErr: true, errContains: "maxGapMinutes"},
		{name: "zero min gap", patch: ScheduleConfigPatch{MinGapMinutes: intPtr(0)}, wantErr: true, errContains: "minGapMinutes"},
		{name: "unknown timezone", patch: ScheduleConfigPatch{Timezone: strPtr("Mars/Olympus")}, wantErr: true, errContains: "timezone"},
		{name: "empty timezone", patch: ScheduleConfigPatch{Timezone: strPtr("  ")}, wantErr: true, errContains: "timezone"},
		{name: "other timezone", patch: ScheduleConfigPatch{Timezone: strPtr("Asia/Tokyo")}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := DefaultScheduleConfig("org-1").Apply(tt.patch).Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("Validate() error = %q, want mention of %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestScheduleConfigApplyLeavesUnsetFields(t *testing.T) {
	t.Parallel()

	base := DefaultScheduleConfig("org-1")
	got := base.Apply(ScheduleConfigPatch{MaxGapMinutes: intPtr(10), Timezone: strPtr(" Europe/Istanbul ")})

	if got.DailyLimit != base.DailyLimit {
		t.Fatalf("DailyLimit = %d, want %d", got.DailyLimit, base.DailyLimit)
	}
	if got.MinGapMinutes != base.MinGapMinutes {
		t.Fatalf("MinGapMinutes = %d, want %d", got.MinGapMinutes, base.MinGapMinutes)
	}
	if got.MaxGapMinutes != 10 {
		t.Fatalf("MaxGapMinutes = %d, want 10", got.MaxGapMinutes)
	}
	if got.Timezone != "Europe/Istanbul" {
		t.Fatalf("Timezone = %q, want Europe/Istanbul", got.Timezone)
	}
	if base.MaxGapMinutes != DefaultMaxGapMinutes {
		t.Fatal("Apply() must not mutate the receiver")
	}
}

func TestScheduleConfigPatchIsEmpty(t *testing.T) {
	t.Parallel()

	if !(ScheduleConfigPatch{}).IsEmpty() {
		t.Fatal("zero patch should be empty")
	}
	if (ScheduleConfigPatch{DailyLimit: intPtr(3)}).IsEmpty() {
		t.Fatal("patch with daily limit should not be empty")
	}
}
