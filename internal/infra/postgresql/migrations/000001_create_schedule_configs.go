package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createScheduleConfigsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_schedule_configs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ScheduleConfigModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE schedule_configs ADD CONSTRAINT chk_schedule_configs_daily_limit CHECK (daily_limit BETWEEN 1 AND 500)`,
				`ALTER TABLE schedule_configs ADD CONSTRAINT chk_schedule_configs_gaps CHECK (min_gap_minutes >= 1 AND max_gap_minutes >= min_gap_minutes)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ScheduleConfigModel{})
		},
	}
}
