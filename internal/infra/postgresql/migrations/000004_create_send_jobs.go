package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createSendJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_send_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SendJobModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_send_jobs_session_status ON send_jobs (session_id, organization_id, status, scheduled_time)`,
				`CREATE INDEX IF NOT EXISTS idx_send_jobs_org_quota ON send_jobs (organization_id, scheduled_time) WHERE status IN ('scheduled', 'completed')`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_send_jobs_email_scheduled ON send_jobs (email_id) WHERE status = 'scheduled'`,
				`CREATE INDEX IF NOT EXISTS idx_send_jobs_orphaned ON send_jobs (created_at) WHERE status = 'scheduled' AND external_job_id IS NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SendJobModel{})
		},
	}
}
