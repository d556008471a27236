package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createCampaignEmailsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_campaign_emails",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EmailRecordModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_campaign_emails_session_status ON campaign_emails (session_id, organization_id, send_status, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailRecordModel{})
		},
	}
}
