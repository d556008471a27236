package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createCampaignSessionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_campaign_sessions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignSessionModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_campaign_sessions_org_status ON campaign_sessions (organization_id, status)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CampaignSessionModel{})
		},
	}
}
