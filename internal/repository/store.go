package repository

import (
	"context"

	"gorm.io/gorm"
)

var _ Store = (*GormStore)(nil)

// GormStore is the gorm-backed Store. Repositories returned from a store
// passed to WithinTx share its transaction.
type GormStore struct {
	db        *gorm.DB
	configs   *GormScheduleConfigRepo
	campaigns *GormCampaignRepo
	emails    *GormEmailRepo
	sendJobs  *GormSendJobRepo
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:        db,
		configs:   NewGormScheduleConfigRepo(db),
		campaigns: NewGormCampaignRepo(db),
		emails:    NewGormEmailRepo(db),
		sendJobs:  NewGormSendJobRepo(db),
	}
}

func (s *GormStore) Configs() ScheduleConfigRepository { return s.configs }

func (s *GormStore) Campaigns() CampaignRepository { return s.campaigns }

func (s *GormStore) Emails() EmailRepository { return s.emails }

func (s *GormStore) SendJobs() SendJobRepository { return s.sendJobs }

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}
