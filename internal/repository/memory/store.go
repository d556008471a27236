// Package memory is an in-process repository.Store for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type state struct {
	seq       int64
	configs   map[string]domain.ScheduleConfig
	campaigns map[string]domain.CampaignSession
	emails    map[string]domain.EmailRecord
	emailSeq  map[string]int64
	jobs      map[string]domain.SendJob
	jobSeq    map[string]int64
}

func newState() *state {
	return &state{
		configs:   make(map[string]domain.ScheduleConfig),
		campaigns: make(map[string]domain.CampaignSession),
		emails:    make(map[string]domain.EmailRecord),
		emailSeq:  make(map[string]int64),
		jobs:      make(map[string]domain.SendJob),
		jobSeq:    make(map[string]int64),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.configs {
		c.configs[k] = v
	}
	for k, v := range s.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.emailSeq {
		c.emailSeq[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.jobSeq {
		c.jobSeq[k] = v
	}
	return c
}

type shared struct {
	mu     sync.Mutex
	data   *state
	clock  func() time.Time
	faults map[string]error
}

// Store keeps every table in maps behind one mutex. Transactions are
// serialized and rolled back by restoring a snapshot.
type Store struct {
	sh   *shared
	inTx bool
}

func NewStore() *Store {
	return &Store{sh: &shared{
		data:   newState(),
		clock:  time.Now,
		faults: make(map[string]error),
	}}
}

// SetClock overrides the timestamp source for created_at/updated_at.
func (s *Store) SetClock(clock func() time.Time) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	s.sh.clock = clock
}

// FailOn makes the named operation (for example "sendJobs.Create") return err
// until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	if err == nil {
		delete(s.sh.faults, op)
		return
	}
	s.sh.faults[op] = err
}

func (s *Store) Configs() repository.ScheduleConfigRepository { return configRepo{s} }

func (s *Store) Campaigns() repository.CampaignRepository { return campaignRepo{s} }

func (s *Store) Emails() repository.EmailRepository { return emailRepo{s} }

func (s *Store) SendJobs() repository.SendJobRepository { return sendJobRepo{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	snapshot := s.sh.data.clone()
	if err := fn(&Store{sh: s.sh, inTx: true}); err != nil {
		s.sh.data = snapshot
		return err
	}
	return nil
}

// do runs fn with the tables locked unless the caller already holds them.
func (s *Store) do(op string, fn func(d *state, now time.Time) error) error {
	if !s.inTx {
		s.sh.mu.Lock()
		defer s.sh.mu.Unlock()
	}
	if err := s.sh.faults[op]; err != nil {
		return err
	}
	return fn(s.sh.data, s.sh.clock().UTC())
}

// Seed helpers.

func (s *Store) AddCampaign(c domain.CampaignSession) domain.CampaignSession {
	_ = s.Campaigns().Create(context.Background(), &c)
	return c
}

// AddEmails stores emails in the given order, filling in ids, a pending
// status and timestamps where missing. Emails are created upstream; the
// service never inserts them.
func (s *Store) AddEmails(emails ...domain.EmailRecord) []domain.EmailRecord {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	d, now := s.sh.data, s.sh.clock().UTC()
	for i := range emails {
		e := &emails[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.SendStatus == "" {
			e.SendStatus = domain.SendStatusPending
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		d.seq++
		d.emails[e.ID] = *e
		d.emailSeq[e.ID] = d.seq
	}
	return emails
}

// Jobs returns a copy of every send job ordered by insertion.
func (s *Store) Jobs() []domain.SendJob {
	var out []domain.SendJob
	_ = s.do("", func(d *state, _ time.Time) error {
		out = make([]domain.SendJob, 0, len(d.jobs))
		for _, j := range d.jobs {
			out = append(out, j)
		}
		sort.Slice(out, func(i, k int) bool { return d.jobSeq[out[i].ID] < d.jobSeq[out[k].ID] })
		return nil
	})
	return out
}

type configRepo struct{ s *Store }

func (r configRepo) GetByOrganization(_ context.Context, organizationID string) (*domain.ScheduleConfig, error) {
	var out *domain.ScheduleConfig
	err := r.s.do("configs.GetByOrganization", func(d *state, _ time.Time) error {
		cfg, ok := d.configs[organizationID]
		if !ok {
			return domain.ErrNotFound
		}
		out = &cfg
		return nil
	})
	return out, err
}

func (r configRepo) CreateIfAbsent(_ context.Context, cfg *domain.ScheduleConfig) error {
	return r.s.do("configs.CreateIfAbsent", func(d *state, now time.Time) error {
		if _, ok := d.configs[cfg.OrganizationID]; ok {
			return nil
		}
		c := *cfg
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		d.configs[c.OrganizationID] = c
		return nil
	})
}

func (r configRepo) Save(_ context.Context, cfg *domain.ScheduleConfig) error {
	return r.s.do("configs.Save", func(d *state, now time.Time) error {
		c := *cfg
		if existing, ok := d.configs[c.OrganizationID]; ok {
			c.CreatedAt = existing.CreatedAt
		} else if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		d.configs[c.OrganizationID] = c
		*cfg = c
		return nil
	})
}

type campaignRepo struct{ s *Store }

func (r campaignRepo) Create(_ context.Context, c *domain.CampaignSession) error {
	return r.s.do("campaigns.Create", func(d *state, now time.Time) error {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if _, ok := d.campaigns[c.ID]; ok {
			return fmt.Errorf("%w: campaign %s already exists", domain.ErrConflict, c.ID)
		}
		if c.Status == "" {
			c.Status = domain.CampaignStatusIdle
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		d.campaigns[c.ID] = *c
		return nil
	})
}

func (r campaignRepo) GetByID(_ context.Context, id string, organizationID string) (*domain.CampaignSession, error) {
	var out *domain.CampaignSession
	err := r.s.do("campaigns.GetByID", func(d *state, _ time.Time) error {
		c, ok := d.campaigns[id]
		if !ok || c.OrganizationID != organizationID {
			return domain.ErrCampaignNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r campaignRepo) UpdateStatus(_ context.Context, id string, organizationID string, status domain.CampaignStatus) error {
	return r.s.do("campaigns.UpdateStatus", func(d *state, now time.Time) error {
		c, ok := d.campaigns[id]
		if !ok || c.OrganizationID != organizationID {
			return domain.ErrCampaignNotFound
		}
		c.Status = status
		c.UpdatedAt = now
		d.campaigns[id] = c
		return nil
	})
}

func (r campaignRepo) MarkScheduled(_ context.Context, id string, organizationID string, actorID string, at time.Time) error {
	return r.s.do("campaigns.MarkScheduled", func(d *state, now time.Time) error {
		c, ok := d.campaigns[id]
		if !ok || c.OrganizationID != organizationID {
			return domain.ErrCampaignNotFound
		}
		actor := actorID
		scheduledAt := at
		c.ScheduledBy = &actor
		c.ScheduledAt = &scheduledAt
		c.UpdatedAt = now
		d.campaigns[id] = c
		return nil
	})
}

type emailRepo struct{ s *Store }

func (r emailRepo) GetByID(_ context.Context, id string, organizationID string) (*domain.EmailRecord, error) {
	var out *domain.EmailRecord
	err := r.s.do("emails.GetByID", func(d *state, _ time.Time) error {
		e, ok := d.emails[id]
		if !ok || e.OrganizationID != organizationID {
			return domain.ErrNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r emailRepo) ListBySessionAndStatus(
	_ context.Context,
	sessionID string,
	organizationID string,
	status domain.SendStatus,
) ([]domain.EmailRecord, error) {
	var out []domain.EmailRecord
	err := r.s.do("emails.ListBySessionAndStatus", func(d *state, _ time.Time) error {
		out = make([]domain.EmailRecord, 0)
		for _, e := range d.emails {
			if e.SessionID == sessionID && e.OrganizationID == organizationID && e.SendStatus == status {
				out = append(out, e)
			}
		}
		sort.Slice(out, func(i, k int) bool {
			if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
				return out[i].CreatedAt.Before(out[k].CreatedAt)
			}
			return d.emailSeq[out[i].ID] < d.emailSeq[out[k].ID]
		})
		return nil
	})
	return out, err
}

func (r emailRepo) TransitionStatus(
	_ context.Context,
	id string,
	organizationID string,
	from domain.SendStatus,
	to domain.SendStatus,
) (bool, error) {
	changed := false
	err := r.s.do("emails.TransitionStatus", func(d *state, now time.Time) error {
		e, ok := d.emails[id]
		if !ok || e.OrganizationID != organizationID || e.SendStatus != from {
			return nil
		}
		e.SendStatus = to
		e.UpdatedAt = now
		d.emails[id] = e
		changed = true
		return nil
	})
	return changed, err
}

func (r emailRepo) TransitionSessionStatus(
	_ context.Context,
	sessionID string,
	organizationID string,
	from []domain.SendStatus,
	to domain.SendStatus,
) (int64, error) {
	var n int64
	err := r.s.do("emails.TransitionSessionStatus", func(d *state, now time.Time) error {
		for id, e := range d.emails {
			if e.SessionID != sessionID || e.OrganizationID != organizationID || !containsStatus(from, e.SendStatus) {
				continue
			}
			e.SendStatus = to
			e.UpdatedAt = now
			d.emails[id] = e
			n++
		}
		return nil
	})
	return n, err
}

func (r emailRepo) MarkSent(_ context.Context, id string, sentAt time.Time) (bool, error) {
	changed := false
	err := r.s.do("emails.MarkSent", func(d *state, now time.Time) error {
		e, ok := d.emails[id]
		if !ok || e.SendStatus != domain.SendStatusScheduled {
			return nil
		}
		at := sentAt
		e.SendStatus = domain.SendStatusSent
		e.SentAt = &at
		e.UpdatedAt = now
		d.emails[id] = e
		changed = true
		return nil
	})
	return changed, err
}

func (r emailRepo) CountBySessionGroupedByStatus(_ context.Context, sessionID string, organizationID string) ([]repository.StatusCount, error) {
	var out []repository.StatusCount
	err := r.s.do("emails.CountBySessionGroupedByStatus", func(d *state, _ time.Time) error {
		counts := make(map[string]int)
		for _, e := range d.emails {
			if e.SessionID == sessionID && e.OrganizationID == organizationID {
				counts[e.SendStatus.String()]++
			}
		}
		for status, count := range counts {
			out = append(out, repository.StatusCount{Status: status, Count: count})
		}
		sort.Slice(out, func(i, k int) bool { return out[i].Status < out[k].Status })
		return nil
	})
	return out, err
}

type sendJobRepo struct{ s *Store }

func (r sendJobRepo) Create(_ context.Context, job *domain.SendJob) error {
	return r.s.do("sendJobs.Create", func(d *state, now time.Time) error {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if job.Status == domain.JobStatusScheduled {
			for _, existing := range d.jobs {
				if existing.EmailID == job.EmailID && existing.Status == domain.JobStatusScheduled {
					return fmt.Errorf("%w: email %s already has a scheduled job", domain.ErrConflict, job.EmailID)
				}
			}
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		d.seq++
		d.jobs[job.ID] = *job
		d.jobSeq[job.ID] = d.seq
		return nil
	})
}

func (r sendJobRepo) GetByID(_ context.Context, id string) (*domain.SendJob, error) {
	var out *domain.SendJob
	err := r.s.do("sendJobs.GetByID", func(d *state, _ time.Time) error {
		j, ok := d.jobs[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &j
		return nil
	})
	return out, err
}

func (r sendJobRepo) ListBySessionAndStatus(
	_ context.Context,
	sessionID string,
	organizationID string,
	status domain.JobStatus,
) ([]domain.SendJob, error) {
	var out []domain.SendJob
	err := r.s.do("sendJobs.ListBySessionAndStatus", func(d *state, _ time.Time) error {
		out = make([]domain.SendJob, 0)
		for _, j := range d.jobs {
			if j.SessionID == sessionID && j.OrganizationID == organizationID && j.Status == status {
				out = append(out, j)
			}
		}
		sort.Slice(out, func(i, k int) bool {
			if !out[i].ScheduledTime.Equal(out[k].ScheduledTime) {
				return out[i].ScheduledTime.Before(out[k].ScheduledTime)
			}
			return d.jobSeq[out[i].ID] < d.jobSeq[out[k].ID]
		})
		return nil
	})
	return out, err
}

func (r sendJobRepo) CountBySessionAndStatus(
	_ context.Context,
	sessionID string,
	organizationID string,
	status domain.JobStatus,
) (int64, error) {
	var n int64
	err := r.s.do("sendJobs.CountBySessionAndStatus", func(d *state, _ time.Time) error {
		for _, j := range d.jobs {
			if j.SessionID == sessionID && j.OrganizationID == organizationID && j.Status == status {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r sendJobRepo) SetExternalJobID(_ context.Context, id string, externalJobID string) error {
	return r.s.do("sendJobs.SetExternalJobID", func(d *state, now time.Time) error {
		j, ok := d.jobs[id]
		if !ok {
			return domain.ErrNotFound
		}
		ext := externalJobID
		j.ExternalJobID = &ext
		j.UpdatedAt = now
		d.jobs[id] = j
		return nil
	})
}

func (r sendJobRepo) TransitionStatus(
	_ context.Context,
	id string,
	from domain.JobStatus,
	to domain.JobStatus,
	errMsg *string,
) (bool, error) {
	changed := false
	err := r.s.do("sendJobs.TransitionStatus", func(d *state, now time.Time) error {
		j, ok := d.jobs[id]
		if !ok || j.Status != from {
			return nil
		}
		j.Status = to
		if errMsg != nil {
			msg := *errMsg
			j.Error = &msg
		}
		j.UpdatedAt = now
		d.jobs[id] = j
		changed = true
		return nil
	})
	return changed, err
}

func (r sendJobRepo) Complete(_ context.Context, id string, completedAt time.Time) (bool, error) {
	changed := false
	err := r.s.do("sendJobs.Complete", func(d *state, now time.Time) error {
		j, ok := d.jobs[id]
		if !ok || j.Status != domain.JobStatusScheduled {
			return nil
		}
		at := completedAt
		j.Status = domain.JobStatusCompleted
		j.CompletedAt = &at
		j.UpdatedAt = now
		d.jobs[id] = j
		changed = true
		return nil
	})
	return changed, err
}

func (r sendJobRepo) LockForDelivery(ctx context.Context, id string) (*domain.SendJob, error) {
	return r.GetByID(ctx, id)
}

func (r sendJobRepo) CountInRange(_ context.Context, organizationID string, from time.Time, to time.Time) (int64, error) {
	var n int64
	err := r.s.do("sendJobs.CountInRange", func(d *state, _ time.Time) error {
		for _, j := range d.jobs {
			if j.OrganizationID != organizationID || !j.Status.CountsTowardQuota() {
				continue
			}
			if !j.ScheduledTime.Before(from) && j.ScheduledTime.Before(to) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r sendJobRepo) CountByLocalDay(
	_ context.Context,
	organizationID string,
	timezone string,
	from time.Time,
) ([]repository.DayCount, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrValidation, timezone)
	}

	var out []repository.DayCount
	err = r.s.do("sendJobs.CountByLocalDay", func(d *state, _ time.Time) error {
		counts := make(map[string]int)
		for _, j := range d.jobs {
			if j.OrganizationID != organizationID || !j.Status.CountsTowardQuota() || j.ScheduledTime.Before(from) {
				continue
			}
			counts[j.ScheduledTime.In(loc).Format("2006-01-02")]++
		}
		for day, count := range counts {
			out = append(out, repository.DayCount{Day: day, Count: count})
		}
		sort.Slice(out, func(i, k int) bool { return out[i].Day < out[k].Day })
		return nil
	})
	return out, err
}

func (r sendJobRepo) ListOrphaned(_ context.Context, createdBefore time.Time, limit int) ([]domain.SendJob, error) {
	var out []domain.SendJob
	err := r.s.do("sendJobs.ListOrphaned", func(d *state, _ time.Time) error {
		for _, j := range d.jobs {
			if j.Status == domain.JobStatusScheduled && j.ExternalJobID == nil && j.CreatedAt.Before(createdBefore) {
				out = append(out, j)
			}
		}
		sort.Slice(out, func(i, k int) bool { return d.jobSeq[out[i].ID] < d.jobSeq[out[k].ID] })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r sendJobRepo) ListScheduleRows(_ context.Context, sessionID string, organizationID string) ([]repository.ScheduledEmailRow, error) {
	var out []repository.ScheduledEmailRow
	err := r.s.do("sendJobs.ListScheduleRows", func(d *state, _ time.Time) error {
		latest := make(map[string]domain.SendJob)
		for _, j := range d.jobs {
			if j.SessionID != sessionID || j.OrganizationID != organizationID {
				continue
			}
			prev, ok := latest[j.EmailID]
			if !ok || d.jobSeq[j.ID] > d.jobSeq[prev.ID] {
				latest[j.EmailID] = j
			}
		}

		for emailID, j := range latest {
			e, ok := d.emails[emailID]
			if !ok || e.OrganizationID != organizationID {
				continue
			}
			sentAt := j.CompletedAt
			if sentAt == nil {
				sentAt = e.SentAt
			}
			out = append(out, repository.ScheduledEmailRow{
				EmailID:       e.ID,
				DonorID:       e.DonorID,
				Recipient:     e.Recipient,
				Subject:       e.Subject,
				SendStatus:    e.SendStatus,
				SendJobID:     j.ID,
				JobStatus:     j.Status,
				ScheduledTime: j.ScheduledTime,
				SentAt:        sentAt,
				Error:         j.Error,
			})
		}
		sort.Slice(out, func(i, k int) bool {
			if !out[i].ScheduledTime.Equal(out[k].ScheduledTime) {
				return out[i].ScheduledTime.Before(out[k].ScheduledTime)
			}
			return out[i].EmailID < out[k].EmailID
		})
		return nil
	})
	return out, err
}

func containsStatus(statuses []domain.SendStatus, s domain.SendStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
