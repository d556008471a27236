package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/jobrunner"
	"github.com/kursadbilgin/campaign-dispatch/internal/lock"
	"github.com/kursadbilgin/campaign-dispatch/internal/provider"
	"github.com/kursadbilgin/campaign-dispatch/internal/quota"
	"github.com/kursadbilgin/campaign-dispatch/internal/repository/memory"
	"github.com/kursadbilgin/campaign-dispatch/internal/scheduling"
	"go.uber.org/zap"
)

const testOrg = "org-1"

// 10:00 in New York, the default timezone.
var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu        sync.Mutex
	seq       int
	triggerFn func(attempt int, payload dispatch.SendEmailPayload) error
	cancelFn  func(handle string) error
	handles   map[string]string
	cancelled []string
}

func (f *fakeRunner) Trigger(_ context.Context, _ string, payload any, _ jobrunner.TriggerOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	p := payload.(dispatch.SendEmailPayload)
	if f.triggerFn != nil {
		if err := f.triggerFn(f.seq, p); err != nil {
			return "", err
		}
	}
	handle := fmt.Sprintf("h-%d", f.seq)
	if f.handles == nil {
		f.handles = make(map[string]string)
	}
	f.handles[handle] = p.SendJobID
	return handle, nil
}

func (f *fakeRunner) Cancel(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, handle)
	if f.cancelFn != nil {
		return f.cancelFn(handle)
	}
	return nil
}

func (f *fakeRunner) cancelledHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.cancelled...)
	sort.Strings(out)
	return out
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []string
	sendFn func(email domain.EmailRecord) error
}

func (f *fakeMailer) Send(_ context.Context, email domain.EmailRecord) (*provider.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, email.ID)
	f.mu.Unlock()
	if f.sendFn != nil {
		if err := f.sendFn(email); err != nil {
			return nil, err
		}
	}
	return &provider.SendResult{StatusCode: 202, MessageID: "msg-" + email.ID}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, organizationID string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, organizationID string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, organizationID)
	}
	return nil
}

type harness struct {
	store    *memory.Store
	runner   *fakeRunner
	bridge   *dispatch.Bridge
	configs  *quota.ConfigStore
	campaign *CampaignService
	query    *ScheduleQueryService
	now      time.Time
}

func newHarness(t *testing.T, logger *zap.Logger) *harness {
	t.Helper()

	h := &harness{
		store:  memory.NewStore(),
		runner: &fakeRunner{},
		now:    testNow,
	}
	h.store.SetClock(func() time.Time { return h.now })

	bridge, err := dispatch.NewBridge(h.store, h.runner, time.Second, logger)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	h.bridge = bridge
	h.configs = quota.NewConfigStore(h.store.Configs(), logger)
	usage := quota.NewUsageCounter(h.configs, h.store.SendJobs(), logger)

	svc, err := NewCampaignService(
		h.store,
		h.configs,
		usage,
		scheduling.NewAllocator(rand.New(rand.NewSource(7))),
		bridge,
		lock.NewLocalLocker(),
		logger,
	)
	if err != nil {
		t.Fatalf("NewCampaignService() error = %v", err)
	}
	svc.now = func() time.Time { return h.now }
	h.campaign = svc

	query, err := NewScheduleQueryService(h.store, logger)
	if err != nil {
		t.Fatalf("NewScheduleQueryService() error = %v", err)
	}
	h.query = query
	return h
}

// seedCampaign creates a campaign of testOrg with n pending emails.
func (h *harness) seedCampaign(id string, n int) []domain.EmailRecord {
	h.store.AddCampaign(domain.CampaignSession{
		ID:             id,
		OrganizationID: testOrg,
		Name:           "campaign " + id,
		Status:         domain.CampaignStatusIdle,
		CreatedBy:      "author-1",
	})

	emails := make([]domain.EmailRecord, n)
	for i := range emails {
		emails[i] = domain.EmailRecord{
			ID:             fmt.Sprintf("%s-email-%02d", id, i),
			SessionID:      id,
			OrganizationID: testOrg,
			DonorID:        fmt.Sprintf("donor-%02d", i),
			Recipient:      fmt.Sprintf("donor%02d@example.org", i),
			Subject:        "Spring appeal",
			SendStatus:     domain.SendStatusPending,
		}
	}
	return h.store.AddEmails(emails...)
}

func (h *harness) setLimit(t *testing.T, limit int) {
	t.Helper()
	if _, err := h.configs.Update(context.Background(), testOrg, domain.ScheduleConfigPatch{DailyLimit: &limit}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func (h *harness) jobsOf(campaignID string, status domain.JobStatus) []domain.SendJob {
	var out []domain.SendJob
	for _, j := range h.store.Jobs() {
		if j.SessionID == campaignID && j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ScheduledTime.Before(out[k].ScheduledTime) })
	return out
}

func (h *harness) emailStatuses(t *testing.T, campaignID string) map[domain.SendStatus]int {
	t.Helper()

	counts, err := h.store.Emails().CountBySessionGroupedByStatus(context.Background(), campaignID, testOrg)
	if err != nil {
		t.Fatalf("CountBySessionGroupedByStatus() error = %v", err)
	}
	out := make(map[domain.SendStatus]int, len(counts))
	for _, c := range counts {
		out[domain.SendStatus(c.Status)] = c.Count
	}
	return out
}

func (h *harness) session(t *testing.T, campaignID string) *domain.CampaignSession {
	t.Helper()

	session, err := h.store.Campaigns().GetByID(context.Background(), campaignID, testOrg)
	if err != nil {
		t.Fatalf("Campaigns().GetByID() error = %v", err)
	}
	return session
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation() error = %v", err)
	}
	return loc
}

var errRunnerDown = errors.New("runner unavailable")
