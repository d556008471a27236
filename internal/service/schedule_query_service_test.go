package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
)

func TestGetScheduleSummarizesCampaign(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 3)
	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	h.store.AddEmails(domain.EmailRecord{
		ID:             "c1-email-new",
		SessionID:      "c1",
		OrganizationID: testOrg,
		DonorID:        "donor-new",
		Recipient:      "new@example.org",
		SendStatus:     domain.SendStatusPending,
	})

	schedule, err := h.query.GetSchedule(context.Background(), "c1", testOrg)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}

	if schedule.Session.ID != "c1" || schedule.Session.Status != domain.CampaignStatusActive {
		t.Fatalf("Session = %+v, want active c1", schedule.Session)
	}
	want := ScheduleStats{Total: 4, Pending: 1, Scheduled: 3}
	if schedule.Stats != want {
		t.Fatalf("Stats = %+v, want %+v", schedule.Stats, want)
	}
	if len(schedule.ScheduledEmails) != 3 {
		t.Fatalf("ScheduledEmails = %d, want 3", len(schedule.ScheduledEmails))
	}
	for i := 1; i < len(schedule.ScheduledEmails); i++ {
		prev, cur := schedule.ScheduledEmails[i-1], schedule.ScheduledEmails[i]
		if !prev.ScheduledTime.Before(cur.ScheduledTime) {
			t.Fatalf("ScheduledEmails not in send order at %d: %v >= %v", i, prev.ScheduledTime, cur.ScheduledTime)
		}
	}
	for _, row := range schedule.ScheduledEmails {
		if row.JobStatus != domain.JobStatusScheduled || row.SentAt != nil {
			t.Fatalf("row = %+v, want scheduled job without sent time", row)
		}
	}
}

func TestGetScheduleShowsLatestJobAfterResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 2)
	ctx := context.Background()
	if _, err := h.campaign.Schedule(ctx, "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, err := h.campaign.Pause(ctx, "c1", testOrg); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if _, err := h.campaign.Resume(ctx, "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	schedule, err := h.query.GetSchedule(ctx, "c1", testOrg)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if len(schedule.ScheduledEmails) != 2 {
		t.Fatalf("ScheduledEmails = %d, want 2 (one per email)", len(schedule.ScheduledEmails))
	}
	for _, row := range schedule.ScheduledEmails {
		if row.JobStatus != domain.JobStatusScheduled {
			t.Fatalf("row job status = %s, want %s", row.JobStatus, domain.JobStatusScheduled)
		}
	}
}

func TestGetScheduleTenantIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 2)
	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	schedule, err := h.query.GetSchedule(context.Background(), "c1", "org-2")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetSchedule() error = %v, want ErrNotFound", err)
	}
	if schedule != nil {
		t.Fatalf("GetSchedule() = %+v, want nil", schedule)
	}
}

func TestGetSchedulePersistenceFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 1)
	h.store.FailOn("sendJobs.ListScheduleRows", errors.New("timeout"))

	if _, err := h.query.GetSchedule(context.Background(), "c1", testOrg); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("GetSchedule() error = %v, want ErrPersistence", err)
	}
}
