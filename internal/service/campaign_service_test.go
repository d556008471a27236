package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"github.com/kursadbilgin/campaign-dispatch/internal/scheduling"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduleExactFitBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 3)

	result, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if result.Scheduled != 3 || result.ScheduledForToday != 3 || result.ScheduledForLater != 0 {
		t.Fatalf("Schedule() = %+v, want 3 scheduled today, 0 later", result)
	}
	jobs := h.jobsOf("c1", domain.JobStatusScheduled)
	if len(jobs) != 3 {
		t.Fatalf("scheduled jobs = %d, want 3", len(jobs))
	}
	if result.EstimatedCompletionTime == nil || !result.EstimatedCompletionTime.Equal(jobs[2].ScheduledTime) {
		t.Fatalf("EstimatedCompletionTime = %v, want %v", result.EstimatedCompletionTime, jobs[2].ScheduledTime)
	}
	for _, j := range jobs {
		if j.ExternalJobID == nil {
			t.Fatalf("job %s has no external handle", j.ID)
		}
	}

	if got := h.emailStatuses(t, "c1")[domain.SendStatusScheduled]; got != 3 {
		t.Fatalf("scheduled emails = %d, want 3", got)
	}
	session := h.session(t, "c1")
	if session.Status != domain.CampaignStatusActive {
		t.Fatalf("session status = %s, want %s", session.Status, domain.CampaignStatusActive)
	}
	if session.ScheduledBy == nil || *session.ScheduledBy != "actor-1" {
		t.Fatalf("session scheduledBy = %v, want actor-1", session.ScheduledBy)
	}
}

func TestScheduleOverflowBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.setLimit(t, 2)
	h.seedCampaign("c1", 3)

	result, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if result.ScheduledForToday != 2 || result.ScheduledForLater != 1 {
		t.Fatalf("Schedule() = %+v, want 2 today, 1 later", result)
	}

	loc := newYork(t)
	jobs := h.jobsOf("c1", domain.JobStatusScheduled)
	if got := scheduling.DayKey(jobs[2].ScheduledTime, loc); got != "2026-03-03" {
		t.Fatalf("third email day = %s, want 2026-03-03", got)
	}
}

func TestScheduleExhaustedQuota(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	for i := 0; i < domain.DefaultDailyLimit; i++ {
		err := h.store.SendJobs().Create(context.Background(), &domain.SendJob{
			EmailID:        fmt.Sprintf("earlier-%d", i),
			SessionID:      "earlier-campaign",
			OrganizationID: testOrg,
			ScheduledTime:  testNow.Add(-time.Duration(i) * time.Minute),
			Status:         domain.JobStatusCompleted,
		})
		if err != nil {
			t.Fatalf("SendJobs().Create() error = %v", err)
		}
	}
	h.seedCampaign("c1", 5)

	result, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if result.ScheduledForToday != 0 || result.ScheduledForLater != 5 {
		t.Fatalf("Schedule() = %+v, want 0 today, 5 later", result)
	}

	loc := newYork(t)
	for _, j := range h.jobsOf("c1", domain.JobStatusScheduled) {
		if got := scheduling.DayKey(j.ScheduledTime, loc); got != "2026-03-03" {
			t.Fatalf("job day = %s, want 2026-03-03", got)
		}
	}
}

func TestScheduleEmptyCampaignWritesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 0)

	_, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1")
	if !errors.Is(err, domain.ErrNoEmailsToSchedule) {
		t.Fatalf("Schedule() error = %v, want ErrNoEmailsToSchedule", err)
	}
	if !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("Schedule() error = %v, want precondition kind", err)
	}
	if got := len(h.store.Jobs()); got != 0 {
		t.Fatalf("jobs = %d, want 0", got)
	}
	if _, err := h.store.Configs().GetByOrganization(context.Background(), testOrg); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("config lookup error = %v, want ErrNotFound (no config written)", err)
	}
	if got := h.session(t, "c1").Status; got != domain.CampaignStatusIdle {
		t.Fatalf("session status = %s, want %s", got, domain.CampaignStatusIdle)
	}
}

func TestScheduleQuotaHoldsAcrossConcurrentCampaigns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.setLimit(t, 3)
	h.seedCampaign("c1", 5)
	h.seedCampaign("c2", 4)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"c1", "c2"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.campaign.Schedule(context.Background(), id, testOrg, "actor-1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Schedule() error = %v", err)
	}

	loc := newYork(t)
	perDay := make(map[string]int)
	total := 0
	for _, j := range h.store.Jobs() {
		if j.Status.CountsTowardQuota() {
			perDay[scheduling.DayKey(j.ScheduledTime, loc)]++
			total++
		}
	}
	if total != 9 {
		t.Fatalf("live jobs = %d, want 9", total)
	}
	for day, n := range perDay {
		if n > 3 {
			t.Fatalf("day %s has %d jobs, want at most 3", day, n)
		}
	}
}

func TestScheduleGapsWithinBounds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	minGap, maxGap := 2, 5
	if _, err := h.configs.Update(context.Background(), testOrg, domain.ScheduleConfigPatch{
		MinGapMinutes: &minGap,
		MaxGapMinutes: &maxGap,
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	h.seedCampaign("c1", 20)

	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	jobs := h.jobsOf("c1", domain.JobStatusScheduled)
	if first := jobs[0].ScheduledTime.Sub(testNow); first < 2*time.Minute || first > 5*time.Minute {
		t.Fatalf("first gap = %v, want within [2m, 5m]", first)
	}
	for i := 1; i < len(jobs); i++ {
		gap := jobs[i].ScheduledTime.Sub(jobs[i-1].ScheduledTime)
		if gap < 2*time.Minute || gap > 5*time.Minute {
			t.Fatalf("gap %d = %v, want within [2m, 5m]", i, gap)
		}
	}
}

func TestScheduleSubmissionFailureIsIsolated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.runner.triggerFn = func(attempt int, _ dispatch.SendEmailPayload) error {
		if attempt == 2 {
			return errRunnerDown
		}
		return nil
	}
	h.seedCampaign("c1", 4)

	result, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if result.Scheduled != 3 || result.Failed != 1 {
		t.Fatalf("Schedule() = %+v, want 3 scheduled, 1 failed", result)
	}

	statuses := h.emailStatuses(t, "c1")
	if statuses[domain.SendStatusScheduled] != 3 || statuses[domain.SendStatusPending] != 1 {
		t.Fatalf("email statuses = %v, want 3 scheduled, 1 pending", statuses)
	}
	if got := len(h.jobsOf("c1", domain.JobStatusFailed)); got != 1 {
		t.Fatalf("failed jobs = %d, want 1", got)
	}

	// The released email is picked up by the next schedule.
	h.runner.triggerFn = nil
	result, err = h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1")
	if err != nil {
		t.Fatalf("second Schedule() error = %v", err)
	}
	if result.Scheduled != 1 {
		t.Fatalf("second Schedule() scheduled = %d, want 1", result.Scheduled)
	}
}

func TestRescheduleAfterFailureContinuesAfterLiveJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	minGap, maxGap := 5, 10
	if _, err := h.configs.Update(context.Background(), testOrg, domain.ScheduleConfigPatch{
		MinGapMinutes: &minGap,
		MaxGapMinutes: &maxGap,
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	h.runner.triggerFn = func(attempt int, _ dispatch.SendEmailPayload) error {
		if attempt == 4 {
			return errRunnerDown
		}
		return nil
	}
	h.seedCampaign("c1", 4)

	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	h.runner.triggerFn = nil
	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("second Schedule() error = %v", err)
	}

	var live []domain.SendJob
	for _, j := range h.store.Jobs() {
		if j.SessionID == "c1" && j.Status == domain.JobStatusScheduled {
			live = append(live, j)
		}
	}
	if len(live) != 4 {
		t.Fatalf("live jobs = %d, want 4", len(live))
	}
	for i := 1; i < len(live); i++ {
		prev, cur := live[i-1].ScheduledTime, live[i].ScheduledTime
		if !cur.After(prev) {
			t.Fatalf("job %d at %s does not follow job %d at %s", i, cur, i-1, prev)
		}
	}
	if gap := live[3].ScheduledTime.Sub(live[2].ScheduledTime); gap < 5*time.Minute || gap > 10*time.Minute {
		t.Fatalf("resubmitted gap = %v, want within [5m, 10m]", gap)
	}
}

func TestScheduleAllSubmissionsFailing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.runner.triggerFn = func(int, dispatch.SendEmailPayload) error { return errRunnerDown }
	h.seedCampaign("c1", 2)

	_, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1")
	if !errors.Is(err, domain.ErrExternalDependency) {
		t.Fatalf("Schedule() error = %v, want ErrExternalDependency", err)
	}
	if got := h.session(t, "c1").Status; got != domain.CampaignStatusIdle {
		t.Fatalf("session status = %s, want %s", got, domain.CampaignStatusIdle)
	}
	if got := h.emailStatuses(t, "c1")[domain.SendStatusPending]; got != 2 {
		t.Fatalf("pending emails = %d, want 2", got)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 4)

	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	original := h.jobsOf("c1", domain.JobStatusScheduled)
	originalTimes := make(map[time.Time]bool, len(original))
	wantCancelled := make([]string, 0, len(original))
	for _, j := range original {
		originalTimes[j.ScheduledTime] = true
		wantCancelled = append(wantCancelled, *j.ExternalJobID)
	}

	paused, err := h.campaign.Pause(context.Background(), "c1", testOrg)
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if paused.CancelledJobs != 4 {
		t.Fatalf("Pause() cancelledJobs = %d, want 4", paused.CancelledJobs)
	}
	if got := h.emailStatuses(t, "c1")[domain.SendStatusPaused]; got != 4 {
		t.Fatalf("paused emails = %d, want 4", got)
	}
	if got := len(h.jobsOf("c1", domain.JobStatusCancelled)); got != 4 {
		t.Fatalf("cancelled jobs = %d, want 4", got)
	}
	if got := h.session(t, "c1").Status; got != domain.CampaignStatusPaused {
		t.Fatalf("session status = %s, want %s", got, domain.CampaignStatusPaused)
	}

	h.now = testNow.Add(30 * time.Minute)
	resumed, err := h.campaign.Resume(context.Background(), "c1", testOrg, "actor-2")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Rescheduled != 4 {
		t.Fatalf("Resume() rescheduled = %d, want 4", resumed.Rescheduled)
	}

	fresh := h.jobsOf("c1", domain.JobStatusScheduled)
	if len(fresh) != 4 {
		t.Fatalf("scheduled jobs after resume = %d, want 4", len(fresh))
	}
	for _, j := range fresh {
		if originalTimes[j.ScheduledTime] {
			t.Fatalf("job %s reuses cancelled time %v", j.ID, j.ScheduledTime)
		}
		if j.ScheduledTime.Before(h.now) {
			t.Fatalf("job %s scheduled at %v, before resume time %v", j.ID, j.ScheduledTime, h.now)
		}
	}

	got := h.runner.cancelledHandles()
	if len(got) != len(wantCancelled) {
		t.Fatalf("runner cancels = %v, want one per original job %v", got, wantCancelled)
	}
	seen := make(map[string]int)
	for _, handle := range got {
		seen[handle]++
	}
	for _, handle := range wantCancelled {
		if seen[handle] != 1 {
			t.Fatalf("handle %s cancelled %d times, want 1", handle, seen[handle])
		}
	}
	if got := h.session(t, "c1").Status; got != domain.CampaignStatusActive {
		t.Fatalf("session status = %s, want %s", got, domain.CampaignStatusActive)
	}
}

func TestConcurrentPauseCancelsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 3)
	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.campaign.Pause(context.Background(), "c1", testOrg)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, nothing := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrNothingToPause):
			nothing++
		default:
			t.Fatalf("Pause() error = %v", err)
		}
	}
	if succeeded != 1 || nothing != 1 {
		t.Fatalf("pause outcomes = %d ok / %d nothing, want 1 / 1", succeeded, nothing)
	}
	if got := len(h.runner.cancelledHandles()); got != 3 {
		t.Fatalf("runner cancels = %d, want 3", got)
	}
}

func TestPauseToleratesRunnerCancelFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.runner.cancelFn = func(string) error { return errRunnerDown }
	h.seedCampaign("c1", 2)
	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	result, err := h.campaign.Pause(context.Background(), "c1", testOrg)
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if result.CancelledJobs != 2 {
		t.Fatalf("Pause() cancelledJobs = %d, want 2", result.CancelledJobs)
	}
	if got := h.emailStatuses(t, "c1")[domain.SendStatusPaused]; got != 2 {
		t.Fatalf("paused emails = %d, want 2", got)
	}
}

func TestLifecyclePreconditions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 2)

	if _, err := h.campaign.Pause(context.Background(), "c1", testOrg); !errors.Is(err, domain.ErrNothingToPause) {
		t.Fatalf("Pause() error = %v, want ErrNothingToPause", err)
	}
	if _, err := h.campaign.Resume(context.Background(), "c1", testOrg, "actor-1"); !errors.Is(err, domain.ErrNothingToResume) {
		t.Fatalf("Resume() error = %v, want ErrNothingToResume", err)
	}
	if _, err := h.campaign.Schedule(context.Background(), "", testOrg, "actor-1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Schedule(empty id) error = %v, want ErrValidation", err)
	}
}

func TestCancelCampaign(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 3)
	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	h.store.AddEmails(domain.EmailRecord{
		ID:             "c1-email-late",
		SessionID:      "c1",
		OrganizationID: testOrg,
		DonorID:        "donor-late",
		Recipient:      "late@example.org",
		SendStatus:     domain.SendStatusPending,
	})

	result, err := h.campaign.Cancel(context.Background(), "c1", testOrg)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if result.CancelledEmails != 4 {
		t.Fatalf("Cancel() cancelledEmails = %d, want 4", result.CancelledEmails)
	}
	if got := h.emailStatuses(t, "c1")[domain.SendStatusCancelled]; got != 4 {
		t.Fatalf("cancelled emails = %d, want 4", got)
	}
	if got := len(h.jobsOf("c1", domain.JobStatusScheduled)); got != 0 {
		t.Fatalf("scheduled jobs = %d, want 0", got)
	}
	if got := len(h.runner.cancelledHandles()); got != 3 {
		t.Fatalf("runner cancels = %d, want 3", got)
	}
	if got := h.session(t, "c1").Status; got != domain.CampaignStatusCancelled {
		t.Fatalf("session status = %s, want %s", got, domain.CampaignStatusCancelled)
	}

	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("Schedule() after cancel error = %v, want precondition", err)
	}
}

func TestCancelWithoutScheduledJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 2)

	result, err := h.campaign.Cancel(context.Background(), "c1", testOrg)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if result.CancelledEmails != 2 {
		t.Fatalf("Cancel() cancelledEmails = %d, want 2", result.CancelledEmails)
	}
	if got := len(h.runner.cancelledHandles()); got != 0 {
		t.Fatalf("runner cancels = %d, want 0", got)
	}
}

func TestLifecycleTenantIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.seedCampaign("c1", 2)
	if _, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	const otherOrg = "org-2"
	ctx := context.Background()
	if _, err := h.campaign.Schedule(ctx, "c1", otherOrg, "actor-x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Schedule() error = %v, want ErrNotFound", err)
	}
	if _, err := h.campaign.Pause(ctx, "c1", otherOrg); !errors.Is(err, domain.ErrCampaignNotFound) {
		t.Fatalf("Pause() error = %v, want ErrCampaignNotFound", err)
	}
	if _, err := h.campaign.Resume(ctx, "c1", otherOrg, "actor-x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Resume() error = %v, want ErrNotFound", err)
	}
	if _, err := h.campaign.Cancel(ctx, "c1", otherOrg); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Cancel() error = %v, want ErrNotFound", err)
	}
	if got := len(h.jobsOf("c1", domain.JobStatusScheduled)); got != 2 {
		t.Fatalf("scheduled jobs = %d, want 2 (untouched)", got)
	}
}

func TestSchedulePersistenceFailureIsLoggedAndHidden(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	h := newHarness(t, zap.New(core))
	h.seedCampaign("c1", 2)
	h.store.FailOn("emails.ListBySessionAndStatus", errors.New("pq: relation campaign_emails does not exist"))

	_, err := h.campaign.Schedule(context.Background(), "c1", testOrg, "actor-1")
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("Schedule() error = %v, want ErrPersistence", err)
	}
	if got := err.Error(); got != "persistence error: list pending emails failed" {
		t.Fatalf("Schedule() error text = %q", got)
	}

	entries := logs.FilterMessage("persistence failure").All()
	if len(entries) != 1 {
		t.Fatalf("persistence failure logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["campaignId"] != "c1" || fields["organizationId"] != testOrg || fields["operation"] != "list pending emails" {
		t.Fatalf("log fields = %v", fields)
	}
}
