package scheduling

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
)

const (
	// DayStartHour is the local hour at which a spillover day starts sending.
	DayStartHour = 9

	dayKeyLayout = "2006-01-02"

	// maxSpilloverDays bounds the day walk; usage maps are finite so this is
	// only reached on corrupt input.
	maxSpilloverDays = 3660
)

// RandomSource draws gap jitter. *rand.Rand satisfies it.
type RandomSource interface {
	Intn(n int) int
}

// Input is everything the allocator needs to plan one campaign batch.
type Input struct {
	// Emails must already be in their stable scheduling order.
	Emails          []domain.EmailRecord
	Config          domain.ScheduleConfig
	EmailsSentToday int
	// UsageByDay holds quota already consumed on later days, keyed by DayKey.
	// The entry for today is ignored in favor of EmailsSentToday.
	UsageByDay map[string]int
	Now        time.Time
	// NotBefore is the latest send time already planned for the campaign.
	// New slots start one gap after it so submission order stays increasing.
	NotBefore time.Time
}

// Slot is one email assigned to a send time.
type Slot struct {
	Email         domain.EmailRecord
	ScheduledTime time.Time
	Day           string
	ForToday      bool
}

// Plan is the allocator output, slots in submission order.
type Plan struct {
	Slots                   []Slot
	ScheduledForToday       int
	ScheduledForLater       int
	EstimatedCompletionTime time.Time
}

// Allocator turns pending emails into a throttled, jittered delivery plan.
type Allocator struct {
	mu  sync.Mutex
	rnd RandomSource
}

func NewAllocator(rnd RandomSource) *Allocator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Allocator{rnd: rnd}
}

// Allocate assigns every email a send time. Today's remaining capacity is
// filled first starting one gap after in.Now, or after in.NotBefore when that
// is later; the rest spills over to later days, each starting at
// DayStartHour local time and capped at the daily limit.
func (a *Allocator) Allocate(in Input) (*Plan, error) {
	if len(in.Emails) == 0 {
		return nil, domain.ErrNoPendingEmails
	}
	if err := in.Config.Validate(); err != nil {
		return nil, err
	}
	if in.Now.IsZero() {
		return nil, fmt.Errorf("%w: allocation time is required", domain.ErrValidation)
	}

	loc, err := in.Config.Location()
	if err != nil {
		return nil, err
	}

	now := in.Now.In(loc)
	today := DayKey(now, loc)
	limit := in.Config.DailyLimit

	plan := &Plan{Slots: make([]Slot, 0, len(in.Emails))}

	cursor := now
	if in.NotBefore.After(now) {
		cursor = in.NotBefore.In(loc)
	}
	day := cursor
	dayKey := DayKey(cursor, loc)
	startKey := dayKey
	capacity := max(0, limit-in.EmailsSentToday)
	if dayKey != today {
		capacity = max(0, limit-in.UsageByDay[dayKey])
	}
	placedOnDay := 0
	daysWalked := 0

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < len(in.Emails); {
		if capacity == 0 {
			if dayKey != startKey && placedOnDay == 0 && limit-in.UsageByDay[dayKey] > 0 {
				return nil, fmt.Errorf("%w: no send slot fits in day %s", domain.ErrValidation, dayKey)
			}
			daysWalked++
			if daysWalked > maxSpilloverDays {
				return nil, fmt.Errorf("%w: spillover exceeded %d days", domain.ErrValidation, maxSpilloverDays)
			}

			day = NextDayStart(day, loc)
			dayKey = DayKey(day, loc)
			cursor = day
			capacity = max(0, limit-in.UsageByDay[dayKey])
			placedOnDay = 0
			continue
		}

		candidate := cursor.Add(a.drawGap(in.Config.MinGapMinutes, in.Config.MaxGapMinutes))
		if DayKey(candidate, loc) != dayKey {
			// The slot would land on the next local day and be counted there.
			capacity = 0
			continue
		}

		forToday := dayKey == today
		plan.Slots = append(plan.Slots, Slot{
			Email:         in.Emails[i],
			ScheduledTime: candidate.UTC(),
			Day:           dayKey,
			ForToday:      forToday,
		})
		if forToday {
			plan.ScheduledForToday++
		} else {
			plan.ScheduledForLater++
		}

		cursor = candidate
		capacity--
		placedOnDay++
		i++
	}

	plan.EstimatedCompletionTime = plan.Slots[len(plan.Slots)-1].ScheduledTime
	return plan, nil
}

func (a *Allocator) drawGap(minMinutes, maxMinutes int) time.Duration {
	minutes := minMinutes
	if span := maxMinutes - minMinutes; span > 0 {
		minutes += a.rnd.Intn(span + 1)
	}
	return time.Duration(minutes) * time.Minute
}

// DayKey returns the calendar day of t in loc, e.g. 2026-03-08.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayKeyLayout)
}

// StartOfDay returns local midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DayBounds returns [start, end) of t's local day as instants. The length
// differs from 24h on DST transition days.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := StartOfDay(t, loc)
	local := t.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return start, end
}

// NextDayStart returns DayStartHour on the local day after t.
func NextDayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, DayStartHour, 0, 0, 0, loc)
}
