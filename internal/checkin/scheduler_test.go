package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellcheck/internal/config"
	"wellcheck/internal/jobs"
)

func weekdayMorningOnly(sc *Schedule) {
	sc.MorningWeekdayEnabled = true
	sc.MorningWeekdayTime = "08:00"
	sc.MorningWeekendEnabled = false
	sc.EveningWeekdayEnabled = false
	sc.EveningWeekendEnabled = false
}

func TestDueSlotsPicksWeekdayOrWeekendByLocalDay(t *testing.T) {
	sc := NewSchedule(1, config.BuiltinDefaults())
	sc.Timezone = "America/New_York"
	sc.MorningWeekdayTime = "07:00"
	sc.MorningWeekendTime = "10:00"

	// 12:00 UTC Monday is 08:00 in New York
	slots := DueSlots(sc, monday(12, 0))
	require.Len(t, slots, 1)
	assert.Equal(t, TypeMorning, slots[0].Type)
	assert.Equal(t, "2024-05-06", slots[0].Date)
	assert.True(t, slots[0].At.Equal(monday(11, 0)))

	// 02:00 UTC Monday is Sunday 22:00 in New York, a weekend day.
	slots = DueSlots(sc, monday(2, 0))
	require.Len(t, slots, 2)
	assert.Equal(t, "2024-05-05", slots[0].Date)
	assert.True(t, slots[0].At.Equal(time.Date(2024, 5, 5, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, TypeEvening, slots[1].Type)

	sc.MorningWeekdayEnabled = false
	assert.Empty(t, DueSlots(sc, monday(12, 0)))
}

func TestScheduleDueSkipsDisabledWeekendMorning(t *testing.T) {
	s, _ := setupService(t)
	ctx := context.Background()
	putSchedule(t, s, 1, weekdayMorningOnly)

	saturday := time.Date(2024, 5, 4, 8, 0, 0, 0, time.UTC)
	due, err := s.ScheduleDue(ctx, 1, saturday.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ScheduleDue(ctx, 1, monday(7, 59))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ScheduleDue(ctx, 1, monday(8, 0))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, TypeMorning, due[0].Type)
	assert.Equal(t, CreatedByScheduler, due[0].Trigger().CreatedBy)

	var n int64
	require.NoError(t, s.DB.Model(&CheckIn{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestScheduleDueIsIdempotent(t *testing.T) {
	s, _ := setupService(t)
	ctx := context.Background()
	putSchedule(t, s, 1, nil)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ScheduleDue(ctx, 1, monday(21, 0).Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	type row struct {
		Type  Type `gorm:"column:check_in_type"`
		Count int
	}
	var rows []row
	require.NoError(t, s.DB.Model(&CheckIn{}).
		Select("check_in_type, count(*) as count").
		Group("check_in_type").
		Scan(&rows).Error)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, 1, r.Count, "type %s", r.Type)
	}
}

func TestScheduleDueWithoutScheduleIsEmpty(t *testing.T) {
	s, _ := setupService(t)
	due, err := s.ScheduleDue(context.Background(), 42, monday(9, 0))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPutScheduleValidates(t *testing.T) {
	s, _ := setupService(t)
	ctx := context.Background()

	sc := NewSchedule(1, config.BuiltinDefaults())
	sc.Timezone = "Mars/Olympus"
	_, err := s.PutSchedule(ctx, sc)
	require.ErrorIs(t, err, ErrInvalidPayload)

	sc = NewSchedule(1, config.BuiltinDefaults())
	sc.EveningWeekdayTime = "9pm"
	_, err = s.PutSchedule(ctx, sc)
	require.ErrorIs(t, err, ErrInvalidPayload)

	got, err := s.GetSchedule(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "UTC", got.Timezone)

	putSchedule(t, s, 1, func(sc *Schedule) { sc.Timezone = "Europe/Berlin" })
	putSchedule(t, s, 1, func(sc *Schedule) { sc.Timezone = "Europe/Paris" })
	got, err = s.GetSchedule(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", got.Timezone)
}

func TestEnsureScheduleKeepsExisting(t *testing.T) {
	s, _ := setupService(t)
	d := config.BuiltinDefaults()
	d.Timezone = "Asia/Tokyo"

	require.NoError(t, EnsureSchedule(s.DB, 1, d))
	d.Timezone = "UTC"
	require.NoError(t, EnsureSchedule(s.DB, 1, d))

	got, err := s.GetSchedule(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", got.Timezone)
}

type recordingNotifier struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (n *recordingNotifier) Notify(ctx context.Context, c *CheckIn) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.ids = append(n.ids, c.ID)
	return nil
}

func countJobs(t *testing.T, s *Service, typ string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB.Model(&jobs.Job{}).Where("type = ?", typ).Count(&n).Error)
	return n
}

func TestTickNotifiesOncePerCheckIn(t *testing.T) {
	s, clk := setupService(t)
	ctx := context.Background()
	putSchedule(t, s, 1, nil)
	putSchedule(t, s, 2, func(sc *Schedule) { sc.NotificationsEnabled = false })

	sch := &Scheduler{Service: s, Concurrency: 2}
	clk.Set(monday(8, 1))
	st, err := sch.Tick(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Users)
	assert.EqualValues(t, 2, st.Due)
	assert.EqualValues(t, 1, st.Notified)
	assert.Zero(t, st.Failed)

	st, err = sch.Tick(ctx, clk.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.Notified)
	assert.EqualValues(t, 1, countJobs(t, s, jobs.TypeCheckInNotify))

	n := &recordingNotifier{}
	w := &jobs.Worker{ID: "test", Repo: &jobs.Repo{DB: s.DB}, Handlers: s.JobHandlers(n), Now: clk.Now}
	found, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, n.ids, 1)

	c, err := s.Get(ctx, 1, n.ids[0])
	require.NoError(t, err)
	assert.Equal(t, TypeMorning, c.Type)
	assert.NotNil(t, c.NotifiedAt)
}

func TestNotifyJobDropsStartedCheckIn(t *testing.T) {
	s, clk := setupService(t)
	ctx := context.Background()
	c := scheduledMorning(t, s, clk, 1)

	ok, err := s.MarkNotified(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkNotified(ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.StartCheckIn(ctx, 1, c.ID, "")
	require.NoError(t, err)

	n := &recordingNotifier{fail: errors.New("must not be called")}
	w := &jobs.Worker{ID: "test", Repo: &jobs.Repo{DB: s.DB}, Handlers: s.JobHandlers(n), Now: clk.Now}
	found, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, found)

	var j jobs.Job
	require.NoError(t, s.DB.First(&j).Error)
	assert.Equal(t, jobs.StatusDone, j.Status)
}

func TestTickEnqueuesRolloverForPreviousDay(t *testing.T) {
	s, clk := setupService(t)
	ctx := context.Background()
	putSchedule(t, s, 1, nil)
	sch := &Scheduler{Service: s}

	// Monday's morning check-in is never opened
	clk.Set(monday(8, 0))
	_, err := sch.Tick(ctx, clk.Now())
	require.NoError(t, err)
	assert.Zero(t, countJobs(t, s, jobs.TypeDayAggregate))

	clk.Set(monday(8, 0).Add(24 * time.Hour))
	st, err := sch.Tick(ctx, clk.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Rollover)
	_, err = sch.Tick(ctx, clk.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, countJobs(t, s, jobs.TypeDayAggregate))

	w := &jobs.Worker{ID: "test", Repo: &jobs.Repo{DB: s.DB}, Handlers: s.JobHandlers(&recordingNotifier{}), Now: clk.Now}
	for {
		found, err := w.RunOnce(ctx)
		require.NoError(t, err)
		if !found {
			break
		}
	}

	day, err := s.GetDailyLog(ctx, 1, "2024-05-06")
	require.NoError(t, err)
	assert.True(t, day.IsCompleted)
	require.Len(t, day.CheckIns, 1)
	assert.Equal(t, StatusSkipped, day.CheckIns[0].Status)
}

func drainJobs(t *testing.T, s *Service, clk *fakeClock) int {
	t.Helper()
	w := &jobs.Worker{ID: "test", Repo: &jobs.Repo{DB: s.DB}, Handlers: s.JobHandlers(&recordingNotifier{}), Now: clk.Now}
	ran := 0
	for {
		found, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		if !found {
			return ran
		}
		ran++
	}
}

func TestMidDayAggregateKeepsDayOpenUntilRollover(t *testing.T) {
	s, clk := setupService(t)
	ctx := context.Background()
	sch := &Scheduler{Service: s}
	morning := startedMorning(t, s, clk, 1)

	clk.Set(monday(9, 0))
	_, err := s.CompleteCheckIn(ctx, 1, morning.ID, Insights{Mood: "fine"}, "Slept well.")
	require.NoError(t, err)
	assert.Zero(t, countJobs(t, s, jobs.TypeDayAggregate))

	day, err := s.AggregateDay(ctx, 1, "2024-05-06")
	require.NoError(t, err)
	assert.False(t, day.IsCompleted)

	clk.Set(monday(21, 0))
	st, err := sch.Tick(ctx, clk.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Due)

	clk.Set(monday(8, 0).Add(24 * time.Hour))
	st, err = sch.Tick(ctx, clk.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Rollover)
	drainJobs(t, s, clk)

	day, err = s.GetDailyLog(ctx, 1, "2024-05-06")
	require.NoError(t, err)
	assert.True(t, day.IsCompleted)
	require.Len(t, day.CheckIns, 2)
	for _, c := range day.CheckIns {
		switch c.Type {
		case TypeMorning:
			assert.Equal(t, StatusCompleted, c.Status)
		case TypeEvening:
			assert.Equal(t, StatusSkipped, c.Status)
		}
	}
	assert.Equal(t, "**Morning Catch-up**: Slept well.", *day.Summary)
}

func TestNewCheckInReopensCompletedDay(t *testing.T) {
	s, _ := setupService(t)
	ctx := context.Background()

	l, err := s.GetOrCreateDailyLog(ctx, 1, "2024-05-07")
	require.NoError(t, err)
	require.NoError(t, s.DB.Model(&DailyLog{}).Where("id = ?", l.ID).Update("is_completed", true).Error)

	_, created, err := insertCheckIn(s.DB, newCheckIn{
		UserID:  1,
		Date:    "2024-05-07",
		Type:    TypeAdhoc,
		Trigger: TriggerContext{CreatedBy: CreatedByUser},
	})
	require.NoError(t, err)
	require.True(t, created)

	l, err = s.GetDailyLog(ctx, 1, "2024-05-07")
	require.NoError(t, err)
	assert.False(t, l.IsCompleted)
}

func TestCompletingAfterRolloverReaggregatesDay(t *testing.T) {
	s, clk := setupService(t)
	ctx := context.Background()
	sch := &Scheduler{Service: s}
	morning := startedMorning(t, s, clk, 1)

	// the morning is still open when Monday rolls over
	clk.Set(monday(8, 0).Add(24 * time.Hour))
	st, err := sch.Tick(ctx, clk.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, st.Rollover)
	drainJobs(t, s, clk)

	day, err := s.GetDailyLog(ctx, 1, "2024-05-06")
	require.NoError(t, err)
	assert.False(t, day.IsCompleted)
	assert.Equal(t, "No check-ins were completed on this day.", *day.Summary)

	clk.Set(monday(9, 0).Add(24 * time.Hour))
	_, err = s.CompleteCheckIn(ctx, 1, morning.ID, Insights{Mood: "relieved"}, "Finished late.")
	require.NoError(t, err)
	assert.EqualValues(t, 2, countJobs(t, s, jobs.TypeDayAggregate))
	drainJobs(t, s, clk)

	day, err = s.GetDailyLog(ctx, 1, "2024-05-06")
	require.NoError(t, err)
	assert.True(t, day.IsCompleted)
	assert.Equal(t, "**Morning Catch-up**: Finished late.", *day.Summary)
	assert.Equal(t, map[string]int{"relieved": 5}, emotionMap(day))
}
