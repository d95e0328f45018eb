package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/amirbiron/Tfilin/internal/config"
	"github.com/amirbiron/Tfilin/internal/domain"
	"github.com/amirbiron/Tfilin/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRules struct {
	suppressed map[string]bool
	anchors    map[string]time.Time
}

func (r *fakeRules) Suppressed(_ context.Context, d domain.CivilDate, _ string) bool {
	return r.suppressed[d.String()]
}

func (r *fakeRules) SolarAnchor(_ context.Context, d domain.CivilDate, _ string) (time.Time, bool) {
	t, ok := r.anchors[d.String()]
	return t, ok
}

type sentMsg struct {
	userID int64
	intent domain.Intent
	token  string
}

type fakeGateway struct {
	mu    sync.Mutex
	sends []sentMsg
	fail  error // returned once by the next Send, then cleared
}

func (g *fakeGateway) Send(_ context.Context, userID int64, intent domain.Intent, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		err := g.fail
		g.fail = nil
		return err
	}
	g.sends = append(g.sends, sentMsg{userID, intent, token})
	return nil
}

func (g *fakeGateway) failNext(err error) {
	g.mu.Lock()
	g.fail = err
	g.mu.Unlock()
}

func (g *fakeGateway) all() []sentMsg {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sentMsg, len(g.sends))
	copy(out, g.sends)
	return out
}

// Clock starts five minutes after the test user's 07:00 fire time.
var tickStart = time.Date(2025, time.June, 10, 7, 5, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		TickInterval:   30 * time.Second,
		TickWorkers:    4,
		GraceWindow:    30 * time.Minute,
		SnoozeMaxCount: 3,
		SnoozeMaxTotal: 2 * time.Hour,
		SendTimeout:    5 * time.Second,
		RetentionDays:  90,
	}
}

type fixture struct {
	sched *Scheduler
	repo  store.Repo
	gw    *fakeGateway
	clock *fakeClock
	rules *fakeRules
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	gw := &fakeGateway{}
	clock := &fakeClock{t: tickStart}
	rules := &fakeRules{suppressed: map[string]bool{}, anchors: map[string]time.Time{}}
	sched := New(repo, rules, gw, testConfig(), zaptest.NewLogger(t), clock)
	return &fixture{sched: sched, repo: repo, gw: gw, clock: clock, rules: rules}
}

func (f *fixture) addUser(t *testing.T, id int64) *domain.UserConfig {
	t.Helper()
	u := &domain.UserConfig{
		UserID:     id,
		Active:     true,
		TZ:         "UTC",
		Locale:     "test",
		FireHour:   7,
		SnoozePref: time.Hour,
	}
	require.NoError(t, f.repo.UpsertUser(context.Background(), u))
	return u
}

func (f *fixture) instance(t *testing.T, id int64) *domain.ReminderInstance {
	t.Helper()
	key := domain.InstanceKey{
		UserID: id,
		Date:   domain.CivilDateOf(f.clock.Now(), time.UTC),
	}
	ri, err := f.repo.GetInstance(context.Background(), key)
	require.NoError(t, err)
	return ri
}

func TestTick_DispatchesDueReminder(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	f.sched.Tick(ctx)

	sends := f.gw.all()
	require.Len(t, sends, 1)
	require.Equal(t, int64(1), sends[0].userID)
	require.Equal(t, domain.IntentDaily, sends[0].intent)
	require.NotEmpty(t, sends[0].token)

	ri := f.instance(t, 1)
	require.Equal(t, domain.StateSent, ri.State)
	require.Equal(t, tickStart.Truncate(time.Second).Add(-5*time.Minute), ri.FireAt.UTC().Truncate(time.Second))
}

func TestTick_SecondTickDoesNotResend(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	f.sched.Tick(ctx)
	f.clock.Advance(30 * time.Second)
	f.sched.Tick(ctx)

	require.Len(t, f.gw.all(), 1)
}

func TestTick_NotYetDue(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, 1)
	u.FireHour = 9
	require.NoError(t, f.repo.UpsertUser(context.Background(), u))

	f.sched.Tick(context.Background())

	require.Empty(t, f.gw.all())
	ri := f.instance(t, 1)
	require.Equal(t, domain.StatePending, ri.State)
}

func TestTick_SuppressedDayCreatesNoInstance(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	f.rules.suppressed["2025-06-10"] = true

	f.sched.Tick(context.Background())

	require.Empty(t, f.gw.all())
	key := domain.InstanceKey{UserID: 1, Date: domain.CivilDate{Year: 2025, Month: time.June, Day: 10}}
	_, err := f.repo.GetInstance(context.Background(), key)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSnooze_RedispatchesWithFreshToken(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	f.sched.Tick(ctx)
	firstToken := f.gw.all()[0].token

	state, err := f.sched.Snooze(ctx, 1, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, domain.StateSnoozed, state)

	// Not due again until the snooze target passes.
	f.clock.Advance(5 * time.Minute)
	f.sched.Tick(ctx)
	require.Len(t, f.gw.all(), 1)

	f.clock.Advance(6 * time.Minute)
	f.sched.Tick(ctx)

	sends := f.gw.all()
	require.Len(t, sends, 2)
	require.Equal(t, domain.IntentRepeat, sends[1].intent)
	require.NotEqual(t, firstToken, sends[1].token)
}

func TestSnooze_CapEnforced(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	f.sched.Tick(ctx)
	for i := 0; i < 3; i++ {
		state, err := f.sched.Snooze(ctx, 1, 10*time.Minute)
		require.NoError(t, err)
		require.Equal(t, domain.StateSnoozed, state)

		// Let the deferred reminder go out again so the next snooze is
		// attempted from the sent state.
		f.clock.Advance(11 * time.Minute)
		f.sched.Tick(ctx)
	}
	require.Len(t, f.gw.all(), 4)

	_, err := f.sched.Snooze(ctx, 1, 10*time.Minute)
	require.ErrorIs(t, err, domain.ErrSnoozeLimit)
}

func TestGraceExpiry_MarksMissedAndResetsStreak(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	// Seed an existing streak to observe the reset.
	require.NoError(t, f.repo.PutStreak(ctx, domain.StreakRecord{
		UserID:        1,
		Current:       4,
		Longest:       4,
		LastCompleted: domain.CivilDate{Year: 2025, Month: time.June, Day: 9},
	}))

	f.sched.Tick(ctx)
	f.clock.Advance(31 * time.Minute)
	f.sched.Tick(ctx)

	ri := f.instance(t, 1)
	require.Equal(t, domain.StateMissed, ri.State)

	rec, err := f.repo.GetStreak(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, rec.Current)
	require.Equal(t, 4, rec.Longest)
}

func TestGraceExpiry_SnoozeDefersIt(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	f.sched.Tick(ctx)
	f.clock.Advance(25 * time.Minute)
	_, err := f.sched.Snooze(ctx, 1, time.Hour)
	require.NoError(t, err)

	// Past the original grace window but snoozed: not missed.
	f.clock.Advance(10 * time.Minute)
	f.sched.Tick(ctx)

	ri := f.instance(t, 1)
	require.Equal(t, domain.StateSnoozed, ri.State)
}

func TestTick_PausedUserNotDispatched(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, 1)
	u.FireHour = 9
	require.NoError(t, f.repo.UpsertUser(context.Background(), u))
	ctx := context.Background()

	// Today's instance exists before the user pauses.
	f.sched.Tick(ctx)
	require.NoError(t, f.repo.SetActive(ctx, 1, false))

	f.clock.Advance(2 * time.Hour)
	f.sched.Tick(ctx)

	require.Empty(t, f.gw.all())
	ri := f.instance(t, 1)
	require.Equal(t, domain.StatePending, ri.State)

	// Resuming picks the pending day back up.
	require.NoError(t, f.repo.SetActive(ctx, 1, true))
	f.sched.Tick(ctx)
	require.Len(t, f.gw.all(), 1)
}

func TestGraceExpiry_PausedUserKeepsStreak(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	require.NoError(t, f.repo.PutStreak(ctx, domain.StreakRecord{
		UserID:        1,
		Current:       4,
		Longest:       4,
		LastCompleted: domain.CivilDate{Year: 2025, Month: time.June, Day: 9},
	}))

	f.sched.Tick(ctx)
	require.NoError(t, f.repo.SetActive(ctx, 1, false))

	f.clock.Advance(31 * time.Minute)
	f.sched.Tick(ctx)

	ri := f.instance(t, 1)
	require.Equal(t, domain.StateSent, ri.State, "paused user's day must not be expired")

	rec, err := f.repo.GetStreak(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 4, rec.Current)
}

func TestDeliver_BlockedRecipientDeactivates(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	f.gw.failNext(domain.ErrRecipientBlocked)
	f.sched.Tick(ctx)

	u, err := f.repo.GetUser(ctx, 1)
	require.NoError(t, err)
	require.False(t, u.Active)

	// No further dispatch attempts for a deactivated user.
	f.clock.Advance(time.Minute)
	f.sched.Tick(ctx)
	require.Empty(t, f.gw.all())
}

func TestDeliver_RetryableFailureRetriesSameToken(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	f.gw.failNext(context.DeadlineExceeded)
	f.sched.Tick(ctx)
	require.Empty(t, f.gw.all())

	ri := f.instance(t, 1)
	require.Equal(t, domain.StatePending, ri.State)
	token := ri.Token

	f.clock.Advance(30 * time.Second)
	f.sched.Tick(ctx)

	sends := f.gw.all()
	require.Len(t, sends, 1)
	require.Equal(t, token, sends[0].token)
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	t.Run("before any instance exists", func(t *testing.T) {
		f2 := newFixture(t)
		f2.addUser(t, 1)
		f2.rules.suppressed["2025-06-10"] = true
		f2.sched.Tick(ctx)
		_, err := f2.sched.Acknowledge(ctx, 1)
		require.ErrorIs(t, err, domain.ErrNoInstance)
	})

	f.sched.Tick(ctx)

	state, err := f.sched.Acknowledge(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.StateAcknowledged, state)

	rec, err := f.repo.GetStreak(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, rec.Current)
	require.Equal(t, 1, rec.Longest)

	// Acknowledging again reports the terminal state without error.
	state, err = f.sched.Acknowledge(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.StateAcknowledged, state)
}

func TestAcknowledge_RequiresSent(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, 1)
	u.FireHour = 9
	require.NoError(t, f.repo.UpsertUser(context.Background(), u))
	ctx := context.Background()

	f.sched.Tick(ctx)

	state, err := f.sched.Acknowledge(ctx, 1)
	require.ErrorIs(t, err, domain.ErrNotSent)
	require.Equal(t, domain.StatePending, state)
}

func TestSkip(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1)
	ctx := context.Background()

	f.sched.Tick(ctx)
	state, err := f.sched.Skip(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.StateSkipped, state)

	// Skipping is terminal: a later expiry pass must not turn it missed.
	f.clock.Advance(time.Hour)
	f.sched.Tick(ctx)
	ri := f.instance(t, 1)
	require.Equal(t, domain.StateSkipped, ri.State)
}

func TestSunsetReminder(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, 1)
	u.SunsetLead = 30 * time.Minute
	require.NoError(t, f.repo.UpsertUser(context.Background(), u))
	f.rules.anchors["2025-06-10"] = time.Date(2025, time.June, 10, 19, 45, 0, 0, time.UTC)
	ctx := context.Background()

	f.sched.Tick(ctx)
	require.Len(t, f.gw.all(), 1) // primary only

	f.clock.Advance(12*time.Hour + 15*time.Minute) // 19:20, past 19:15
	f.sched.Tick(ctx)

	sends := f.gw.all()
	require.Len(t, sends, 2)
	require.Equal(t, domain.IntentSunset, sends[1].intent)
	require.Equal(t, sends[0].token+":sunset", sends[1].token)

	// Fires at most once.
	f.clock.Advance(time.Minute)
	f.sched.Tick(ctx)
	require.Len(t, f.gw.all(), 2)
}

func TestSunsetReminder_SkippedDayStillClear(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, 1)
	u.SunsetLead = 30 * time.Minute
	require.NoError(t, f.repo.UpsertUser(context.Background(), u))
	f.rules.anchors["2025-06-10"] = time.Date(2025, time.June, 10, 19, 45, 0, 0, time.UTC)
	ctx := context.Background()

	f.sched.Tick(ctx)
	_, err := f.sched.Acknowledge(ctx, 1)
	require.NoError(t, err)

	// The day is resolved, so the secondary never fires.
	f.clock.Advance(13 * time.Hour)
	f.sched.Tick(ctx)
	require.Len(t, f.gw.all(), 1)
}

func TestHealthy(t *testing.T) {
	f := newFixture(t)
	f.sched.startedAt = f.clock.Now()

	require.True(t, f.sched.Healthy(), "fresh process is healthy before the first tick")

	f.clock.Advance(2 * time.Minute)
	require.False(t, f.sched.Healthy(), "no tick within the horizon")

	f.sched.Tick(context.Background())
	require.True(t, f.sched.Healthy())
}
