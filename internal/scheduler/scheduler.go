package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/amirbiron/Tfilin/internal/config"
	"github.com/amirbiron/Tfilin/internal/domain"
	"github.com/amirbiron/Tfilin/internal/store"
)

// Gateway is the minimal messaging interface the scheduler needs. The
// Telegram transport implements it. The token is the per-instance
// idempotency token; a retried send for the same dispatch carries the same
// token so the gateway can deduplicate. Send returns
// domain.ErrRecipientBlocked when the recipient can no longer be reached;
// any other error is treated as retryable.
type Gateway interface {
	Send(ctx context.Context, userID int64, intent domain.Intent, token string) error
}

// batch sizes per tick; anything left over is picked up next tick.
const (
	dueBatch    = 256
	expireBatch = 256
)

// Scheduler drives the reminder lifecycle: one Tick enumerates active
// users, materializes today's instances, dispatches due ones through the
// store's conditional-write guard, and expires unanswered ones. It also
// exposes the user command entry points (Acknowledge, Snooze, Skip), since
// those advance the same state machine.
//
// Correctness under multiple replicas comes entirely from the store's
// conditional writes; the scheduler holds no cross-tick state beyond the
// last-tick timestamp used by Healthy.
type Scheduler struct {
	repo     store.Repo
	rules    domain.CalendarRules
	resolver *domain.Resolver
	gateway  Gateway
	log      *zap.Logger
	clock    Clock

	interval    time.Duration
	workers     int
	grace       time.Duration
	snoozeMax   int
	snoozeTotal time.Duration
	sendTimeout time.Duration
	retention   int // days

	ownerID   string // identifies this process in logs
	cron      *cron.Cron
	startedAt time.Time
	lastTick  atomic.Int64 // unix seconds of last completed tick
}

// New assembles a Scheduler from its collaborators and config.
func New(repo store.Repo, rules domain.CalendarRules, gateway Gateway, cfg config.Config, log *zap.Logger, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		repo:        repo,
		rules:       rules,
		resolver:    domain.NewResolver(rules),
		gateway:     gateway,
		log:         log,
		clock:       clock,
		interval:    cfg.TickInterval,
		workers:     cfg.TickWorkers,
		grace:       cfg.GraceWindow,
		snoozeMax:   cfg.SnoozeMaxCount,
		snoozeTotal: cfg.SnoozeMaxTotal,
		sendTimeout: cfg.SendTimeout,
		retention:   cfg.RetentionDays,
		ownerID:     uuid.NewString(),
	}
}

// Start registers the tick and retention jobs and starts the cron driver.
func (s *Scheduler) Start() error {
	s.startedAt = s.clock.Now()
	s.cron = cron.New(cron.WithSeconds())

	if _, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		s.Tick(context.Background())
	}); err != nil {
		return err
	}
	// Retention sweep once a night, well away from common reminder times.
	if _, err := s.cron.AddFunc("0 30 3 * * *", func() {
		s.sweepRetention(context.Background())
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("scheduler started",
		zap.String("owner", s.ownerID),
		zap.Duration("interval", s.interval),
	)
	return nil
}

// Stop halts the cron driver and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped", zap.String("owner", s.ownerID))
}

// Healthy reports whether a tick completed recently. Used by the healthz
// endpoint; a freshly started process is healthy until its first ticks had
// a fair chance to run.
func (s *Scheduler) Healthy() bool {
	now := s.clock.Now()
	horizon := 3 * s.interval
	if last := s.lastTick.Load(); last > 0 {
		return now.Sub(time.Unix(last, 0)) <= horizon
	}
	return now.Sub(s.startedAt) <= horizon
}

// Tick runs one scheduling cycle. Individual failures are logged and skipped;
// only a store-wide outage aborts the whole cycle (it is retried on the next
// interval, the loop never terminates).
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now().UTC()

	users, err := s.repo.ListActiveUsers(ctx)
	if err != nil {
		s.log.Error("list active users failed, aborting tick", zap.Error(err))
		return
	}

	s.ensureInstances(ctx, users, now)
	s.dispatchDue(ctx, now)
	s.dispatchSunset(ctx, now)
	s.expireGrace(ctx, now)

	s.lastTick.Store(now.Unix())
}

// ensureInstances fans the per-user resolution across a bounded worker
// pool. Resolution is pure and instance creation is idempotent, so the
// fan-out needs no coordination beyond the wait.
func (s *Scheduler) ensureInstances(ctx context.Context, users []domain.UserConfig, now time.Time) {
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for i := range users {
		u := users[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.ensureInstance(ctx, &u, now)
		}()
	}
	wg.Wait()
}

// ensureInstance lazily creates today's ReminderInstance for u, unless the
// day is suppressed or the instance already exists.
func (s *Scheduler) ensureInstance(ctx context.Context, u *domain.UserConfig, now time.Time) {
	date := domain.CivilDateOf(now, u.Location())
	key := domain.InstanceKey{UserID: u.UserID, Date: date}

	if _, err := s.repo.GetInstance(ctx, key); err == nil {
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.log.Error("get instance failed", zap.Int64("user", u.UserID), zap.Error(err))
		return
	}

	res, ok := s.resolver.Resolve(ctx, u, date)
	if !ok {
		// Suppressed day: no instance, the streak is unaffected.
		return
	}

	ri := &domain.ReminderInstance{
		Key:            key,
		State:          domain.StatePending,
		FireAt:         res.Primary,
		SunsetFireAt:   res.Secondary,
		Token:          uuid.NewString(),
		LastTransition: now,
		CreatedAt:      now,
	}
	if err := s.repo.CreateInstance(ctx, ri); err != nil {
		s.log.Error("create instance failed", zap.Int64("user", u.UserID), zap.Error(err))
	}
}

// dispatchDue advances every due pending/snoozed instance through the
// dispatch guard and hands the winners to the gateway.
func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) {
	due, err := s.repo.ListDue(ctx, now, dueBatch)
	if err != nil {
		s.log.Error("list due failed", zap.Error(err))
		return
	}

	for i := range due {
		ri := &due[i]
		acquired, err := s.repo.MarkSent(ctx, ri.Key, ri.Generation, now)
		if err != nil {
			s.log.Error("mark sent failed", zap.Int64("user", ri.Key.UserID), zap.Error(err))
			continue
		}
		if !acquired {
			// Another scheduler already dispatched this instance.
			continue
		}
		s.deliver(ctx, ri, ri.DispatchIntent(), ri.Token, now)
	}
}

// deliver performs the actual gateway call for an instance this process
// just drove to sent.
func (s *Scheduler) deliver(ctx context.Context, ri *domain.ReminderInstance, intent domain.Intent, token string, now time.Time) {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	err := s.gateway.Send(sendCtx, ri.Key.UserID, intent, token)
	cancel()

	switch {
	case err == nil:
		s.log.Info("reminder dispatched",
			zap.Int64("user", ri.Key.UserID),
			zap.String("date", ri.Key.Date.String()),
			zap.String("intent", string(intent)),
		)
	case errors.Is(err, domain.ErrRecipientBlocked):
		s.log.Info("recipient blocked, deactivating user", zap.Int64("user", ri.Key.UserID))
		if err := s.repo.SetActive(ctx, ri.Key.UserID, false); err != nil {
			s.log.Error("deactivate user failed", zap.Int64("user", ri.Key.UserID), zap.Error(err))
		}
	default:
		// Retryable: put the instance back, keep the token so the retry
		// dedupes if the send actually went through.
		s.log.Warn("send failed, will retry next tick",
			zap.Int64("user", ri.Key.UserID), zap.Error(err))
		if _, err := s.repo.RevertSent(ctx, ri.Key, ri.Generation, now); err != nil {
			s.log.Error("revert sent failed", zap.Int64("user", ri.Key.UserID), zap.Error(err))
		}
	}
}

// dispatchSunset sends the best-effort secondary pre-sunset reminder for
// instances whose day is still unresolved. It does not touch the primary
// lifecycle.
func (s *Scheduler) dispatchSunset(ctx context.Context, now time.Time) {
	due, err := s.repo.ListSunsetDue(ctx, now, dueBatch)
	if err != nil {
		s.log.Error("list sunset due failed", zap.Error(err))
		return
	}

	for i := range due {
		ri := &due[i]
		acquired, err := s.repo.MarkSunsetSent(ctx, ri.Key)
		if err != nil {
			s.log.Error("mark sunset sent failed", zap.Int64("user", ri.Key.UserID), zap.Error(err))
			continue
		}
		if !acquired {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		err = s.gateway.Send(sendCtx, ri.Key.UserID, domain.IntentSunset, ri.Token+":sunset")
		cancel()
		if err != nil {
			// Secondary is best-effort: an unavailable send means it
			// does not fire today.
			s.log.Warn("sunset reminder send failed",
				zap.Int64("user", ri.Key.UserID), zap.Error(err))
		}
	}
}

// expireGrace transitions sent instances past the grace window to missed
// and resets streaks.
func (s *Scheduler) expireGrace(ctx context.Context, now time.Time) {
	expired, err := s.repo.ListGraceExpired(ctx, now.Add(-s.grace), expireBatch)
	if err != nil {
		s.log.Error("list grace expired failed", zap.Error(err))
		return
	}

	for i := range expired {
		ri := &expired[i]
		changed, err := s.repo.MarkMissed(ctx, ri.Key, ri.Generation, now)
		if err != nil {
			s.log.Error("mark missed failed", zap.Int64("user", ri.Key.UserID), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		s.log.Info("reminder missed",
			zap.Int64("user", ri.Key.UserID),
			zap.String("date", ri.Key.Date.String()),
		)
		s.applyStreak(ctx, ri.Key.UserID, ri.Key.Date, domain.StateMissed)
	}
}

// sweepRetention archives instances past the retention horizon.
func (s *Scheduler) sweepRetention(ctx context.Context) {
	cutoff := domain.CivilDateOf(s.clock.Now().AddDate(0, 0, -s.retention), time.UTC)
	n, err := s.repo.PurgeInstancesBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("retention sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("retention sweep", zap.Int64("purged", n), zap.String("before", cutoff.String()))
	}
}

// --- User command entry points ---

// Acknowledge records the user's completion for today. Terminal instances
// are a no-op: the current state is returned unchanged.
func (s *Scheduler) Acknowledge(ctx context.Context, userID int64) (domain.State, error) {
	u, ri, err := s.todaysInstance(ctx, userID)
	if err != nil {
		return "", err
	}
	if ri.State.Terminal() {
		return ri.State, nil
	}
	if err := ri.CanAcknowledge(); err != nil {
		return ri.State, err
	}

	now := s.clock.Now().UTC()
	changed, err := s.repo.Acknowledge(ctx, ri.Key, now)
	if err != nil {
		return "", err
	}
	if !changed {
		return s.reread(ctx, ri.Key)
	}
	s.applyStreakFor(ctx, u, ri.Key.Date, domain.StateAcknowledged)
	return domain.StateAcknowledged, nil
}

// Snooze defers today's reminder by d (the user's preference when d <= 0),
// within the count and total-deferral caps.
func (s *Scheduler) Snooze(ctx context.Context, userID int64, d time.Duration) (domain.State, error) {
	u, ri, err := s.todaysInstance(ctx, userID)
	if err != nil {
		return "", err
	}
	if ri.State.Terminal() {
		return ri.State, nil
	}
	if d <= 0 {
		d = u.SnoozePref
	}

	now := s.clock.Now().UTC()
	target, err := ri.SnoozeTarget(now, d, s.snoozeMax, s.snoozeTotal)
	if err != nil {
		return ri.State, err
	}

	changed, err := s.repo.Snooze(ctx, ri.Key, target, target.Sub(now), uuid.NewString(), now)
	if err != nil {
		return "", err
	}
	if !changed {
		return s.reread(ctx, ri.Key)
	}
	return domain.StateSnoozed, nil
}

// Skip marks today as explicitly opted out. The day is excluded from the
// streak in both directions.
func (s *Scheduler) Skip(ctx context.Context, userID int64) (domain.State, error) {
	_, ri, err := s.todaysInstance(ctx, userID)
	if err != nil {
		return "", err
	}
	if ri.State.Terminal() {
		return ri.State, nil
	}
	if err := ri.CanSkip(); err != nil {
		return ri.State, err
	}

	changed, err := s.repo.Skip(ctx, ri.Key, s.clock.Now().UTC())
	if err != nil {
		return "", err
	}
	if !changed {
		return s.reread(ctx, ri.Key)
	}
	return domain.StateSkipped, nil
}

// todaysInstance loads the user and their instance for the current civil
// date in the user's timezone.
func (s *Scheduler) todaysInstance(ctx context.Context, userID int64) (*domain.UserConfig, *domain.ReminderInstance, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	key := domain.InstanceKey{
		UserID: userID,
		Date:   domain.CivilDateOf(s.clock.Now(), u.Location()),
	}
	ri, err := s.repo.GetInstance(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return u, nil, domain.ErrNoInstance
	}
	if err != nil {
		return nil, nil, err
	}
	return u, ri, nil
}

// reread returns the instance's current state after a lost conditional
// write. Losing the race is expected under concurrent schedulers.
func (s *Scheduler) reread(ctx context.Context, key domain.InstanceKey) (domain.State, error) {
	ri, err := s.repo.GetInstance(ctx, key)
	if err != nil {
		return "", err
	}
	return ri.State, nil
}

// applyStreak folds a terminal outcome into the user's streak record.
func (s *Scheduler) applyStreak(ctx context.Context, userID int64, date domain.CivilDate, outcome domain.State) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		s.log.Error("get user for streak failed", zap.Int64("user", userID), zap.Error(err))
		return
	}
	s.applyStreakFor(ctx, u, date, outcome)
}

func (s *Scheduler) applyStreakFor(ctx context.Context, u *domain.UserConfig, date domain.CivilDate, outcome domain.State) {
	rec, err := s.repo.GetStreak(ctx, u.UserID)
	if err != nil {
		s.log.Error("get streak failed", zap.Int64("user", u.UserID), zap.Error(err))
		return
	}
	rec.UserID = u.UserID

	// A day is exempt from the consecutiveness check when the calendar
	// suppressed it or the user explicitly skipped it.
	suppressed := func(d domain.CivilDate) bool {
		if s.rules.Suppressed(ctx, d, u.Locale) {
			return true
		}
		prev, err := s.repo.GetInstance(ctx, domain.InstanceKey{UserID: u.UserID, Date: d})
		return err == nil && prev.State == domain.StateSkipped
	}
	rec = domain.AdvanceStreak(rec, date, outcome, suppressed)

	if err := s.repo.PutStreak(ctx, rec); err != nil {
		s.log.Error("put streak failed", zap.Int64("user", u.UserID), zap.Error(err))
	}
}
