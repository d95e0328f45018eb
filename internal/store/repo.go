package store

import (
	"context"
	"errors"
	"time"

	"github.com/amirbiron/Tfilin/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repo defines storage operations for user configuration, reminder
// instances, and streaks. The store is the single source of truth; the
// scheduler re-reads it every tick instead of caching across ticks.
//
// The Mark*/Snooze/Acknowledge/Skip methods are conditional writes: each
// succeeds only when the row is still in a state (and, for dispatch, a
// generation) that permits the edge. The returned bool reports whether this
// caller won the transition. A false result is not an error; it means
// another process got there first or the instance is already terminal.
type Repo interface {
	UpsertUser(ctx context.Context, u *domain.UserConfig) error
	GetUser(ctx context.Context, userID int64) (*domain.UserConfig, error)
	ListActiveUsers(ctx context.Context) ([]domain.UserConfig, error)
	SetActive(ctx context.Context, userID int64, active bool) error

	// CreateInstance inserts the instance unless one already exists for
	// its (user, civil date) key. Idempotent by design.
	CreateInstance(ctx context.Context, ri *domain.ReminderInstance) error
	GetInstance(ctx context.Context, key domain.InstanceKey) (*domain.ReminderInstance, error)

	// The list queries see only instances of active users: pausing hides
	// a user's day from dispatch and expiry until they resume.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ReminderInstance, error)
	ListSunsetDue(ctx context.Context, now time.Time, limit int) ([]domain.ReminderInstance, error)
	ListGraceExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.ReminderInstance, error)

	// MarkSent is the singleton dispatch guard: pending/snoozed -> sent,
	// conditional on the generation the caller observed.
	MarkSent(ctx context.Context, key domain.InstanceKey, expectGen int64, now time.Time) (bool, error)
	// RevertSent undoes a MarkSent whose delivery failed retryably, so the
	// next tick retries with the same idempotency token.
	RevertSent(ctx context.Context, key domain.InstanceKey, expectGen int64, now time.Time) (bool, error)
	// MarkSunsetSent guards the secondary pre-sunset dispatch.
	MarkSunsetSent(ctx context.Context, key domain.InstanceKey) (bool, error)

	Snooze(ctx context.Context, key domain.InstanceKey, target time.Time, added time.Duration, token string, now time.Time) (bool, error)
	Acknowledge(ctx context.Context, key domain.InstanceKey, now time.Time) (bool, error)
	Skip(ctx context.Context, key domain.InstanceKey, now time.Time) (bool, error)
	MarkMissed(ctx context.Context, key domain.InstanceKey, expectGen int64, now time.Time) (bool, error)

	GetStreak(ctx context.Context, userID int64) (domain.StreakRecord, error)
	PutStreak(ctx context.Context, rec domain.StreakRecord) error

	// PurgeInstancesBefore deletes archived instances older than the given
	// civil date and returns how many were removed.
	PurgeInstancesBefore(ctx context.Context, date domain.CivilDate) (int64, error)

	Close() error
}
