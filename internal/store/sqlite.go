package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/amirbiron/Tfilin/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// --- Users ---

// UpsertUser inserts or updates a user's reminder preferences.
func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *domain.UserConfig) error {
	if u == nil {
		return errors.New("nil user")
	}

	now := time.Now().UTC().Unix()
	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			user_id, active, tz, locale, fire_hour, fire_minute,
			sunset_lead_sec, snooze_pref_sec, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			active          = excluded.active,
			tz              = excluded.tz,
			locale          = excluded.locale,
			fire_hour       = excluded.fire_hour,
			fire_minute     = excluded.fire_minute,
			sunset_lead_sec = excluded.sunset_lead_sec,
			snooze_pref_sec = excluded.snooze_pref_sec,
			updated_at      = excluded.updated_at`,
		u.UserID, boolToInt(u.Active), u.TZ, u.Locale, u.FireHour, u.FireMinute,
		int64(u.SunsetLead.Seconds()), int64(u.SnoozePref.Seconds()), created, now,
	)
	return err
}

const userColumns = `user_id, active, tz, locale, fire_hour, fire_minute,
       sunset_lead_sec, snooze_pref_sec, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.UserConfig, error) {
	var (
		u          domain.UserConfig
		activeInt  int
		sunsetSec  int64
		snoozeSec  int64
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(
		&u.UserID, &activeInt, &u.TZ, &u.Locale, &u.FireHour, &u.FireMinute,
		&sunsetSec, &snoozeSec, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	u.Active = activeInt != 0
	u.SunsetLead = time.Duration(sunsetSec) * time.Second
	u.SnoozePref = time.Duration(snoozeSec) * time.Second
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}

// GetUser returns a user's settings by id or ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, userID int64) (*domain.UserConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// ListActiveUsers returns every active user. The scheduler calls this each
// tick so deactivation takes effect within one tick interval.
func (r *SQLiteRepo) ListActiveUsers(ctx context.Context) ([]domain.UserConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.UserConfig
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	return res, rows.Err()
}

// SetActive toggles the active flag for a user.
func (r *SQLiteRepo) SetActive(ctx context.Context, userID int64, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = ?, updated_at = ? WHERE user_id = ?`,
		boolToInt(active), time.Now().UTC().Unix(), userID)
	return err
}

// --- Instances ---

const instanceColumns = `user_id, civil_date, state, fire_at, sunset_fire_at,
       sunset_sent, snooze_count, snooze_total_sec, generation, token,
       last_transition, created_at`

func scanInstance(row interface{ Scan(...any) error }) (*domain.ReminderInstance, error) {
	var (
		ri         domain.ReminderInstance
		dateStr    string
		state      string
		fireAt     int64
		sunsetNS   sql.NullInt64
		sunsetSent int
		totalSec   int64
		lastTrans  int64
		createdAt  int64
	)
	if err := row.Scan(
		&ri.Key.UserID, &dateStr, &state, &fireAt, &sunsetNS,
		&sunsetSent, &ri.SnoozeCount, &totalSec, &ri.Generation, &ri.Token,
		&lastTrans, &createdAt,
	); err != nil {
		return nil, err
	}
	date, err := domain.ParseCivilDate(dateStr)
	if err != nil {
		return nil, err
	}
	ri.Key.Date = date
	ri.State = domain.State(state)
	ri.FireAt = time.Unix(fireAt, 0).UTC()
	ri.SunsetFireAt = fromNullInt64(sunsetNS)
	ri.SunsetSent = sunsetSent != 0
	ri.SnoozeTotal = time.Duration(totalSec) * time.Second
	ri.LastTransition = time.Unix(lastTrans, 0).UTC()
	ri.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &ri, nil
}

// CreateInstance inserts ri unless an instance already exists for its key.
// The composite primary key makes duplicate creation structurally
// impossible; a concurrent insert simply loses and is ignored.
func (r *SQLiteRepo) CreateInstance(ctx context.Context, ri *domain.ReminderInstance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO instances (
			user_id, civil_date, state, fire_at, sunset_fire_at,
			sunset_sent, snooze_count, snooze_total_sec, generation,
			token, last_transition, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ri.Key.UserID, ri.Key.Date.String(), string(ri.State),
		ri.FireAt.UTC().Unix(), toNullInt64(ri.SunsetFireAt),
		boolToInt(ri.SunsetSent), ri.SnoozeCount, int64(ri.SnoozeTotal.Seconds()),
		ri.Generation, ri.Token,
		ri.LastTransition.UTC().Unix(), ri.CreatedAt.UTC().Unix(),
	)
	return err
}

// GetInstance returns the instance for key or ErrNotFound.
func (r *SQLiteRepo) GetInstance(ctx context.Context, key domain.InstanceKey) (*domain.ReminderInstance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE user_id = ? AND civil_date = ?`,
		key.UserID, key.Date.String())
	ri, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ri, err
}

const instanceColumnsQual = `i.user_id, i.civil_date, i.state, i.fire_at, i.sunset_fire_at,
       i.sunset_sent, i.snooze_count, i.snooze_total_sec, i.generation, i.token,
       i.last_transition, i.created_at`

// listInstances runs a filtered scan joined against active users: a paused
// user's instances are invisible to the tick, so deactivation takes effect
// before the next dispatch or expiry touches them.
func (r *SQLiteRepo) listInstances(ctx context.Context, where string, args ...any) ([]domain.ReminderInstance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+instanceColumnsQual+`
		 FROM instances i
		 JOIN users u ON u.user_id = i.user_id AND u.active = 1
		 WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.ReminderInstance
	for rows.Next() {
		ri, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *ri)
	}
	return res, rows.Err()
}

// ListDue returns active users' pending/snoozed instances whose fire target
// has passed.
func (r *SQLiteRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ReminderInstance, error) {
	return r.listInstances(ctx,
		`state IN ('pending', 'snoozed') AND fire_at <= ? ORDER BY fire_at ASC LIMIT ?`,
		now.UTC().Unix(), limit)
}

// ListSunsetDue returns active users' instances whose secondary pre-sunset
// target has passed, was not yet dispatched, and whose day is still
// unresolved.
func (r *SQLiteRepo) ListSunsetDue(ctx context.Context, now time.Time, limit int) ([]domain.ReminderInstance, error) {
	return r.listInstances(ctx,
		`sunset_sent = 0 AND sunset_fire_at IS NOT NULL AND sunset_fire_at <= ?
		 AND state IN ('pending', 'sent', 'snoozed')
		 ORDER BY sunset_fire_at ASC LIMIT ?`,
		now.UTC().Unix(), limit)
}

// ListGraceExpired returns active users' sent instances whose last
// transition happened at or before cutoff.
func (r *SQLiteRepo) ListGraceExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.ReminderInstance, error) {
	return r.listInstances(ctx,
		`state = 'sent' AND last_transition <= ? ORDER BY last_transition ASC LIMIT ?`,
		cutoff.UTC().Unix(), limit)
}

// MarkSent drives pending/snoozed -> sent. The WHERE clause is the
// singleton dispatch guard: only one caller can match the observed
// generation while the row is still undispatched, so at most one process
// wins even with multiple schedulers racing on the same store.
func (r *SQLiteRepo) MarkSent(ctx context.Context, key domain.InstanceKey, expectGen int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET state = 'sent', last_transition = ?
		WHERE user_id = ? AND civil_date = ?
		  AND state IN ('pending', 'snoozed')
		  AND generation = ?`,
		now.UTC().Unix(), key.UserID, key.Date.String(), expectGen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RevertSent returns a sent instance to pending after a retryable delivery
// failure. The token is left untouched so the retried send carries the same
// idempotency token and the gateway can deduplicate.
func (r *SQLiteRepo) RevertSent(ctx context.Context, key domain.InstanceKey, expectGen int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET state = 'pending', last_transition = ?
		WHERE user_id = ? AND civil_date = ?
		  AND state = 'sent'
		  AND generation = ?`,
		now.UTC().Unix(), key.UserID, key.Date.String(), expectGen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkSunsetSent guards the secondary dispatch the same way MarkSent guards
// the primary: first caller flips the flag, everyone else loses.
func (r *SQLiteRepo) MarkSunsetSent(ctx context.Context, key domain.InstanceKey) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET sunset_sent = 1
		WHERE user_id = ? AND civil_date = ? AND sunset_sent = 0`,
		key.UserID, key.Date.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Snooze drives sent -> snoozed with a new target, bumps the generation so
// stale dispatchers lose their guard, and installs a fresh idempotency
// token for the re-dispatch.
func (r *SQLiteRepo) Snooze(ctx context.Context, key domain.InstanceKey, target time.Time, added time.Duration, token string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET state = 'snoozed',
		    fire_at = ?,
		    snooze_count = snooze_count + 1,
		    snooze_total_sec = snooze_total_sec + ?,
		    generation = generation + 1,
		    token = ?,
		    last_transition = ?
		WHERE user_id = ? AND civil_date = ? AND state = 'sent'`,
		target.UTC().Unix(), int64(added.Seconds()), token,
		now.UTC().Unix(), key.UserID, key.Date.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Acknowledge drives sent -> acknowledged.
func (r *SQLiteRepo) Acknowledge(ctx context.Context, key domain.InstanceKey, now time.Time) (bool, error) {
	return r.finish(ctx, key, domain.StateAcknowledged, `state = 'sent'`, now)
}

// Skip drives any non-terminal state -> skipped.
func (r *SQLiteRepo) Skip(ctx context.Context, key domain.InstanceKey, now time.Time) (bool, error) {
	return r.finish(ctx, key, domain.StateSkipped, `state IN ('pending', 'snoozed', 'sent')`, now)
}

// MarkMissed drives sent -> missed once the grace window elapsed. The
// generation check keeps a stale expiry from clobbering an instance the
// user snoozed in the meantime.
func (r *SQLiteRepo) MarkMissed(ctx context.Context, key domain.InstanceKey, expectGen int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET state = 'missed', last_transition = ?
		WHERE user_id = ? AND civil_date = ?
		  AND state = 'sent'
		  AND generation = ?`,
		now.UTC().Unix(), key.UserID, key.Date.String(), expectGen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepo) finish(ctx context.Context, key domain.InstanceKey, to domain.State, cond string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET state = ?, last_transition = ?
		WHERE user_id = ? AND civil_date = ? AND `+cond,
		string(to), now.UTC().Unix(), key.UserID, key.Date.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// --- Streaks ---

// GetStreak returns the user's streak record, or a zero record when the
// user has none yet.
func (r *SQLiteRepo) GetStreak(ctx context.Context, userID int64) (domain.StreakRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT current, longest, last_completed, updated_at
		FROM streaks WHERE user_id = ?`, userID)

	var (
		rec       domain.StreakRecord
		lastNS    sql.NullString
		updatedAt int64
	)
	rec.UserID = userID
	err := row.Scan(&rec.Current, &rec.Longest, &lastNS, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	if lastNS.Valid {
		date, err := domain.ParseCivilDate(lastNS.String)
		if err != nil {
			return rec, err
		}
		rec.LastCompleted = date
	}
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return rec, nil
}

// PutStreak upserts the user's streak record.
func (r *SQLiteRepo) PutStreak(ctx context.Context, rec domain.StreakRecord) error {
	var last string
	if !rec.LastCompleted.IsZero() {
		last = rec.LastCompleted.String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO streaks (user_id, current, longest, last_completed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current        = excluded.current,
			longest        = excluded.longest,
			last_completed = excluded.last_completed,
			updated_at     = excluded.updated_at`,
		rec.UserID, rec.Current, rec.Longest, toNullString(last),
		time.Now().UTC().Unix())
	return err
}

// PurgeInstancesBefore deletes instances with a civil date strictly earlier
// than date. Retention only; string comparison works because the stored form
// is YYYY-MM-DD.
func (r *SQLiteRepo) PurgeInstancesBefore(ctx context.Context, date domain.CivilDate) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM instances WHERE civil_date < ?`, date.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
