package domain

import (
	"errors"
	"time"
)

// State is the lifecycle state of a ReminderInstance.
type State string

const (
	StatePending      State = "pending"
	StateSent         State = "sent"
	StateSnoozed      State = "snoozed"
	StateAcknowledged State = "acknowledged"
	StateSkipped      State = "skipped"
	StateMissed       State = "missed"
)

// Terminal reports whether s is a final state for its civil date. No
// transition may leave a terminal state; repeated attempts are no-ops.
func (s State) Terminal() bool {
	switch s {
	case StateAcknowledged, StateSkipped, StateMissed:
		return true
	}
	return false
}

// Intent names what the messaging gateway should deliver. The core never
// renders user-facing text; the transport layer maps intents to messages.
type Intent string

const (
	IntentDaily  Intent = "daily"  // first dispatch of the day
	IntentRepeat Intent = "repeat" // re-dispatch after a snooze
	IntentSunset Intent = "sunset" // pre-sunset secondary reminder
)

var (
	// ErrTerminal is returned when a transition is attempted on an
	// instance already in a terminal state. Callers treat it as a no-op.
	ErrTerminal = errors.New("instance already terminal")

	// ErrNotSent rejects acknowledge/snooze before the reminder was
	// dispatched.
	ErrNotSent = errors.New("instance not in sent state")

	// ErrSnoozeLimit rejects a snooze past the per-day count or total
	// deferral cap.
	ErrSnoozeLimit = errors.New("snooze limit reached")

	// ErrRecipientBlocked is surfaced by the gateway when the recipient
	// blocked the bot; the scheduler deactivates the user instead of
	// retrying.
	ErrRecipientBlocked = errors.New("recipient blocked")

	// ErrNoInstance is returned by command entry points when no reminder
	// instance exists for the user's current civil date.
	ErrNoInstance = errors.New("no reminder instance for today")
)

// InstanceKey addresses one ReminderInstance: (user, civil date) is unique.
type InstanceKey struct {
	UserID int64
	Date   CivilDate
}

// ReminderInstance is one reminder cycle for one user on one civil date.
// The store is the source of truth; this struct is a read model plus the
// pure transition rules. All mutating transitions go through conditional
// writes keyed on (state, generation) so that concurrent schedulers cannot
// both win the same edge.
type ReminderInstance struct {
	Key            InstanceKey
	State          State
	FireAt         time.Time     // target instant of the next/most recent dispatch, UTC
	SunsetFireAt   *time.Time    // secondary pre-sunset instant, nil when not configured or unavailable
	SunsetSent     bool          // secondary dispatched (independent of the primary lifecycle)
	SnoozeCount    int
	SnoozeTotal    time.Duration // accumulated deferral across all snoozes
	Generation     int64         // bumped on every re-arm; the dispatch guard's expected value
	Token          string        // idempotency token passed to the gateway; refreshed on snooze
	LastTransition time.Time     // UTC
	CreatedAt      time.Time     // UTC
}

// Due reports whether the primary dispatch target has been reached.
func (ri *ReminderInstance) Due(now time.Time) bool {
	return (ri.State == StatePending || ri.State == StateSnoozed) && !now.Before(ri.FireAt)
}

// GraceExpired reports whether a sent instance has outlived the grace window
// without a user response.
func (ri *ReminderInstance) GraceExpired(now time.Time, grace time.Duration) bool {
	return ri.State == StateSent && now.Sub(ri.LastTransition) >= grace
}

// DispatchIntent distinguishes a first send from a post-snooze repeat.
func (ri *ReminderInstance) DispatchIntent() Intent {
	if ri.SnoozeCount > 0 {
		return IntentRepeat
	}
	return IntentDaily
}

// SnoozeTarget validates a snooze request against the count and total
// deferral caps and returns the new target instant. The requested duration
// is clamped so the accumulated deferral never exceeds maxTotal.
func (ri *ReminderInstance) SnoozeTarget(now time.Time, d time.Duration, maxCount int, maxTotal time.Duration) (time.Time, error) {
	if ri.State.Terminal() {
		return time.Time{}, ErrTerminal
	}
	if ri.State != StateSent {
		return time.Time{}, ErrNotSent
	}
	if ri.SnoozeCount >= maxCount {
		return time.Time{}, ErrSnoozeLimit
	}
	remaining := maxTotal - ri.SnoozeTotal
	if remaining <= 0 {
		return time.Time{}, ErrSnoozeLimit
	}
	if d > remaining {
		d = remaining
	}
	if d <= 0 {
		return time.Time{}, ErrSnoozeLimit
	}
	return now.Add(d), nil
}

// CanAcknowledge validates the Sent -> Acknowledged edge.
func (ri *ReminderInstance) CanAcknowledge() error {
	if ri.State.Terminal() {
		return ErrTerminal
	}
	if ri.State != StateSent {
		return ErrNotSent
	}
	return nil
}

// CanSkip validates the Skip edge, legal from any non-terminal state.
func (ri *ReminderInstance) CanSkip() error {
	if ri.State.Terminal() {
		return ErrTerminal
	}
	return nil
}
