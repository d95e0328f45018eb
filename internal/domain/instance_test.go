package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, time.June, 10, 5, 0, 0, 0, time.UTC)

func sentInstance() *ReminderInstance {
	return &ReminderInstance{
		Key:            InstanceKey{UserID: 1, Date: CivilDate{2025, time.June, 10}},
		State:          StateSent,
		FireAt:         t0,
		LastTransition: t0,
	}
}

func TestState_Terminal(t *testing.T) {
	require.True(t, StateAcknowledged.Terminal())
	require.True(t, StateSkipped.Terminal())
	require.True(t, StateMissed.Terminal())
	require.False(t, StatePending.Terminal())
	require.False(t, StateSent.Terminal())
	require.False(t, StateSnoozed.Terminal())
}

func TestDue(t *testing.T) {
	ri := &ReminderInstance{State: StatePending, FireAt: t0}
	require.False(t, ri.Due(t0.Add(-time.Second)))
	require.True(t, ri.Due(t0))
	require.True(t, ri.Due(t0.Add(time.Minute)))

	ri.State = StateSent
	require.False(t, ri.Due(t0.Add(time.Minute)))
}

func TestGraceExpired(t *testing.T) {
	ri := sentInstance()
	grace := 30 * time.Minute
	require.False(t, ri.GraceExpired(t0.Add(29*time.Minute), grace))
	require.True(t, ri.GraceExpired(t0.Add(30*time.Minute), grace))

	ri.State = StateSnoozed
	require.False(t, ri.GraceExpired(t0.Add(time.Hour), grace))
}

func TestSnoozeTarget(t *testing.T) {
	now := t0.Add(5 * time.Minute)

	t.Run("happy path", func(t *testing.T) {
		ri := sentInstance()
		target, err := ri.SnoozeTarget(now, 10*time.Minute, 3, 2*time.Hour)
		require.NoError(t, err)
		require.Equal(t, now.Add(10*time.Minute), target)
	})

	t.Run("count cap", func(t *testing.T) {
		ri := sentInstance()
		ri.SnoozeCount = 3
		_, err := ri.SnoozeTarget(now, 10*time.Minute, 3, 2*time.Hour)
		require.ErrorIs(t, err, ErrSnoozeLimit)
	})

	t.Run("total cap clamps", func(t *testing.T) {
		ri := sentInstance()
		ri.SnoozeTotal = 110 * time.Minute
		target, err := ri.SnoozeTarget(now, time.Hour, 3, 2*time.Hour)
		require.NoError(t, err)
		require.Equal(t, now.Add(10*time.Minute), target, "clamped to remaining deferral")
	})

	t.Run("total cap exhausted", func(t *testing.T) {
		ri := sentInstance()
		ri.SnoozeTotal = 2 * time.Hour
		_, err := ri.SnoozeTarget(now, 10*time.Minute, 3, 2*time.Hour)
		require.ErrorIs(t, err, ErrSnoozeLimit)
	})

	t.Run("not sent", func(t *testing.T) {
		ri := sentInstance()
		ri.State = StatePending
		_, err := ri.SnoozeTarget(now, 10*time.Minute, 3, 2*time.Hour)
		require.ErrorIs(t, err, ErrNotSent)
	})

	t.Run("terminal", func(t *testing.T) {
		ri := sentInstance()
		ri.State = StateAcknowledged
		_, err := ri.SnoozeTarget(now, 10*time.Minute, 3, 2*time.Hour)
		require.ErrorIs(t, err, ErrTerminal)
	})
}

func TestCanAcknowledgeAndSkip(t *testing.T) {
	ri := sentInstance()
	require.NoError(t, ri.CanAcknowledge())
	require.NoError(t, ri.CanSkip())

	ri.State = StatePending
	require.ErrorIs(t, ri.CanAcknowledge(), ErrNotSent)
	require.NoError(t, ri.CanSkip())

	ri.State = StateMissed
	require.ErrorIs(t, ri.CanAcknowledge(), ErrTerminal)
	require.ErrorIs(t, ri.CanSkip(), ErrTerminal)
}

func TestDispatchIntent(t *testing.T) {
	ri := sentInstance()
	require.Equal(t, IntentDaily, ri.DispatchIntent())
	ri.SnoozeCount = 1
	require.Equal(t, IntentRepeat, ri.DispatchIntent())
}
