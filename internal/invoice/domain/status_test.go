package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusRefusesUnknownValues(t *testing.T) {
	_, err := Status("ARCHIVED").Value()
	require.ErrorIs(t, err, ErrUnknownStatus)

	var s Status
	require.ErrorIs(t, s.Scan("open"), ErrUnknownStatus)
	require.ErrorIs(t, s.Scan(42), ErrUnknownStatus)

	require.NoError(t, s.Scan([]byte("OVERDUE")))
	require.Equal(t, StatusOverdue, s)

	parsed, err := ParseStatus(" sent ")
	require.NoError(t, err)
	require.Equal(t, StatusSent, parsed)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusDraft, ActionSend, StatusSent},
		{StatusDraft, ActionCancel, StatusCancelled},
		{StatusSent, ActionCancel, StatusCancelled},
		{StatusSent, ActionMarkOverdue, StatusOverdue},
		{StatusSent, ActionMarkPaid, StatusPaid},
		{StatusOverdue, ActionMarkPaid, StatusPaid},
		{StatusDraft, ActionEdit, StatusDraft},
	}
	for _, tc := range cases {
		to, err := Next(tc.from, tc.action)
		require.NoError(t, err, "%s from %s", tc.action, tc.from)
		require.Equal(t, tc.to, to)
	}

	illegal := []struct {
		from   Status
		action Action
	}{
		{StatusDraft, ActionMarkOverdue},
		{StatusDraft, ActionMarkPaid},
		{StatusSent, ActionSend},
		{StatusSent, ActionEdit},
		{StatusOverdue, ActionMarkOverdue},
		{StatusOverdue, ActionCancel},
	}
	for _, tc := range illegal {
		_, err := Next(tc.from, tc.action)
		require.ErrorIs(t, err, ErrInvalidState, "%s from %s", tc.action, tc.from)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	actions := []Action{ActionEdit, ActionSend, ActionCancel, ActionMarkOverdue, ActionMarkPaid}
	for _, status := range []Status{StatusPaid, StatusCancelled} {
		require.True(t, status.Terminal())
		for _, action := range actions {
			_, err := Next(status, action)
			require.ErrorIs(t, err, ErrInvalidState)
		}
	}
	require.Equal(t, []Status{StatusSent, StatusOverdue}, Sources(ActionMarkPaid))
}
