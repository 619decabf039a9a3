package lifecycle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_HappyPath(t *testing.T) {
	s, ok := Next(StatusNone, EventSubmitBorrow)
	require.True(t, ok)
	assert.Equal(t, StatusPendingApproval, s)

	s, ok = Next(s, EventApproveBorrow)
	require.True(t, ok)
	assert.Equal(t, StatusActive, s)

	s, ok = Next(s, EventRequestReturn)
	require.True(t, ok)
	assert.Equal(t, StatusPendingReturnApproval, s)

	s, ok = Next(s, EventApproveReturn)
	require.True(t, ok)
	assert.Equal(t, StatusReturned, s)
}

func TestNext_RenewalFromOverdue(t *testing.T) {
	s, ok := Next(StatusOverdue, EventRequestRenewal)
	require.True(t, ok)
	assert.Equal(t, StatusPendingRenewalApproval, s)

	assert.Equal(t, StatusOverdue, RestoreAfterRejectedRenewal(StatusOverdue))
	assert.Equal(t, StatusActive, RestoreAfterRejectedRenewal(StatusActive))
	assert.Equal(t, StatusActive, RestoreAfterRejectedRenewal(StatusNone))
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range AllStatuses() {
		if !s.Terminal() {
			continue
		}
		for _, e := range AllEvents() {
			_, ok := Next(s, e)
			assert.False(t, ok, "%s should not accept %s", s, e)
		}
	}
}

func TestEveryNonTerminalStatusHasAnExit(t *testing.T) {
	for _, s := range AllStatuses() {
		if s.Terminal() {
			continue
		}
		found := false
		for _, e := range AllEvents() {
			if _, ok := Next(s, e); ok {
				found = true
				break
			}
		}
		assert.True(t, found, "%s is a dead end", s)
	}
}

func TestInvalidTransitions(t *testing.T) {
	for _, c := range []struct {
		from Status
		e    Event
	}{
		{StatusPendingApproval, EventRequestReturn},
		{StatusActive, EventApproveBorrow},
		{StatusPendingReturnApproval, EventRequestRenewal},
		{StatusOverdue, EventMarkOverdue},
		{StatusUnknown, EventApproveBorrow},
	} {
		_, ok := Next(c.from, c.e)
		assert.False(t, ok, "%s on %s", c.e, c.from)
	}
}

func TestHeld(t *testing.T) {
	for _, s := range HeldStatuses() {
		assert.True(t, s.Held())
	}
	assert.False(t, StatusPendingApproval.Held())
	assert.False(t, StatusOverdue.Held())
	assert.False(t, StatusReturned.Held())
}

func TestStatusWireRoundTrip(t *testing.T) {
	for _, s := range AllStatuses() {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStatus("borrowed")
	assert.Error(t, err)
}

func TestStatusScan(t *testing.T) {
	var s Status
	require.NoError(t, s.Scan("ACTIVE"))
	assert.Equal(t, StatusActive, s)

	require.NoError(t, s.Scan([]byte("OVERDUE")))
	assert.Equal(t, StatusOverdue, s)

	require.NoError(t, s.Scan("lost"))
	assert.Equal(t, StatusUnknown, s)
	assert.False(t, s.Valid())

	require.NoError(t, s.Scan(nil))
	assert.Equal(t, StatusNone, s)

	assert.Error(t, s.Scan(42))
}

func TestStatusValue(t *testing.T) {
	v, err := StatusReturned.Value()
	require.NoError(t, err)
	assert.Equal(t, "RETURNED", v)

	v, err = StatusNone.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = StatusUnknown.Value()
	assert.Error(t, err)
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Status{"status": StatusPendingRenewalApproval})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"PENDING_RENEWAL_APPROVAL"}`, string(b))

	var out map[string]Status
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, StatusPendingRenewalApproval, out["status"])
}
