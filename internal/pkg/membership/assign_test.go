package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

func TestAssign_AdminWindowForNewUser(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)

	end := testNow.AddDate(0, 12, 0)
	rec, err := e.Assign(context.Background(), AssignInput{
		UserID:           1,
		MembershipTypeID: proTypeID,
		StartAt:          tptr(testNow),
		EndAt:            tptr(end),
	})
	require.NoError(t, err)

	records := s.recordsOf(1)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, proTypeID, records[0].MembershipTypeID)
	assert.Equal(t, models.MembershipStateActive, records[0].State)
	assert.True(t, records[0].EndAt.Equal(end))
	require.NotNil(t, s.user(1).ActiveMembershipID)
	assert.Equal(t, rec.ID, *s.user(1).ActiveMembershipID)
	requireInvariants(t, s, 1, testNow)
}

func TestAssign_DefaultWindow(t *testing.T) {
	e, s := newTestEngine(t, WithFallbackValidity(48*time.Hour))
	s.addUser(1)
	s.addUser(2)

	pro, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)
	assert.True(t, pro.StartAt.Equal(testNow))
	assert.True(t, pro.EndAt.Equal(testNow.AddDate(0, 1, 0)))

	free, err := e.Assign(context.Background(), AssignInput{UserID: 2, MembershipTypeID: freeTypeID})
	require.NoError(t, err)
	assert.True(t, free.EndAt.Equal(testNow.Add(48*time.Hour)))
}

func TestAssign_RenewsSameTypeInPlace(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	ctx := context.Background()

	first, err := e.Assign(ctx, AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)

	newEnd := testNow.AddDate(0, 6, 0)
	second, err := e.Assign(ctx, AssignInput{UserID: 1, MembershipTypeID: proTypeID, EndAt: tptr(newEnd)})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, s.recordsOf(1), 1)
	assert.True(t, s.get(first.ID).EndAt.Equal(newEnd))
	requireInvariants(t, s, 1, testNow)
}

func TestAssign_RenewsExpiredRecordOfSameType(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	old := s.addRecord(1, proTypeID, models.MembershipStateExpired, testNow.AddDate(0, -2, 0), testNow.AddDate(0, -1, 0))

	rec, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)
	assert.Equal(t, old.ID, rec.ID)
	assert.Equal(t, models.MembershipStateActive, s.get(old.ID).State)
	assert.Nil(t, s.get(old.ID).ExpiredAt)
}

func TestAssign_SupersedesOtherActiveRecords(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	free := s.addRecord(1, freeTypeID, models.MembershipStateActive, testNow.Add(-time.Hour), testNow.AddDate(9, 0, 0))
	// drifted state: two actives
	stray := s.addRecord(1, proTypeID, models.MembershipStateActive, testNow.Add(-time.Hour), testNow.AddDate(0, 1, 0))
	s.setPointer(1, ptr(free.ID))

	rec, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: premiumTypeID})
	require.NoError(t, err)

	assert.Equal(t, models.MembershipStateInactive, s.get(free.ID).State)
	assert.Equal(t, models.MembershipStateInactive, s.get(stray.ID).State)
	assert.Equal(t, rec.ID, *s.user(1).ActiveMembershipID)
	requireInvariants(t, s, 1, testNow)
}

func TestAssign_DeactivatesBeforeActivating(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	s.addRecord(1, freeTypeID, models.MembershipStateActive, testNow.Add(-time.Hour), testNow.AddDate(9, 0, 0))
	s.resetCalls()

	_, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)

	calls := s.callLog()
	deactivate, create, pointer := -1, -1, -1
	for i, c := range calls {
		switch c {
		case "DeactivateActive":
			deactivate = i
		case "Create":
			create = i
		case "SetActiveMembership":
			pointer = i
		}
	}
	require.NotEqual(t, -1, deactivate)
	assert.Less(t, deactivate, create)
	assert.Less(t, create, pointer)
}

func TestAssign_Validation(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)

	tests := []struct {
		name string
		in   AssignInput
	}{
		{name: "missing user", in: AssignInput{MembershipTypeID: proTypeID}},
		{name: "unknown user", in: AssignInput{UserID: 42, MembershipTypeID: proTypeID}},
		{name: "missing type", in: AssignInput{UserID: 1}},
		{name: "unknown type", in: AssignInput{UserID: 1, MembershipTypeID: 77}},
		{name: "end before start", in: AssignInput{UserID: 1, MembershipTypeID: proTypeID, StartAt: tptr(testNow), EndAt: tptr(testNow.Add(-time.Minute))}},
		{name: "elapsed window", in: AssignInput{UserID: 1, MembershipTypeID: proTypeID, StartAt: tptr(testNow.AddDate(-1, 0, 0)), EndAt: tptr(testNow.Add(-time.Hour))}},
		{name: "end past storable range", in: AssignInput{UserID: 1, MembershipTypeID: proTypeID, EndAt: tptr(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))}},
		{name: "start before storable range", in: AssignInput{UserID: 1, MembershipTypeID: proTypeID, StartAt: tptr(time.Date(999, 12, 31, 0, 0, 0, 0, time.UTC)), EndAt: tptr(testNow.AddDate(0, 1, 0))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.resetCalls()
			_, err := e.Assign(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
			for _, c := range s.callLog() {
				assert.NotContains(t, []string{"DeactivateActive", "Create", "Renew", "SetActiveMembership"}, c)
			}
		})
	}
	assert.Empty(t, s.recordsOf(1))
}

func TestAssign_WindowBeyond2038(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	end := time.Date(2040, 6, 1, 0, 0, 0, 0, time.UTC)

	rec, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: premiumTypeID, EndAt: &end})
	require.NoError(t, err)
	assert.True(t, rec.EndAt.Equal(end))
	requireInvariants(t, s, 1, testNow)
}

func TestAssign_PointerFailureIsHealedByRetryAndRepair(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	boom := errors.New("connection reset")
	s.fail = func(method string, _ uint) error {
		if method == "SetActiveMembership" {
			return boom
		}
		return nil
	}

	_, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.Error(t, err)
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "set_pointer", se.Step)
	assert.True(t, errors.Is(err, boom))

	// store is correct, pointer is stale
	require.Len(t, s.activeOf(1), 1)
	assert.Nil(t, s.user(1).ActiveMembershipID)

	s.fail = nil
	res, err := e.Repair(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, s.activeOf(1)[0].ID, res.Membership.ID)
	assert.Equal(t, int64(0), res.DeactivatedCount)
	requireInvariants(t, s, 1, testNow)

	again, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)
	assert.Equal(t, res.Membership.ID, again.ID)
}

func TestAssign_InsertFailureLeavesZeroActive(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	free := s.addRecord(1, freeTypeID, models.MembershipStateActive, testNow.Add(-time.Hour), testNow.AddDate(9, 0, 0))
	s.setPointer(1, ptr(free.ID))
	s.fail = func(method string, _ uint) error {
		if method == "Create" {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.Error(t, err)
	assert.True(t, IsStoreError(err))
	assert.Empty(t, s.activeOf(1))

	s.fail = nil
	res, err := e.Repair(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, free.ID, res.Membership.ID)
	requireInvariants(t, s, 1, testNow)
}

func TestAssign_NotifiesListeners(t *testing.T) {
	var events []Event
	e, s := newTestEngine(t, WithListener(ListenerFunc(func(_ context.Context, ev Event) {
		events = append(events, ev)
	})))
	s.addUser(1)

	rec, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)
	_, err = e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventAssigned, events[0].Kind)
	assert.Equal(t, rec.ID, events[0].Membership.ID)
	assert.True(t, events[0].PointerChanged)
	assert.False(t, events[1].PointerChanged)
}
