package membership

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

func TestActiveMembership(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	s.addUser(2)
	ctx := context.Background()

	rec, err := e.ActiveMembership(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, rec)

	assigned, err := e.Assign(ctx, AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)
	rec, err = e.ActiveMembership(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, assigned.ID, rec.ID)

	// foreign and dangling pointers read as no membership
	s.setPointer(2, ptr(assigned.ID))
	rec, err = e.ActiveMembership(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, rec)

	s.setPointer(2, ptr(12345))
	rec, err = e.ActiveMembership(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = e.ActiveMembership(ctx, 99)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestActiveMembership_ExpiredPointerReadsAsNil(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)
	r := s.addRecord(1, proTypeID, models.MembershipStateActive, testNow.AddDate(0, -1, 0), testNow)
	s.setPointer(1, ptr(r.ID))

	rec, err := e.ActiveMembership(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestResolveDefaultPlan(t *testing.T) {
	e, _ := newTestEngine(t)
	mt, err := e.ResolveDefaultPlan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, freeTypeID, mt.ID)

	missing, _ := newTestEngine(t, WithDefaultPlan(legacyTypeID))
	_, err = missing.ResolveDefaultPlan(context.Background())
	assert.True(t, errors.Is(err, ErrNoDefaultPlan))

	s := newMemStore()
	seedCatalog(s)
	guessed := NewEngine(s.repos())
	mt, err = guessed.ResolveDefaultPlan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, freeTypeID, mt.ID)
	assert.Equal(t, uint(0), guessed.DefaultPlanID())
}

func TestListenerPanicDoesNotFailOperation(t *testing.T) {
	var got []EventKind
	e, s := newTestEngine(t,
		WithListener(ListenerFunc(func(context.Context, Event) { panic("listener bug") })),
		WithListener(ListenerFunc(func(_ context.Context, ev Event) { got = append(got, ev.Kind) })),
	)
	s.addUser(1)

	_, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: proTypeID})
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventAssigned}, got)
}

func TestConcurrentAssignKeepsSingleActive(t *testing.T) {
	e, s := newTestEngine(t)
	s.addUser(1)

	var wg sync.WaitGroup
	types := []uint{freeTypeID, proTypeID, premiumTypeID}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				_, _ = e.Repair(context.Background(), 1)
				return
			}
			_, err := e.Assign(context.Background(), AssignInput{UserID: 1, MembershipTypeID: types[i%len(types)]})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, s.activeOf(1), 1)
	assert.LessOrEqual(t, len(s.recordsOf(1)), len(types))
	requireInvariants(t, s, 1, testNow)
}

// Random operation sequences, with injected store failures and time moving
// forward, must never produce two active records. Once failures stop, a
// repair restores the pointer invariant.
func TestInvariantsUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	now := testNow
	s := newMemStore()
	seedCatalog(s)
	e := NewEngine(s.repos(), WithDefaultPlan(freeTypeID), WithClock(func() time.Time { return now }))
	users := []uint{1, 2, 3}
	for _, id := range users {
		s.addUser(id)
	}
	types := []uint{freeTypeID, proTypeID, premiumTypeID, legacyTypeID}
	methods := []string{"DeactivateActive", "Create", "Renew", "UpdateState", "SetActiveMembership", "ListByUserID"}

	for step := 0; step < 400; step++ {
		failing := ""
		if rng.Intn(4) == 0 {
			failing = methods[rng.Intn(len(methods))]
		}
		s.fail = func(method string, _ uint) error {
			if method == failing {
				return errors.New("injected")
			}
			return nil
		}

		u := users[rng.Intn(len(users))]
		switch rng.Intn(4) {
		case 0, 1:
			end := now.Add(time.Duration(1+rng.Intn(72)) * time.Hour)
			_, _ = e.Assign(context.Background(), AssignInput{UserID: u, MembershipTypeID: types[rng.Intn(len(types))], EndAt: &end})
		case 2:
			_, _ = e.SweepExpired(context.Background())
		case 3:
			_, _ = e.Repair(context.Background(), u)
		}
		now = now.Add(time.Duration(rng.Intn(12)) * time.Hour)

		for _, id := range users {
			require.LessOrEqual(t, len(s.activeOf(id)), 1, "step %d user %d", step, id)
		}
	}

	s.fail = nil
	for _, id := range users {
		res, err := e.Repair(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, res.Membership)
		requireInvariants(t, s, id, now)
	}
}
