package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMembershipRecordValidity(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	rec := &MembershipRecord{State: MembershipStateActive, EndAt: now.Add(time.Hour)}
	assert.True(t, rec.IsActive())
	assert.False(t, rec.IsExpiredAt(now))
	assert.True(t, rec.IsValidAt(now))

	rec.EndAt = now
	assert.True(t, rec.IsExpiredAt(now), "end equal to now counts as elapsed")
	assert.False(t, rec.IsValidAt(now))

	rec.EndAt = now.Add(time.Hour)
	rec.State = MembershipStateInactive
	assert.False(t, rec.IsValidAt(now))
}

func TestIsValidMembershipState(t *testing.T) {
	for _, s := range []string{"active", "inactive", "expired"} {
		assert.True(t, IsValidMembershipState(s), s)
	}
	assert.False(t, IsValidMembershipState("paused"))
	assert.False(t, IsValidMembershipState(""))
}

func TestUserPointsAt(t *testing.T) {
	u := &User{}
	assert.False(t, u.PointsAt(1))

	id := uint(7)
	u.ActiveMembershipID = &id
	assert.True(t, u.PointsAt(7))
	assert.False(t, u.PointsAt(8))
}

func TestCreateUserValidates(t *testing.T) {
	u, err := CreateUser("buyer-one", "buyer@example.com")
	assert.NoError(t, err)
	assert.True(t, u.IsActive())

	_, err = CreateUser("x", "not-an-email")
	assert.Error(t, err)
}
