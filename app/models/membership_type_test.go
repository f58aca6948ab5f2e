package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitAllows(t *testing.T) {
	assert.True(t, Unlimited.Allows(1_000_000))
	assert.True(t, Limit(3).Allows(2))
	assert.False(t, Limit(3).Allows(3))
	assert.False(t, Limit(1).Allows(5))
}

func TestLimitJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		A Limit `json:"a"`
		B Limit `json:"b"`
	}{A: Unlimited, B: 25})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"unlimited","b":25}`, string(out))

	var in struct {
		A Limit `json:"a"`
		B Limit `json:"b"`
		C Limit `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"Unlimited","b":7,"c":"12"}`), &in))
	assert.Equal(t, Unlimited, in.A)
	assert.Equal(t, Limit(7), in.B)
	assert.Equal(t, Limit(12), in.C)

	var bad struct {
		A Limit `json:"a"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"a":"lots"}`), &bad))
}

func TestMembershipTypeWindowFrom(t *testing.T) {
	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	pro := &MembershipType{DurationMonths: 12}
	assert.Equal(t, start.AddDate(1, 0, 0), pro.WindowFrom(start, time.Hour))
	assert.False(t, pro.IsOpenEnded())

	free := &MembershipType{DurationMonths: 0}
	assert.True(t, free.IsOpenEnded())
	assert.Equal(t, start.Add(48*time.Hour), free.WindowFrom(start, 48*time.Hour))

	lifetime := &MembershipType{DurationMonths: 12 * 9000}
	assert.Equal(t, MaxWindowTime, lifetime.WindowFrom(start, time.Hour))
}

func TestMembershipTypeValidate(t *testing.T) {
	valid := &MembershipType{Name: "Pro", Slug: "pro", PriceCents: 1900, DurationMonths: 1, MaxProviders: 10, MaxItems: Unlimited, MaxLists: 5}
	assert.NoError(t, valid.Validate())

	zeroLimit := *valid
	zeroLimit.MaxLists = 0
	assert.Error(t, zeroLimit.Validate())

	noSlug := *valid
	noSlug.Slug = ""
	assert.Error(t, noSlug.Validate())
}
