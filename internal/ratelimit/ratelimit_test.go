package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moorgate/pkg/models"
)

func TestAllowCountsPerWindow(t *testing.T) {
	l := New(time.Minute)
	now := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ActionConvSend, "u1", 3)
		require.True(t, ok)
	}

	ok, retry := l.Allow(ActionConvSend, "u1", 3)
	assert.False(t, ok)
	assert.Equal(t, 60, retry)

	// A different key or action has its own window.
	ok, _ = l.Allow(ActionConvSend, "u2", 3)
	assert.True(t, ok)
	ok, _ = l.Allow(ActionSocialPublish, "u1", 3)
	assert.True(t, ok)
}

func TestWindowRollsOver(t *testing.T) {
	l := New(time.Minute)
	now := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return now })

	ok, _ := l.Allow(ActionDMCreate, "u1", 1)
	require.True(t, ok)
	ok, retry := l.Allow(ActionDMCreate, "u1", 1)
	require.False(t, ok)
	assert.Equal(t, 60, retry)

	// Mid-window the retry hint shrinks and rounds up.
	now = now.Add(30*time.Second + 500*time.Millisecond)
	ok, retry = l.Allow(ActionDMCreate, "u1", 1)
	require.False(t, ok)
	assert.Equal(t, 30, retry)

	now = now.Add(30 * time.Second)
	ok, _ = l.Allow(ActionDMCreate, "u1", 1)
	assert.True(t, ok)
}

func TestRetryAfterIsAtLeastOneSecond(t *testing.T) {
	l := New(time.Minute)
	now := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return now })

	_, _ = l.Allow(ActionConvSend, "u1", 1)
	now = now.Add(time.Minute - time.Millisecond)
	_, retry := l.Allow(ActionConvSend, "u1", 1)
	assert.Equal(t, 1, retry)
}

func TestZeroLimitDisables(t *testing.T) {
	l := New(time.Minute)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow(ActionConvSend, "u1", 0)
		require.True(t, ok)
	}
}

func TestCheckReturnsTypedError(t *testing.T) {
	l := New(time.Minute)
	now := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return now })

	require.NoError(t, l.Check(ActionLeaseRenew, "d1", 1))
	err := l.Check(ActionLeaseRenew, "d1", 1)
	require.Error(t, err)
	ge := models.AsGatewayError(err)
	assert.Equal(t, models.CodeRateLimited, ge.Code)
	assert.Equal(t, 60, ge.Detail["retry_after_s"])
}

func TestCleanupEvictsExpiredWindows(t *testing.T) {
	l := New(time.Minute)
	now := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return now })

	_, _ = l.Allow(ActionConvSend, "u1", 5)
	_, _ = l.Allow(ActionConvSend, "u2", 5)
	assert.Len(t, l.windows, 2)

	now = now.Add(2 * time.Minute)
	l.cleanup()
	assert.Empty(t, l.windows)
}
