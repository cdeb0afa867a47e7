package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirstCheckAllowed(t *testing.T) {
	l := New(1000 * time.Millisecond)
	assert.True(t, l.Check("c1"))
}

func TestImmediateSecondCheckThrottled(t *testing.T) {
	l := New(1000 * time.Millisecond)
	require := assert.New(t)
	require.True(l.Check("c1"))
	require.False(l.Check("c1"))
}

func TestCheckAllowedAfterInterval(t *testing.T) {
	l := New(10 * time.Millisecond)
	assert.True(t, l.Check("c1"))
	time.Sleep(15 * time.Millisecond)
	assert.True(t, l.Check("c1"))
}

func TestChatsAreIndependent(t *testing.T) {
	l := New(1000 * time.Millisecond)
	assert.True(t, l.Check("c1"))
	assert.True(t, l.Check("c2"))
}

func TestBackoffDefersNextWindow(t *testing.T) {
	l := New(20 * time.Millisecond)
	assert.True(t, l.Check("c1"))
	l.Backoff("c1")
	// Backoff pushed last-edit to now+interval, so an immediate check
	// after waiting only the base interval should still be throttled.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, l.Check("c1"))
	time.Sleep(25 * time.Millisecond)
	assert.True(t, l.Check("c1"))
}
