package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_ExponentialWithCap(t *testing.T) {
	assert.Equal(t, 1000, int(backoffDelay(1, 1000, 60000).Milliseconds()))
	assert.Equal(t, 2000, int(backoffDelay(2, 1000, 60000).Milliseconds()))
	assert.Equal(t, 4000, int(backoffDelay(3, 1000, 60000).Milliseconds()))
	assert.Equal(t, 60000, int(backoffDelay(20, 1000, 60000).Milliseconds()))
}

func TestRequestSync_CoalescesWhileSyncing(t *testing.T) {
	e := &Engine{status: StatusIdle, bus: NewBus(0)}
	e.syncing = true

	e.RequestSync("second")
	assert.True(t, e.requestedWhileRunning)
	assert.Equal(t, "second", e.lastRequestReason)
}

func TestRequestSync_NoOpWhenDisabled(t *testing.T) {
	e := &Engine{status: StatusDisabled, bus: NewBus(0)}
	e.RequestSync("ignored")
	assert.False(t, e.syncing)
	assert.False(t, e.requestedWhileRunning)
}
