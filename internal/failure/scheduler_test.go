package failure

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery_RunsUntilCancelled(t *testing.T) {
	var n atomic.Int32
	task := Every(2*time.Millisecond, func() bool {
		n.Add(1)
		return true
	})

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	task.Cancel()

	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, n.Load(), "callback ran after Cancel returned")

	// second cancel is a no-op
	task.Cancel()
}

func TestEvery_StopsWhenCallbackReturnsFalse(t *testing.T) {
	var n atomic.Int32
	task := Every(time.Millisecond, func() bool {
		return n.Add(1) < 3
	})

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not finish")
	}
	assert.Equal(t, int32(3), n.Load())
}

func TestAfter_Fires(t *testing.T) {
	fired := make(chan struct{})
	After(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("After never fired")
	}
}

func TestAfter_CancelPreventsFire(t *testing.T) {
	var fired atomic.Bool
	task := After(20*time.Millisecond, func() { fired.Store(true) })
	task.Cancel()

	time.Sleep(40 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestCancel_WaitsForRunningCallback(t *testing.T) {
	entered := make(chan struct{})
	var finished atomic.Bool
	task := Every(time.Millisecond, func() bool {
		close(entered)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return false
	})

	<-entered
	task.Cancel()
	assert.True(t, finished.Load(), "Cancel returned while callback was running")
}
