package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}
	return out
}

func TestIDQueue_SnapshotThenLive(t *testing.T) {
	q := newIDQueue([]string{"a", "b"})
	q.push("c")

	got := drain(t, q.channel(), 3)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestIDQueue_PreservesPushOrder(t *testing.T) {
	q := newIDQueue[string](nil)
	for _, v := range []string{"1", "2", "3", "4"} {
		q.push(v)
	}

	got := drain(t, q.channel(), 4)
	assert.Equal(t, []string{"1", "2", "3", "4"}, got)
}

func TestIDQueue_CloseDrainsRemainingThenClosesChannel(t *testing.T) {
	q := newIDQueue([]string{"x"})
	q.closeQueue()

	got, ok := <-q.channel()
	require.True(t, ok)
	assert.Equal(t, "x", got)

	_, ok = <-q.channel()
	assert.False(t, ok, "channel should be closed once the backlog drains")
}

func TestIDQueue_PushAfterCloseIsDropped(t *testing.T) {
	q := newIDQueue[string](nil)
	q.closeQueue()
	q.push("late")

	_, ok := <-q.channel()
	assert.False(t, ok)
}
