package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusEvent(missionID, status string) Event {
	return Event{Type: TypeStatus, MissionID: missionID, Status: status, Timestamp: time.Now()}
}

func TestHub_FiltersByMission(t *testing.T) {
	hub := NewHub(8)
	ctx := context.Background()
	one := hub.Subscribe("m-1")
	all := hub.Subscribe("")
	defer one.Close()
	defer all.Close()

	require.NoError(t, hub.Broadcast(ctx, "m-1", statusEvent("m-1", "BUILDING")))
	require.NoError(t, hub.Broadcast(ctx, "m-2", statusEvent("m-2", "BUILDING")))

	assert.Equal(t, "m-1", (<-one.C()).MissionID)
	assert.Empty(t, one.C())
	assert.Len(t, all.C(), 2)
}

func TestHub_PreservesPerSubscriberOrder(t *testing.T) {
	hub := NewHub(1024)
	sub := hub.Subscribe("")
	defer sub.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for m := 0; m < 4; m++ {
		wg.Add(1)
		go func(m int) {
			defer wg.Done()
			id := fmt.Sprintf("m-%d", m)
			for i := 0; i < 100; i++ {
				_ = hub.Broadcast(ctx, id, statusEvent(id, fmt.Sprint(i)))
			}
		}(m)
	}
	wg.Wait()

	last := map[string]int{}
	for len(sub.C()) > 0 {
		ev := <-sub.C()
		var n int
		_, err := fmt.Sscan(ev.Status, &n)
		require.NoError(t, err)
		if prev, ok := last[ev.MissionID]; ok {
			assert.Greater(t, n, prev)
		}
		last[ev.MissionID] = n
	}
	assert.Len(t, last, 4)
}

func TestHub_FullSubscriberDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("m-1")
	defer sub.Close()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = hub.Broadcast(ctx, "m-1", statusEvent("m-1", "BUILDING"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	assert.Equal(t, int64(4), sub.Dropped())
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(0)
	sub := hub.Subscribe("")
	assert.Equal(t, 1, hub.Subscribers())

	hub.Close()
	_, open := <-sub.C()
	assert.False(t, open)
	sub.Close()

	assert.ErrorIs(t, hub.Broadcast(context.Background(), "m", Event{}), ErrClosed)

	late := hub.Subscribe("")
	_, open = <-late.C()
	assert.False(t, open)
	late.Close()
}

func TestSubscription_Close(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe("m-1")
	sub.Close()
	sub.Close()
	assert.Zero(t, hub.Subscribers())
	require.NoError(t, hub.Broadcast(context.Background(), "m-1", Event{}))
}

type failingSink struct{ err error }

func (f failingSink) Broadcast(context.Context, string, Event) error { return f.err }

func TestMulti(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe("")
	defer sub.Close()

	boom := errors.New("broker down")
	err := Multi{failingSink{boom}, nil, hub, Discard{}}.Broadcast(context.Background(), "m-1", statusEvent("m-1", "SUCCESS"))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sub.C(), 1)

	assert.NoError(t, Multi{}.Broadcast(context.Background(), "m-1", Event{}))
}
