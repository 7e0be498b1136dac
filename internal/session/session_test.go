package session

import (
	"sync"
	"testing"
	"time"

	"github.com/scrypster/filmqa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessages = Messages{Loading: "loading", GraphReady: "graph", Welcome: "welcome"}

func texts(notices []Notice) []string {
	var out []string
	for _, n := range notices {
		out = append(out, n.Text)
	}
	return out
}

// deliver marks every notice as posted.
func deliver(c *Coordinator, roomID string, notices []Notice) []string {
	for _, n := range notices {
		c.Delivered(roomID, n.Stage)
	}
	return texts(notices)
}

func TestCoordinator_LifecycleMessagesExactlyOnce(t *testing.T) {
	c := NewCoordinator(testMessages)

	assert.Equal(t, []string{"loading"}, deliver(c, "room", c.Observe("room", State{})))
	assert.False(t, c.Ready("room"))
	assert.Empty(t, c.Observe("room", State{}))
	assert.Empty(t, c.Observe("room", State{EmbeddingsReady: true}), "embeddings alone do not advance")

	assert.Equal(t, []string{"graph"}, deliver(c, "room", c.Observe("room", State{GraphLoaded: true})))
	assert.Empty(t, c.Observe("room", State{GraphLoaded: true}))
	assert.False(t, c.Ready("room"))

	assert.Equal(t, []string{"welcome"}, deliver(c, "room", c.Observe("room", State{GraphLoaded: true, EmbeddingsReady: true})))
	assert.True(t, c.Ready("room"))

	for i := 0; i < 3; i++ {
		assert.Empty(t, c.Observe("room", State{GraphLoaded: true, EmbeddingsReady: true}))
	}

	sessions := c.Sessions()
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, types.StageReady, s.Stage)
	assert.Equal(t, "ready", s.StageName)
	assert.True(t, s.LoadingMessageSent)
	assert.True(t, s.GraphReadyMessageSent)
	assert.True(t, s.Greeted)
}

func TestCoordinator_LateRoomGetsAllMessagesAtOnce(t *testing.T) {
	c := NewCoordinator(testMessages)

	got := c.Observe("late", State{GraphLoaded: true, EmbeddingsReady: true})
	assert.Equal(t, []string{"loading", "graph", "welcome"}, texts(got))
	assert.Equal(t, []types.Stage{types.StageAwaitingGraph, types.StageAwaitingEmbeddings, types.StageReady},
		[]types.Stage{got[0].Stage, got[1].Stage, got[2].Stage})
	assert.True(t, c.Ready("late"))
}

func TestCoordinator_FlagsRecordDelivery(t *testing.T) {
	c := NewCoordinator(testMessages)

	notices := c.Observe("room", State{GraphLoaded: true, EmbeddingsReady: true})
	require.Len(t, notices, 3)

	// The loading notice failed to post; the other two went out.
	c.Delivered("room", notices[1].Stage)
	c.Delivered("room", notices[2].Stage)

	sessions := c.Sessions()
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].LoadingMessageSent)
	assert.True(t, sessions[0].GraphReadyMessageSent)
	assert.True(t, sessions[0].Greeted)
	assert.True(t, c.Ready("room"))

	assert.Empty(t, c.Observe("room", State{GraphLoaded: true, EmbeddingsReady: true}), "failed notices are not reissued")

	c.Delivered("gone", types.StageReady)
	assert.Len(t, c.Sessions(), 1)
}

func TestCoordinator_PruneAndRecreate(t *testing.T) {
	c := NewCoordinator(testMessages)
	ready := State{GraphLoaded: true, EmbeddingsReady: true}

	c.Observe("a", ready)
	c.Observe("b", ready)
	c.Observe("c", State{})

	assert.Equal(t, []string{"a", "c"}, c.Prune([]string{"b"}))
	assert.False(t, c.Ready("a"))
	assert.True(t, c.Ready("b"))
	require.Len(t, c.Sessions(), 1)

	assert.Len(t, c.Observe("a", ready), 3, "a room that reappears starts a new session")
	assert.Empty(t, c.Prune([]string{"a", "b"}))
}

func TestCoordinator_SessionsAreCopies(t *testing.T) {
	c := NewCoordinator(testMessages)
	c.Observe("z", State{})
	c.Observe("m", State{})

	sessions := c.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "m", sessions[0].RoomID)
	assert.Equal(t, "awaiting_graph", sessions[0].StageName)

	sessions[0].Stage = types.StageReady
	assert.False(t, c.Ready("m"))
}

func TestReadiness(t *testing.T) {
	r := NewReadiness()
	assert.Equal(t, State{}, r.Snapshot())
	assert.False(t, r.Snapshot().Ready())

	changed := r.Changed()
	r.MarkGraphLoaded()
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("Changed did not fire after MarkGraphLoaded")
	}

	changed = r.Changed()
	r.MarkGraphLoaded()
	select {
	case <-changed:
		t.Fatal("marking an already set flag must not notify")
	default:
	}

	r.MarkEmbeddingsReady()
	<-changed
	assert.True(t, r.Snapshot().Ready())
}

func TestReadiness_ConcurrentWaiters(t *testing.T) {
	r := NewReadiness()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		ch := r.Changed()
		go func() {
			defer wg.Done()
			<-ch
			assert.True(t, r.Snapshot().GraphLoaded)
		}()
	}

	r.MarkGraphLoaded()
	wg.Wait()
}
