package session

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/filmqa/pkg/types"
)

// Messages are the lifecycle texts posted to a room, one per stage.
type Messages struct {
	Loading    string
	GraphReady string
	Welcome    string
}

// DefaultMessages returns the lifecycle texts for an agent called alias.
func DefaultMessages(alias string) Messages {
	return Messages{
		Loading:    "Hi! I'm still loading the movie knowledge graph and embeddings. Please wait a moment before asking questions.",
		GraphReady: "The knowledge graph is loaded. Almost there, I'm still preparing the embeddings.",
		Welcome: fmt.Sprintf("Hello! This is a welcome message from %s. Ask me about movies, "+
			`e.g. Who is the director of "Inception"? or Recommend movies similar to "The Matrix".`, alias),
	}
}

// RoomSession is the lifecycle record of one chat room.
type RoomSession struct {
	RoomID                string      `json:"room_id"`
	Stage                 types.Stage `json:"-"`
	StageName             string      `json:"stage"`
	LoadingMessageSent    bool        `json:"loading_message_sent"`
	GraphReadyMessageSent bool        `json:"graph_ready_message_sent"`
	Greeted               bool        `json:"greeted"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Coordinator owns the sessions of every active room, keyed by room ID.
type Coordinator struct {
	mu       sync.Mutex
	rooms    map[string]*RoomSession
	messages Messages
	now      func() time.Time
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(messages Messages) *Coordinator {
	return &Coordinator{
		rooms:    make(map[string]*RoomSession),
		messages: messages,
		now:      time.Now,
	}
}

// Notice is a lifecycle message due in a room. Stage is the stage the room
// entered when the notice was issued.
type Notice struct {
	Stage types.Stage
	Text  string
}

// Observe records that roomID is active and advances its session as far as
// state allows. It returns the lifecycle notices to post, in order. Each
// notice is returned exactly once over the life of the session; the session
// flags are only set by Delivered.
func (c *Coordinator) Observe(roomID string, state State) []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.rooms[roomID]
	if !ok {
		now := c.now()
		s = &RoomSession{RoomID: roomID, Stage: types.StageNew, CreatedAt: now, UpdatedAt: now}
		c.rooms[roomID] = s
	}

	var out []Notice
	if s.Stage == types.StageNew {
		c.advance(s, types.StageAwaitingGraph)
		out = append(out, Notice{Stage: s.Stage, Text: c.messages.Loading})
	}
	if s.Stage == types.StageAwaitingGraph && state.GraphLoaded {
		c.advance(s, types.StageAwaitingEmbeddings)
		out = append(out, Notice{Stage: s.Stage, Text: c.messages.GraphReady})
	}
	if s.Stage == types.StageAwaitingEmbeddings && state.EmbeddingsReady {
		c.advance(s, types.StageReady)
		out = append(out, Notice{Stage: s.Stage, Text: c.messages.Welcome})
	}
	return out
}

// Delivered records that the notice issued on entering stage was posted to
// roomID. Notices that fail to post are not reissued.
func (c *Coordinator) Delivered(roomID string, stage types.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.rooms[roomID]
	if !ok {
		return
	}
	switch stage {
	case types.StageAwaitingGraph:
		s.LoadingMessageSent = true
	case types.StageAwaitingEmbeddings:
		s.GraphReadyMessageSent = true
	case types.StageReady:
		s.Greeted = true
	default:
		return
	}
	s.UpdatedAt = c.now()
}

func (c *Coordinator) advance(s *RoomSession, next types.Stage) {
	if !types.IsValidStageTransition(s.Stage, next) {
		panic(fmt.Sprintf("session: invalid stage transition %s -> %s", s.Stage, next))
	}
	s.Stage = next
	s.UpdatedAt = c.now()
}

// Ready reports whether roomID has reached the Ready stage.
func (c *Coordinator) Ready(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.rooms[roomID]
	return ok && s.Stage == types.StageReady
}

// Prune drops the sessions of rooms not in active and returns their IDs.
func (c *Coordinator) Prune(active []string) []string {
	keep := make(map[string]bool, len(active))
	for _, id := range active {
		keep[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for id := range c.rooms {
		if !keep[id] {
			delete(c.rooms, id)
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	return removed
}

// Sessions returns copies of all sessions ordered by room ID.
func (c *Coordinator) Sessions() []RoomSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RoomSession, 0, len(c.rooms))
	for _, s := range c.rooms {
		cp := *s
		cp.StageName = s.Stage.String()
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b RoomSession) int {
		return strings.Compare(a.RoomID, b.RoomID)
	})
	return out
}
