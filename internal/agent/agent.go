// Package agent runs the polling loop that connects chat rooms to the
// answering pipeline.
package agent

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/scrypster/filmqa/internal/chat"
	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/engine"
	"github.com/scrypster/filmqa/internal/metrics"
	"github.com/scrypster/filmqa/internal/session"
)

// Answerer turns one chat message into a reply.
type Answerer interface {
	Handle(ctx context.Context, text string) (string, *engine.Trace)
}

// Publisher receives agent events for live inspection.
type Publisher interface {
	Broadcast(message interface{})
}

// Event kinds published by the agent.
const (
	EventLifecycle = "lifecycle"
	EventAnswer    = "answer"
	EventReaction  = "reaction"
)

// Event is published for every message the agent posts.
type Event struct {
	Type      string        `json:"type"`
	RoomID    string        `json:"room_id"`
	MessageID string        `json:"message_id,omitempty"`
	Text      string        `json:"text"`
	Trace     *engine.Trace `json:"trace,omitempty"`
	At        time.Time     `json:"at"`
}

// Deps are the collaborators of the loop. Publisher and Metrics may be nil.
type Deps struct {
	Transport   chat.Transport
	Coordinator *session.Coordinator
	Readiness   *session.Readiness

	// Pipeline returns the current answerer. It is only called for rooms
	// that reached the Ready stage.
	Pipeline func() Answerer

	Publisher Publisher
	Metrics   *metrics.Metrics
}

// Agent is the single polling loop of the service.
type Agent struct {
	deps   Deps
	cfg    config.AgentConfig
	logger *log.Logger
}

// New creates an agent.
func New(deps Deps, cfg config.AgentConfig, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	return &Agent{deps: deps, cfg: cfg, logger: logger}
}

// ReactionReply is the acknowledgement posted for a reaction.
func ReactionReply(reactionType string) string {
	return fmt.Sprintf("Received your reaction: '%s'", reactionType)
}

// Run polls until ctx is cancelled. Between iterations it waits for the poll
// interval, a transport notification or a readiness change, whichever comes
// first.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Printf("agent: polling every %s", a.cfg.PollInterval)
	for {
		changed := a.deps.Readiness.Changed()
		a.Poll(ctx)

		timer := time.NewTimer(a.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Println("agent: stopped")
			return nil
		case <-timer.C:
		case <-a.deps.Transport.Notify():
			timer.Stop()
		case <-changed:
			timer.Stop()
		}
	}
}

// Poll runs one iteration over every active room.
func (a *Agent) Poll(ctx context.Context) {
	var rooms []chat.Room
	err := a.call(ctx, func(ctx context.Context) (err error) {
		rooms, err = a.deps.Transport.ListActiveRooms(ctx)
		return err
	})
	if err != nil {
		a.transportError("list_rooms", "", err)
		return
	}
	a.deps.Metrics.SetActiveRooms(len(rooms))

	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	for _, id := range a.deps.Coordinator.Prune(ids) {
		a.logger.Printf("agent: room %s closed", id)
	}

	state := a.deps.Readiness.Snapshot()
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		a.pollRoom(ctx, id, state)
	}
}

func (a *Agent) pollRoom(ctx context.Context, roomID string, state session.State) {
	for _, n := range a.deps.Coordinator.Observe(roomID, state) {
		if err := a.post(ctx, roomID, n.Text); err != nil {
			a.transportError("post_message", roomID, err)
			continue
		}
		a.deps.Coordinator.Delivered(roomID, n.Stage)
		a.deps.Metrics.MessagePosted(metrics.KindLifecycle)
		a.publish(Event{Type: EventLifecycle, RoomID: roomID, Text: n.Text})
	}

	// Messages that arrive earlier stay unprocessed and are answered once
	// the room is ready.
	if !a.deps.Coordinator.Ready(roomID) {
		return
	}
	p := a.deps.Pipeline()
	if p == nil {
		return
	}

	var messages []chat.Message
	err := a.call(ctx, func(ctx context.Context) (err error) {
		messages, err = a.deps.Transport.FetchNewMessages(ctx, roomID)
		return err
	})
	if err != nil {
		a.transportError("fetch_messages", roomID, err)
	}
	for _, m := range messages {
		if ctx.Err() != nil {
			return
		}
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		a.handleMessage(ctx, p, m)
	}

	var reactions []chat.Reaction
	err = a.call(ctx, func(ctx context.Context) (err error) {
		reactions, err = a.deps.Transport.FetchNewReactions(ctx, roomID)
		return err
	})
	if err != nil {
		a.transportError("fetch_reactions", roomID, err)
	}
	for _, r := range reactions {
		if ctx.Err() != nil {
			return
		}
		if r.RoomID == "" {
			r.RoomID = roomID
		}
		a.handleReaction(ctx, r)
	}
}

// handleMessage answers m. A panic while answering is logged and the message
// is marked processed so it is not retried forever.
func (a *Agent) handleMessage(ctx context.Context, p Answerer, m chat.Message) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("agent: panic answering message %s in room %s: %v\n%s", m.ID, m.RoomID, r, debug.Stack())
			a.deps.Metrics.PanicRecovered()
			a.markProcessed(ctx, m.RoomID, chat.MessageItem(m))
		}
	}()

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	answer, trace := p.Handle(callCtx, m.Text)
	cancel()
	a.observe(trace, time.Since(start))

	if a.cfg.Verbose {
		a.logger.Printf("agent: room %s message %s: %q -> %q", m.RoomID, m.ID, m.Text, answer)
	}

	if err := a.post(ctx, m.RoomID, answer); err != nil {
		// Not marked: the message is answered again on the next poll.
		a.transportError("post_message", m.RoomID, err)
		return
	}
	a.deps.Metrics.MessagePosted(metrics.KindAnswer)

	trace.SetRoom(m.RoomID)
	a.publish(Event{Type: EventAnswer, RoomID: m.RoomID, MessageID: m.ID, Text: answer, Trace: trace})
	a.markProcessed(ctx, m.RoomID, chat.MessageItem(m))
}

func (a *Agent) handleReaction(ctx context.Context, r chat.Reaction) {
	text := ReactionReply(r.Type)
	if err := a.post(ctx, r.RoomID, text); err != nil {
		a.transportError("post_message", r.RoomID, err)
		return
	}
	a.deps.Metrics.MessagePosted(metrics.KindReaction)
	a.deps.Metrics.ReactionHandled(r.Type)
	a.publish(Event{Type: EventReaction, RoomID: r.RoomID, MessageID: r.MessageID, Text: text})
	a.markProcessed(ctx, r.RoomID, chat.ReactionItem(r))
}

// observe records metrics from the events of a trace.
func (a *Agent) observe(trace *engine.Trace, d time.Duration) {
	if q, ok := trace.Last(engine.KindRawQuery); ok {
		a.deps.Metrics.ObserveQuery(q.Error == "" && q.Count > 0, d)
		return
	}
	intent, confidence := "none", "none"
	if e, ok := trace.Last(engine.KindIntentClassified); ok {
		intent = e.Intent
	}
	if e, ok := trace.Last(engine.KindEntityResolved); ok {
		confidence = string(e.Confidence)
	}
	a.deps.Metrics.ObserveQuestion(intent, confidence, d)
}

func (a *Agent) post(ctx context.Context, roomID, text string) error {
	return a.call(ctx, func(ctx context.Context) error {
		return a.deps.Transport.PostMessage(ctx, roomID, text)
	})
}

func (a *Agent) markProcessed(ctx context.Context, roomID string, item chat.Item) {
	err := a.call(ctx, func(ctx context.Context) error {
		return a.deps.Transport.MarkProcessed(ctx, roomID, item)
	})
	if err != nil {
		a.transportError("mark_processed", roomID, err)
	}
}

// call runs fn with the per-call timeout.
func (a *Agent) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func (a *Agent) transportError(op, roomID string, err error) {
	a.deps.Metrics.TransportError(op)
	if roomID == "" {
		a.logger.Printf("agent: %s: %v", op, err)
		return
	}
	a.logger.Printf("agent: %s in room %s: %v", op, roomID, err)
}

func (a *Agent) publish(e Event) {
	if a.deps.Publisher == nil {
		return
	}
	e.At = time.Now()
	a.deps.Publisher.Broadcast(e)
}
