package agent

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scrypster/filmqa/internal/chat"
	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/engine"
	"github.com/scrypster/filmqa/internal/metrics"
	"github.com/scrypster/filmqa/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var quiet = log.New(io.Discard, "", 0)

var messages = session.DefaultMessages("filmqa")

// fakeTransport is an in-memory chat platform.
type fakeTransport struct {
	mu              sync.Mutex
	rooms           []string
	messages        map[string][]chat.Message
	reactions       map[string][]chat.Reaction
	processed       map[chat.Item]bool
	posted          map[string][]string
	fetchCalls      int
	listErr         error
	postErr         error
	postHadDeadline bool
}

func newFakeTransport(rooms ...string) *fakeTransport {
	return &fakeTransport{
		rooms:     rooms,
		messages:  make(map[string][]chat.Message),
		reactions: make(map[string][]chat.Reaction),
		processed: make(map[chat.Item]bool),
		posted:    make(map[string][]string),
	}
}

func (f *fakeTransport) ListActiveRooms(ctx context.Context) ([]chat.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]chat.Room, len(f.rooms))
	for i, id := range f.rooms {
		out[i] = chat.Room{ID: id}
	}
	return out, nil
}

func (f *fakeTransport) FetchNewMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	var out []chat.Message
	for _, m := range f.messages[roomID] {
		if !f.processed[chat.MessageItem(m)] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeTransport) FetchNewReactions(ctx context.Context, roomID string) ([]chat.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Reaction
	for _, r := range f.reactions[roomID] {
		if !f.processed[chat.ReactionItem(r)] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeTransport) PostMessage(ctx context.Context, roomID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.postHadDeadline = ctx.Deadline()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted[roomID] = append(f.posted[roomID], text)
	return nil
}

func (f *fakeTransport) MarkProcessed(ctx context.Context, roomID string, item chat.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[item] = true
	return nil
}

func (f *fakeTransport) Notify() <-chan struct{} { return nil }

func (f *fakeTransport) addMessage(roomID, id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[roomID] = append(f.messages[roomID], chat.Message{ID: id, Text: text})
}

func (f *fakeTransport) postedTo(roomID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted[roomID]...)
}

func (f *fakeTransport) isProcessed(item chat.Item) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[item]
}

// echoAnswerer answers "answer: <text>" and panics on "boom".
type echoAnswerer struct {
	mu          sync.Mutex
	hadDeadline bool
}

func (e *echoAnswerer) Handle(ctx context.Context, text string) (string, *engine.Trace) {
	e.mu.Lock()
	_, e.hadDeadline = ctx.Deadline()
	e.mu.Unlock()
	if text == "boom" {
		panic("boom")
	}
	trace := &engine.Trace{ID: "t-" + text, Events: []engine.TraceEvent{
		engine.EventQuestionReceived(text),
		engine.EventAnswerComposed("answer: " + text),
	}}
	return "answer: " + text, trace
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Broadcast(message interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, message.(Event))
}

type AgentSuite struct {
	suite.Suite

	transport *fakeTransport
	readiness *session.Readiness
	answerer  *echoAnswerer
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	agent     *Agent
	ctx       context.Context
}

func (s *AgentSuite) SetupTest() {
	s.transport = newFakeTransport("lobby")
	s.readiness = session.NewReadiness()
	s.answerer = &echoAnswerer{}
	s.publisher = &recordingPublisher{}
	s.metrics = metrics.New()
	s.ctx = context.Background()

	s.agent = New(Deps{
		Transport:   s.transport,
		Coordinator: session.NewCoordinator(messages),
		Readiness:   s.readiness,
		Pipeline:    func() Answerer { return s.answerer },
		Publisher:   s.publisher,
		Metrics:     s.metrics,
	}, config.AgentConfig{PollInterval: 10 * time.Millisecond, CallTimeout: time.Second}, quiet)
}

func (s *AgentSuite) ready() {
	s.readiness.MarkGraphLoaded()
	s.readiness.MarkEmbeddingsReady()
}

func (s *AgentSuite) TestLifecycleAndDeferredMessages() {
	s.transport.addMessage("lobby", "m1", "Who directed Inception?")

	s.agent.Poll(s.ctx)
	s.Equal([]string{messages.Loading}, s.transport.postedTo("lobby"))
	s.Zero(s.transport.fetchCalls, "messages are not fetched before the room is ready")

	s.readiness.MarkGraphLoaded()
	s.agent.Poll(s.ctx)
	s.Equal([]string{messages.Loading, messages.GraphReady}, s.transport.postedTo("lobby"))
	s.False(s.transport.isProcessed(chat.Item{Kind: chat.ItemMessage, ID: "m1"}))

	s.readiness.MarkEmbeddingsReady()
	s.agent.Poll(s.ctx)
	s.Equal([]string{
		messages.Loading,
		messages.GraphReady,
		messages.Welcome,
		"answer: Who directed Inception?",
	}, s.transport.postedTo("lobby"))
	s.True(s.transport.isProcessed(chat.Item{Kind: chat.ItemMessage, ID: "m1"}))
}

func (s *AgentSuite) TestLifecycleMessagesAreNotRepeated() {
	s.ready()
	for i := 0; i < 4; i++ {
		s.agent.Poll(s.ctx)
	}
	s.Equal([]string{messages.Loading, messages.GraphReady, messages.Welcome}, s.transport.postedTo("lobby"))
	s.Contains(s.exposition(), `filmqa_chat_messages_posted_total{kind="lifecycle"} 3`)
}

func (s *AgentSuite) TestMessagesAnsweredOnceInOrder() {
	s.ready()
	s.agent.Poll(s.ctx)

	s.transport.addMessage("lobby", "m1", "first")
	s.transport.addMessage("lobby", "m2", "second")
	s.agent.Poll(s.ctx)
	s.agent.Poll(s.ctx)

	posted := s.transport.postedTo("lobby")
	s.Equal([]string{"answer: first", "answer: second"}, posted[3:])
	s.True(s.answerer.hadDeadline, "pipeline calls carry a timeout")
	s.True(s.transport.postHadDeadline, "transport calls carry a timeout")
}

func (s *AgentSuite) TestReactionsAreAcknowledged() {
	s.ready()
	s.transport.reactions["lobby"] = []chat.Reaction{{ID: "r1", Type: "STAR"}}

	s.agent.Poll(s.ctx)
	s.agent.Poll(s.ctx)

	posted := s.transport.postedTo("lobby")
	s.Equal([]string{"Received your reaction: 'STAR'"}, posted[3:])
	s.True(s.transport.isProcessed(chat.Item{Kind: chat.ItemReaction, ID: "r1"}))
}

func (s *AgentSuite) TestPanicIsRecovered() {
	s.ready()
	s.transport.addMessage("lobby", "m1", "boom")
	s.transport.addMessage("lobby", "m2", "after")

	s.NotPanics(func() { s.agent.Poll(s.ctx) })

	posted := s.transport.postedTo("lobby")
	s.Equal([]string{"answer: after"}, posted[3:])
	s.True(s.transport.isProcessed(chat.Item{Kind: chat.ItemMessage, ID: "m1"}))
	s.True(s.transport.isProcessed(chat.Item{Kind: chat.ItemMessage, ID: "m2"}))
	s.Contains(s.exposition(), "filmqa_agent_panics_recovered_total 1")
}

func (s *AgentSuite) TestFailedPostIsRetried() {
	s.ready()
	s.agent.Poll(s.ctx)

	s.transport.addMessage("lobby", "m1", "question")
	s.transport.postErr = errors.New("server down")
	s.agent.Poll(s.ctx)
	s.False(s.transport.isProcessed(chat.Item{Kind: chat.ItemMessage, ID: "m1"}))

	s.transport.postErr = nil
	s.agent.Poll(s.ctx)
	s.True(s.transport.isProcessed(chat.Item{Kind: chat.ItemMessage, ID: "m1"}))
	s.Equal([]string{"answer: question"}, s.transport.postedTo("lobby")[3:])
}

func (s *AgentSuite) TestFailedLifecyclePostLeavesFlagUnset() {
	s.transport.postErr = errors.New("server down")
	s.agent.Poll(s.ctx)
	s.Empty(s.transport.postedTo("lobby"))

	s.transport.postErr = nil
	s.readiness.MarkGraphLoaded()
	s.agent.Poll(s.ctx)
	s.Equal([]string{messages.GraphReady}, s.transport.postedTo("lobby"), "the lost loading message is not reposted")

	sessions := s.agent.deps.Coordinator.Sessions()
	s.Require().Len(sessions, 1)
	s.False(sessions[0].LoadingMessageSent)
	s.True(sessions[0].GraphReadyMessageSent)
	s.False(sessions[0].Greeted)
	s.Contains(s.exposition(), `filmqa_chat_transport_errors_total{operation="post_message"} 1`)
}

func (s *AgentSuite) TestVanishedRoomStartsOver() {
	s.ready()
	s.agent.Poll(s.ctx)

	s.transport.rooms = nil
	s.agent.Poll(s.ctx)
	s.Empty(s.agent.deps.Coordinator.Sessions())

	s.transport.rooms = []string{"lobby"}
	s.agent.Poll(s.ctx)
	s.Len(s.transport.postedTo("lobby"), 6, "a room that comes back is greeted again")
}

func (s *AgentSuite) TestListErrorIsCounted() {
	s.transport.listErr = errors.New("unreachable")
	s.agent.Poll(s.ctx)
	s.Empty(s.transport.postedTo("lobby"))
	s.Contains(s.exposition(), `filmqa_chat_transport_errors_total{operation="list_rooms"} 1`)
}

func (s *AgentSuite) TestPublishesEvents() {
	s.ready()
	s.transport.addMessage("lobby", "m1", "hello")
	s.agent.Poll(s.ctx)

	s.publisher.mu.Lock()
	defer s.publisher.mu.Unlock()
	s.Require().Len(s.publisher.events, 4)
	for _, e := range s.publisher.events[:3] {
		s.Equal(EventLifecycle, e.Type)
	}
	answer := s.publisher.events[3]
	s.Equal(EventAnswer, answer.Type)
	s.Equal("m1", answer.MessageID)
	s.Require().NotNil(answer.Trace)
	for _, e := range answer.Trace.Events {
		s.Equal("lobby", e.RoomID)
	}
}

// exposition renders the suite's registry in the Prometheus text format.
func (s *AgentSuite) exposition() string {
	rec := httptest.NewRecorder()
	s.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestAgentSuite(t *testing.T) {
	suite.Run(t, new(AgentSuite))
}

func TestRun_WithSpoolTransport(t *testing.T) {
	spool := chat.NewSpoolTransport(t.TempDir(), quiet)
	require.NoError(t, spool.Start())
	t.Cleanup(spool.Stop)

	readiness := session.NewReadiness()
	a := New(Deps{
		Transport:   spool,
		Coordinator: session.NewCoordinator(messages),
		Readiness:   readiness,
		Pipeline:    func() Answerer { return &echoAnswerer{} },
	}, config.AgentConfig{PollInterval: time.Hour, CallTimeout: time.Second}, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	outbox := func() []string {
		msgs, err := spool.Outbox("lobby")
		if err != nil {
			return nil
		}
		texts := make([]string, len(msgs))
		for i, m := range msgs {
			texts[i] = m.Text
		}
		return texts
	}

	// The spool watcher wakes the loop; the hour-long poll interval never fires.
	_, err := spool.Enqueue("lobby", "alice", "Who directed Inception?")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(outbox()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, messages.Loading, outbox()[0])

	readiness.MarkGraphLoaded()
	readiness.MarkEmbeddingsReady()
	require.Eventually(t, func() bool { return len(outbox()) == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "answer: Who directed Inception?", outbox()[3])
	assert.True(t, strings.HasPrefix(outbox()[2], "Hello!"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}
