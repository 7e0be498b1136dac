package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/scrypster/filmqa/pkg/types"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindQuestionReceived is emitted when the pipeline starts on an utterance.
	KindQuestionReceived TraceEventKind = "question_received"

	// KindEntityResolved is emitted after the resolution cascade finishes.
	KindEntityResolved TraceEventKind = "entity_resolved"

	// KindIntentClassified is emitted once the intent is known.
	KindIntentClassified TraceEventKind = "intent_classified"

	// KindFactsQueried is emitted after the attribute (and description) queries.
	KindFactsQueried TraceEventKind = "facts_queried"

	// KindSimilarRanked is emitted after the similarity ranking.
	KindSimilarRanked TraceEventKind = "similar_ranked"

	// KindAnswerComposed is emitted with the final answer text.
	KindAnswerComposed TraceEventKind = "answer_composed"

	// KindRawQuery is emitted for structured query passthrough.
	KindRawQuery TraceEventKind = "raw_query"
)

// TraceEvent is a single structured event emitted while answering.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`
	At   time.Time      `json:"at"`

	// TraceID groups the events of one question.
	TraceID string `json:"trace_id"`

	// RoomID is set by the agent for questions that came from a chat room.
	RoomID string `json:"room_id,omitempty"`

	Text       string           `json:"text,omitempty"`
	Label      string           `json:"label,omitempty"`
	EntityID   types.EntityID   `json:"entity_id,omitempty"`
	Confidence types.Confidence `json:"confidence,omitempty"`
	Source     string           `json:"source,omitempty"`
	Intent     string           `json:"intent,omitempty"`
	Score      int              `json:"score,omitempty"`
	Count      int              `json:"count,omitempty"`
	Values     []string         `json:"values,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Trace collects the events of one question.
type Trace struct {
	ID     string       `json:"id"`
	Events []TraceEvent `json:"events"`
}

// NewTrace starts a trace with a fresh identifier.
func NewTrace() *Trace {
	return &Trace{ID: uuid.NewString()}
}

func (t *Trace) add(e TraceEvent) {
	if t == nil {
		return
	}
	e.TraceID = t.ID
	t.Events = append(t.Events, e)
}

// SetRoom stamps every event with the chat room the question came from.
func (t *Trace) SetRoom(roomID string) {
	if t == nil {
		return
	}
	for i := range t.Events {
		t.Events[i].RoomID = roomID
	}
}

// Last returns the most recent event of kind.
func (t *Trace) Last(kind TraceEventKind) (TraceEvent, bool) {
	if t == nil {
		return TraceEvent{}, false
	}
	for i := len(t.Events) - 1; i >= 0; i-- {
		if t.Events[i].Kind == kind {
			return t.Events[i], true
		}
	}
	return TraceEvent{}, false
}

func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventQuestionReceived creates a question_received trace event.
func EventQuestionReceived(text string) TraceEvent {
	e := newTraceEvent(KindQuestionReceived)
	e.Text = text
	return e
}

// EventEntityResolved creates an entity_resolved trace event.
func EventEntityResolved(r types.ResolvedEntity) TraceEvent {
	e := newTraceEvent(KindEntityResolved)
	e.Label = r.Label
	e.EntityID = r.ID
	e.Confidence = r.Confidence
	e.Source = string(r.Source)
	e.Score = r.Score
	return e
}

// EventIntentClassified creates an intent_classified trace event.
func EventIntentClassified(intent types.Intent) TraceEvent {
	e := newTraceEvent(KindIntentClassified)
	e.Intent = intent.String()
	return e
}

// EventFactsQueried creates a facts_queried trace event. source is
// "attribute" or "description".
func EventFactsQueried(source string, values []string) TraceEvent {
	e := newTraceEvent(KindFactsQueried)
	e.Source = source
	e.Values = values
	e.Count = len(values)
	return e
}

// EventSimilarRanked creates a similar_ranked trace event.
func EventSimilarRanked(similar []types.SimilarEntity) TraceEvent {
	e := newTraceEvent(KindSimilarRanked)
	e.Count = len(similar)
	for _, s := range similar {
		e.Values = append(e.Values, s.Label)
	}
	return e
}

// EventAnswerComposed creates an answer_composed trace event.
func EventAnswerComposed(text string) TraceEvent {
	e := newTraceEvent(KindAnswerComposed)
	e.Text = text
	return e
}

// EventRawQuery creates a raw_query trace event.
func EventRawQuery(query string, rows int, err error) TraceEvent {
	e := newTraceEvent(KindRawQuery)
	e.Text = query
	e.Count = rows
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
