package types

// Stage is the lifecycle stage of a chat room session.
// Stages only ever advance: New -> AwaitingGraph -> AwaitingEmbeddings -> Ready.
type Stage int

// Room lifecycle stages in order.
const (
	StageNew Stage = iota
	StageAwaitingGraph
	StageAwaitingEmbeddings
	StageReady
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageNew:
		return "new"
	case StageAwaitingGraph:
		return "awaiting_graph"
	case StageAwaitingEmbeddings:
		return "awaiting_embeddings"
	case StageReady:
		return "ready"
	default:
		return "unknown"
	}
}

// IsValidStageTransition validates room stage transitions.
//
// Valid transitions:
//
//	new -> awaiting_graph
//	awaiting_graph -> awaiting_embeddings
//	awaiting_embeddings -> ready
//	ready -> (terminal)
func IsValidStageTransition(current, next Stage) bool {
	switch current {
	case StageNew:
		return next == StageAwaitingGraph
	case StageAwaitingGraph:
		return next == StageAwaitingEmbeddings
	case StageAwaitingEmbeddings:
		return next == StageReady
	default:
		return false
	}
}
