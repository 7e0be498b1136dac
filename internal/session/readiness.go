// Package session tracks loader readiness and the per-room lifecycle that
// decides when a chat room starts receiving real answers.
package session

import (
	"sync"
	"sync/atomic"
)

// State is a snapshot of the readiness flags.
type State struct {
	GraphLoaded     bool `json:"graph_loaded"`
	EmbeddingsReady bool `json:"embeddings_ready"`
}

// Ready reports whether both resources are loaded.
func (s State) Ready() bool {
	return s.GraphLoaded && s.EmbeddingsReady
}

// Readiness holds the two flags written by the background loader and read by
// the polling loop. Flags only ever go from false to true.
type Readiness struct {
	graphLoaded     atomic.Bool
	embeddingsReady atomic.Bool

	mu      sync.Mutex
	changed chan struct{}
}

// NewReadiness returns readiness with both flags false.
func NewReadiness() *Readiness {
	return &Readiness{changed: make(chan struct{})}
}

// MarkGraphLoaded sets the graph flag.
func (r *Readiness) MarkGraphLoaded() {
	if r.graphLoaded.CompareAndSwap(false, true) {
		r.broadcast()
	}
}

// MarkEmbeddingsReady sets the embeddings flag.
func (r *Readiness) MarkEmbeddingsReady() {
	if r.embeddingsReady.CompareAndSwap(false, true) {
		r.broadcast()
	}
}

// Snapshot returns the current flags.
func (r *Readiness) Snapshot() State {
	return State{
		GraphLoaded:     r.graphLoaded.Load(),
		EmbeddingsReady: r.embeddingsReady.Load(),
	}
}

// Changed returns a channel that is closed at the next flag change. Call it
// again after it fires to wait for the following change.
func (r *Readiness) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

func (r *Readiness) broadcast() {
	r.mu.Lock()
	defer r.mu.Unlock()
	close(r.changed)
	r.changed = make(chan struct{})
}
