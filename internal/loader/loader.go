// Package loader loads the knowledge graph and the embedding tables in the
// background and publishes them to the rest of the agent once they are ready.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/embedding"
	"github.com/scrypster/filmqa/internal/engine"
	"github.com/scrypster/filmqa/internal/graph"
	"github.com/scrypster/filmqa/internal/metrics"
	"github.com/scrypster/filmqa/internal/nlp"
	"github.com/scrypster/filmqa/internal/session"
)

// ErrNotReady is returned by accessors before the matching resource loaded.
var ErrNotReady = errors.New("loader: resources not ready")

// Resources are the loaded collaborators of the answering pipeline.
type Resources struct {
	Store     *graph.Store
	Labels    *graph.LabelIndex
	Entities  *embedding.Table
	Relations *embedding.Table
	Index     embedding.Index
}

// Loader owns the loaded resources. Run writes them once; readers go through
// Pipeline, which is safe for concurrent use.
type Loader struct {
	cfg       *config.Config
	analyzer  nlp.Analyzer
	readiness *session.Readiness
	metrics   *metrics.Metrics
	logger    *log.Logger

	resources atomic.Pointer[Resources]
	pipeline  atomic.Pointer[engine.Pipeline]

	mu      sync.Mutex
	closers []io.Closer
}

// New creates a loader. analyzer is shared by every pipeline it builds.
func New(cfg *config.Config, analyzer nlp.Analyzer, readiness *session.Readiness, m *metrics.Metrics, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{
		cfg:       cfg,
		analyzer:  analyzer,
		readiness: readiness,
		metrics:   m,
		logger:    logger,
	}
}

// Vocabulary returns the predicates configured in g.
func Vocabulary(g config.GraphConfig) graph.Vocabulary {
	return graph.Vocabulary{
		Label:         g.LabelPredicate,
		LabelLanguage: g.LabelLanguage,
		Director:      g.DirectorPredicate,
		Screenwriter:  g.ScreenwriterPredicate,
		ReleaseDate:   g.ReleaseDatePredicate,
		Description:   g.DescriptionPredicate,
	}
}

// Run loads the graph and then the embeddings. Each step marks its readiness
// flag when it succeeds. A failed step leaves its flag false and is returned.
func (l *Loader) Run(ctx context.Context) error {
	if err := l.LoadGraph(ctx); err != nil {
		return err
	}
	return l.LoadEmbeddings(ctx)
}

// Start runs the loader in a goroutine. When it fails and fail_fast is set,
// onFatal is called with the error; otherwise the error is only logged.
func (l *Loader) Start(ctx context.Context, onFatal func(error)) {
	go func() {
		err := l.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		l.logger.Printf("loader: %v", err)
		if l.cfg.Agent.FailFast && onFatal != nil {
			onFatal(err)
		}
	}()
}

// LoadGraph opens the triple store, parses the graph file into it and builds
// the label index. A pipeline without similarity answers is published.
func (l *Loader) LoadGraph(ctx context.Context) error {
	start := time.Now()

	store, err := graph.Open(l.cfg.Data.DatabasePath)
	if err != nil {
		return fmt.Errorf("loader: open graph store: %w", err)
	}
	l.addCloser(store)

	n, err := store.LoadTurtle(ctx, l.cfg.Data.GraphFile)
	if err != nil {
		return fmt.Errorf("loader: load graph: %w", err)
	}

	vocab := Vocabulary(l.cfg.Graph)
	labels, err := graph.BuildLabelIndex(ctx, store, vocab.Label, vocab.LabelLanguage)
	if err != nil {
		return fmt.Errorf("loader: build label index: %w", err)
	}

	l.publish(&Resources{Store: store, Labels: labels})
	elapsed := time.Since(start)
	l.metrics.ResourceLoaded(metrics.ResourceGraph, elapsed)
	l.logger.Printf("loader: graph ready, %d triples, %d labels in %s", n, labels.Len(), elapsed.Round(time.Millisecond))
	l.readiness.MarkGraphLoaded()
	return nil
}

// LoadEmbeddings loads the entity and relation tables and builds the
// similarity index. LoadGraph must have succeeded first.
func (l *Loader) LoadEmbeddings(ctx context.Context) error {
	base := l.resources.Load()
	if base == nil {
		return fmt.Errorf("loader: embeddings need the graph: %w", ErrNotReady)
	}
	start := time.Now()

	entities, err := embedding.LoadTable(l.cfg.Data.EntityEmbeddings, l.cfg.Data.EntityIDs)
	if err != nil {
		return fmt.Errorf("loader: load entity embeddings: %w", err)
	}

	var relations *embedding.Table
	if l.cfg.Agent.LinkPrediction {
		relations, err = embedding.LoadTable(l.cfg.Data.RelationEmbeddings, l.cfg.Data.RelationIDs)
		if err != nil {
			return fmt.Errorf("loader: load relation embeddings: %w", err)
		}
	}

	index, err := l.buildIndex(ctx, entities)
	if err != nil {
		return err
	}

	res := *base
	res.Entities = entities
	res.Relations = relations
	res.Index = index
	l.publish(&res)

	elapsed := time.Since(start)
	l.metrics.ResourceLoaded(metrics.ResourceEmbeddings, elapsed)
	l.logger.Printf("loader: embeddings ready, %d entities of dimension %d (%s index) in %s",
		entities.Len(), entities.Dim(), l.cfg.Ranker.Backend, elapsed.Round(time.Millisecond))
	l.readiness.MarkEmbeddingsReady()
	return nil
}

func (l *Loader) buildIndex(ctx context.Context, t *embedding.Table) (embedding.Index, error) {
	switch l.cfg.Ranker.Backend {
	case "postgres":
		idx, err := embedding.NewPostgresIndex(ctx, l.cfg.Ranker.PostgresDSN, t)
		if err != nil {
			return nil, fmt.Errorf("loader: postgres index: %w", err)
		}
		l.addCloser(idx)
		return idx, nil
	default:
		return embedding.NewMemoryIndex(t), nil
	}
}

// publish stores res and the pipeline built from it.
func (l *Loader) publish(res *Resources) {
	p := engine.NewPipeline(engine.Components{
		Store:          res.Store,
		Labels:         res.Labels,
		Vocabulary:     Vocabulary(l.cfg.Graph),
		Analyzer:       l.analyzer,
		Entities:       res.Entities,
		Relations:      res.Relations,
		Index:          res.Index,
		Resolver:       l.cfg.Resolver,
		Intent:         l.cfg.Intent,
		TopK:           l.cfg.Ranker.TopK,
		LinkPrediction: l.cfg.Agent.LinkPrediction,
	})
	l.resources.Store(res)
	l.pipeline.Store(p)
}

// Resources returns the loaded resources, or nil before the graph loaded.
func (l *Loader) Resources() *Resources {
	return l.resources.Load()
}

// Pipeline returns the current pipeline, or nil before the graph loaded.
// Similarity answers are available once embeddings are ready.
func (l *Loader) Pipeline() *engine.Pipeline {
	return l.pipeline.Load()
}

// ReadyPipeline returns the pipeline once both resources are loaded.
func (l *Loader) ReadyPipeline() (*engine.Pipeline, error) {
	if !l.readiness.Snapshot().Ready() {
		return nil, ErrNotReady
	}
	p := l.pipeline.Load()
	if p == nil {
		return nil, ErrNotReady
	}
	return p, nil
}

func (l *Loader) addCloser(c io.Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, c)
}

// Close releases the store and the index, last opened first.
func (l *Loader) Close() error {
	l.mu.Lock()
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
