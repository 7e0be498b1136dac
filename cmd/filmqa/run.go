package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/filmqa/internal/agent"
	"github.com/scrypster/filmqa/internal/chat"
	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/loader"
	"github.com/scrypster/filmqa/internal/metrics"
	"github.com/scrypster/filmqa/internal/server"
	"github.com/scrypster/filmqa/internal/session"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the chat agent",
		Long: `Run the chat agent.

The agent starts polling chat rooms immediately. The knowledge graph and the
embeddings load in the background; rooms are told when each is ready and
questions asked earlier are answered once loading completes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd); err != nil {
				return err
			}
			return runAgent(cmd.Context(), opts)
		},
	}
}

func runAgent(parent context.Context, opts *options) error {
	cfg, logger := opts.cfg, opts.logger

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	readiness := session.NewReadiness()
	coord := session.NewCoordinator(session.DefaultMessages(cfg.Transport.Alias))

	ld, err := opts.newLoader(readiness, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := ld.Close(); err != nil {
			logger.Printf("failed to close resources: %v", err)
		}
	}()

	transport, closeTransport, err := newTransport(cfg.Transport, logger)
	if err != nil {
		return err
	}
	defer closeTransport()
	if h, ok := transport.(*chat.HTTPTransport); ok {
		m.WatchBreaker("chat", h.BreakerState)
	}

	deps := agent.Deps{
		Transport:   transport,
		Coordinator: coord,
		Readiness:   readiness,
		Pipeline:    answerer(ld),
		Metrics:     m,
	}
	if cfg.Server.Enabled {
		_, hub, err := server.Start(ctx, cfg.Server, server.Deps{
			Status:   readiness,
			Sessions: coord,
			Metrics:  m,
			Version:  version,
		}, logger)
		if err != nil {
			return err
		}
		deps.Publisher = hub
	}

	fatal := make(chan error, 1)
	ld.Start(ctx, func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})

	a := agent.New(deps, cfg.Agent, logger)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-fatal:
		stop()
		<-done
		return fmt.Errorf("loading failed: %w", err)
	case err := <-done:
		return err
	}
}

// answerer adapts the loader's pipeline to the agent. A nil pipeline is
// returned as a nil interface.
func answerer(ld *loader.Loader) func() agent.Answerer {
	return func() agent.Answerer {
		p := ld.Pipeline()
		if p == nil {
			return nil
		}
		return p
	}
}

// newTransport builds the configured chat transport and a function that
// releases it.
func newTransport(cfg config.TransportConfig, logger *log.Logger) (chat.Transport, func(), error) {
	switch cfg.Kind {
	case "http":
		t := chat.NewHTTPTransport(chat.HTTPConfig{
			BaseURL:       cfg.BaseURL,
			Token:         cfg.Token,
			Alias:         cfg.Alias,
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
			Logger:        logger,
		})
		logger.Printf("chat: polling %s", cfg.BaseURL)
		return t, func() {}, nil
	default:
		s := chat.NewSpoolTransport(cfg.SpoolDir, logger)
		if err := s.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to start spool transport: %w", err)
		}
		logger.Printf("chat: watching spool %s", cfg.SpoolDir)
		return s, s.Stop, nil
	}
}
