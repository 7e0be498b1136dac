package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/loader"
	"github.com/scrypster/filmqa/internal/metrics"
	"github.com/scrypster/filmqa/internal/nlp"
	"github.com/scrypster/filmqa/internal/session"
	"github.com/spf13/cobra"
)

// options are the global flags and the state derived from them.
type options struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "filmqa",
		Short: "Movie question answering agent",
		Long: `filmqa answers natural language questions about movies.

It resolves the entity a question is about in a knowledge graph, answers
director, screenwriter and release date questions from the graph and
recommends similar entities from pretrained embeddings. Questions that look
like structured queries are run verbatim.

Configuration comes from FILMQA_* environment variables (a .env file is
loaded when present), optionally layered over a YAML file given with --config.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every question and answer")

	cmd.AddCommand(
		newRunCmd(opts),
		newAskCmd(opts),
		newQueryCmd(opts),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads .env and the configuration. Logs go to the command's stderr so
// that stdout stays clean for answers and the MCP protocol.
func (o *options) load(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.LoadConfigFile(o.configPath)
	if err != nil {
		return err
	}
	if o.verbose {
		cfg.Agent.Verbose = true
	}
	o.cfg = cfg

	o.logger = log.New(cmd.ErrOrStderr(), "filmqa: ", log.LstdFlags)
	log.SetOutput(cmd.ErrOrStderr())
	log.SetPrefix("filmqa: ")
	log.SetFlags(log.LstdFlags)
	return nil
}

// newLoader builds the configured analyzer and a loader around it.
func (o *options) newLoader(readiness *session.Readiness, m *metrics.Metrics) (*loader.Loader, error) {
	analyzer, err := nlp.New(o.cfg.NLP, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nlp provider %q: %w", o.cfg.NLP.Provider, err)
	}
	if a, ok := analyzer.(*nlp.LLMAnalyzer); ok {
		if cb := a.Breaker(); cb != nil {
			m.WatchBreaker(cb.Name(), cb.State)
		}
	}
	return loader.New(o.cfg, analyzer, readiness, m, o.logger), nil
}
