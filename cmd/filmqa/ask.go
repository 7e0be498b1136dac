package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/scrypster/filmqa/internal/engine"
	"github.com/scrypster/filmqa/internal/session"
	"github.com/spf13/cobra"
)

func newAskCmd(opts *options) *cobra.Command {
	var showTrace bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question",
		Long: `Load the graph and the embeddings, answer one question and exit.

Questions that start with SELECT or PREFIX are run as structured queries.`,
		Example: `  filmqa ask "Who directed Inception?"
  filmqa ask "Recommend movies similar to The Matrix" --trace`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ld, err := opts.newLoader(session.NewReadiness(), nil)
			if err != nil {
				return err
			}
			defer ld.Close()

			if err := ld.Run(ctx); err != nil {
				return err
			}
			p, err := ld.ReadyPipeline()
			if err != nil {
				return err
			}

			answer, trace := p.Handle(ctx, strings.Join(args, " "))
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			if showTrace {
				return writeTrace(cmd, trace)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTrace, "trace", false, "print the answer trace as JSON")
	return cmd
}

func newQueryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "query <query>",
		Short: "Run a structured query against the graph",
		Long: `Load the graph and run a read-only SELECT over
triples(subject, predicate, object, kind, lang, datatype). PREFIX declarations
are expanded. The embeddings are not loaded.`,
		Example: `  filmqa query "SELECT object FROM triples WHERE predicate = 'http://www.w3.org/2000/01/rdf-schema#label'"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ld, err := opts.newLoader(session.NewReadiness(), nil)
			if err != nil {
				return err
			}
			defer ld.Close()

			if err := ld.LoadGraph(ctx); err != nil {
				return err
			}
			p := ld.Pipeline()
			if p == nil {
				return errors.New("graph not loaded")
			}

			out, trace := p.Query(ctx, strings.Join(args, " "))
			if e, ok := trace.Last(engine.KindRawQuery); ok && e.Error != "" {
				return fmt.Errorf("query failed: %s", e.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func writeTrace(cmd *cobra.Command, trace *engine.Trace) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(trace)
}
