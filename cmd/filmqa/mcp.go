package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/filmqa/internal/mcpserver"
	"github.com/scrypster/filmqa/internal/session"
	"github.com/spf13/cobra"
)

func newMCPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agent as MCP tools over stdio",
		Long: `Serve ask_film_question and run_graph_query as Model Context Protocol
tools on stdin and stdout. Resources load in the background; until they are
ready both tools reply that the graph is still loading. Logs go to stderr.`,
		Example: `  # claude_desktop_config.json
  # {
  #   "mcpServers": {
  #     "filmqa": {"command": "filmqa", "args": ["mcp"]}
  #   }
  # }`,
		Args: cobra.NoArgs,
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

			fatal := make(chan error, 1)
			ld.Start(ctx, func(err error) {
				fatal <- err
				stop()
			})

			s := mcpserver.New("filmqa", version, func() (mcpserver.Backend, error) {
				p, err := ld.ReadyPipeline()
				if err != nil {
					return nil, err
				}
				return p, nil
			}, opts.logger)

			opts.logger.Println("mcp: serving on stdio")
			if err := mcpserver.ServeStdio(ctx, s, opts.logger); err != nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			select {
			case err := <-fatal:
				return fmt.Errorf("loading failed: %w", err)
			default:
				return nil
			}
		},
	}
}
