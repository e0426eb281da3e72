package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dumplingcafe/research/internal/auth"
	"github.com/dumplingcafe/research/internal/mcp"
)

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API with SSE and WebSocket streaming",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			// Serve closes the app on shutdown.
			return a.Serve(ctx)
		},
	}
}

func newMCPCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve research tools over MCP on stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing
start_research, get_research, list_research, delete_research and
list_models. Logs go to stderr so they do not corrupt the protocol stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			srv := mcp.NewServer(a.Orchestrator, a.Catalog, a.Config.Research.DefaultPreset, appVersion)
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}

func newTokenCmd(e *env) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			if a.Config.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			for _, s := range scopes {
				if s != auth.ScopeResearchRead && s != auth.ScopeResearchWrite {
					return fmt.Errorf("unknown scope %q", s)
				}
			}
			issuer := auth.NewJWTManager(a.Config.Auth.JWTSecret, a.Config.Auth.Issuer, ttl)
			token, err := issuer.IssueToken(subject, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", auth.AllScopes, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
