// Command rollcall-sandbox serves a local attendance API for development and demos.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"rollcall/internal/app"
	"rollcall/internal/auth"
	"rollcall/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "rollcall-sandbox",
		Short:        "Local attendance service for the rollcall lecturer client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ROLLCALL_CONFIG_FILE"), "JSON config file (overrides environment)")

	load := func() *config.Config {
		return config.LoadConfigWithPrecedence(configPath)
	}

	root.AddCommand(newServeCommand(load), newTokenCommand(load))
	return root
}

func newServeCommand(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sandbox until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(load())
		},
	}
}

func newTokenCommand(load func() *config.Config) *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mintToken(cmd.OutOrStdout(), load(), userID, role, ttl)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "lecturer or student id")
	cmd.Flags().StringVar(&role, "role", auth.RoleLecturer, "lecturer or student")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func mintToken(w io.Writer, cfg *config.Config, userID int64, role string, ttl time.Duration) error {
	issuer, err := auth.NewIssuer(cfg.Sandbox.JWTSecret, nil)
	if err != nil {
		return fmt.Errorf("failed to create issuer: %w", err)
	}
	token, err := issuer.Issue(userID, role, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// Signal handling ensures graceful shutdown in production environments
func run(cfg *config.Config) error {
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	sig := <-signalCh
	log.Printf("Received signal %v, shutting down gracefully", sig)

	// Timeout context prevents hanging shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
