// clawd-acp bridges an agent-protocol client on stdio to a clawd gateway over
// WebSocket. The client speaks newline-delimited JSON-RPC on stdin/stdout;
// everything else goes to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clawdhq/clawd-go/internal/acpserve"
	"github.com/clawdhq/clawd-go/internal/bridge"
	"github.com/clawdhq/clawd-go/internal/config"
	"github.com/clawdhq/clawd-go/internal/gateway"
	"github.com/clawdhq/clawd-go/internal/session"
	"github.com/clawdhq/clawd-go/pkg/logger"
)

var version = "dev"

func main() {
	var (
		gatewayURL   string
		gatewayToken string
		sessionStore string
		logLevel     string
		verbose      bool
	)

	root := &cobra.Command{
		Use:           "clawd-acp",
		Short:         "Agent protocol bridge to a clawd gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if gatewayURL != "" {
				cfg.GatewayURL = gatewayURL
			}
			if gatewayToken != "" {
				cfg.GatewayToken = gatewayToken
			}
			if cmd.Flags().Changed("session-store") {
				cfg.SessionStorePath = sessionStore
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if verbose {
				cfg.Verbose = true
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVar(&gatewayURL, "gateway-url", "", "gateway WebSocket URL")
	root.Flags().StringVar(&gatewayToken, "token", "", "gateway auth token")
	root.Flags().StringVar(&sessionStore, "session-store", "", "session persistence path (empty disables)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// stdout carries the protocol; logs must stay off it.
	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.EffectiveLogLevel())

	store := session.NewStore(cfg.SessionStorePath)

	srv := acpserve.New(os.Stdin, os.Stdout)
	b := bridge.New(store, srv)
	srv.BindAgent(b)

	sup := gateway.NewSupervisor(
		gateway.Config{
			Token:       cfg.GatewayToken,
			BaseDelay:   time.Second,
			MaxAttempts: 5,
		},
		func() gateway.Transport {
			return gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken)
		},
		b,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		// Serve returns on stdin EOF: the client went away, so shut down.
		return srv.Serve(ctx)
	})
	go func() {
		// Serve blocks in a stdin read that a signal alone cannot interrupt;
		// closing stdin unblocks it once shutdown is requested.
		<-ctx.Done()
		_ = os.Stdin.Close()
	}()

	logger.Infof("clawd-acp %s started (gateway=%s)", version, cfg.GatewayURL)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
