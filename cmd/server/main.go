package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stratumd/backend/internal/config"
	"github.com/stratumd/backend/internal/events"
	"github.com/stratumd/backend/internal/mock"
	"github.com/stratumd/backend/internal/pubsub"
	"github.com/stratumd/backend/internal/session"
	"github.com/stratumd/backend/internal/stats"
	"github.com/stratumd/backend/internal/ws"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		mockMode   bool
		port       int
		debug      bool
	)

	root := &cobra.Command{
		Use:          "stratumd",
		Short:        "Stratum notification server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if debug {
				cfg.Pubsub.Debug = true
			}
			return serve(cmd.Context(), cfg, mockMode)
		},
	}

	root.Flags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
	root.Flags().BoolVar(&mockMode, "mock", false, "Publish synthetic jobs and difficulty changes")
	root.Flags().IntVar(&port, "port", 0, "Override server port")
	root.Flags().BoolVar(&debug, "debug", false, "Log every subscriber reached by a fan-out")

	root.AddCommand(tokenCmd())
	return root
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a random value for server.auth_token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := config.GenerateToken()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}

func serve(parent context.Context, cfg *config.Config, mockMode bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := session.NewStore()
	registry := pubsub.NewRegistry(store, pubsub.WithDebug(cfg.Pubsub.Debug))
	jobs := &events.Jobs{RequireAuthorized: cfg.Pubsub.RequireAuthorized}
	tracker := events.NewDifficultyTracker(registry, cfg.Mock.InitialDifficulty)

	sampler, err := stats.NewSampler(registry, store, cfg.Stats.Interval)
	if err != nil {
		return err
	}
	go sampler.Start(ctx)

	if mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(registry, jobs, tracker, cfg.Mock)
		gen.Start(ctx)
	}

	server := ws.NewServer(cfg.Server, store, registry, jobs, tracker)
	if err := ws.ListenAndServe(ctx, cfg.Addr(), server.Router()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down...")
	return nil
}
