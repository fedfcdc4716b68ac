package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/gitpilot/internal/config"
	"github.com/fentz26/gitpilot/internal/control"
	"github.com/fentz26/gitpilot/internal/dispatch"
	"github.com/fentz26/gitpilot/internal/github"
	"github.com/fentz26/gitpilot/internal/llm"
	"github.com/fentz26/gitpilot/internal/plan"
	"github.com/fentz26/gitpilot/internal/store"
	"github.com/fentz26/gitpilot/internal/sweep"
)

var (
	configPath string
	listenAddr string
	dbPath     string
	debugLog   bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the gitpilot daemon",
	Long:  `Starts the gitpilot daemon which provides the HTTP API for task orchestration and the worker callback surface.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debugLog {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	gateway := func(token string) control.Gateway {
		return github.NewClientWithBase(token, cfg.GitHubAPIBase)
	}

	launcher := &dispatch.Launcher{
		AgentBin:        cfg.AgentBin,
		CallbackBaseURL: cfg.CallbackBaseURL,
		BranchPrefix:    cfg.BranchPrefix,
		RewriteModel:    cfg.RewriteModel,
	}

	plans := plan.NewGenerator(llm.NewOpenAIClient(cfg.PlanModel), cfg.PlanContextLimit)

	controller := control.NewController(s, gateway, launcher, plans)
	server := control.NewServer(controller, s, cfg.ListenAddr, cfg.DefaultPrincipal)

	sweeper := sweep.New(s, controller, cfg.SweepInterval, cfg.WorkerDeadline, log.Logger)
	sweeper.Start()
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Info().Msg("shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	log.Info().Msg("closing database")
	if cerr := s.Close(); cerr != nil {
		log.Error().Err(cerr).Msg("database close error")
	}

	log.Info().Msg("shutdown complete")
	return err
}
