package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/fichabot/internal/config"
	"github.com/soyeahso/fichabot/internal/conversation"
	"github.com/soyeahso/fichabot/internal/driver"
	"github.com/soyeahso/fichabot/internal/gateway"
	"github.com/soyeahso/fichabot/internal/interpreter"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/soyeahso/fichabot/internal/orchestrator"
	"github.com/soyeahso/fichabot/internal/pipeline"
	"github.com/soyeahso/fichabot/internal/recovery"
	"github.com/soyeahso/fichabot/internal/session"
	"github.com/soyeahso/fichabot/internal/store"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port       int
		bind       string
		mockDriver bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fichabot server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			log, err := logging.NewWithStyle(level, cfg.Logging.ConsoleStyle, cfg.Logging.File)
			if err != nil {
				return fmt.Errorf("setting up logging: %w", err)
			}

			db, err := store.Open(cfg.Store.Path, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			var opener driver.Opener
			if mockDriver {
				log.Warn().Msg("using mock driver: no browser automation will happen")
				opener = &driver.MockOpener{}
			} else {
				opener = driver.NewRemoteOpener(
					cfg.Driver.BaseURL,
					time.Duration(cfg.Driver.TimeoutSeconds)*time.Second,
					log,
				)
			}

			// The gateway consumes pool events but is built after the pool,
			// so route them through a late-bound reference.
			var srv *gateway.Server
			notify := func(ev session.Event) {
				if srv != nil {
					srv.PublishSessionEvent(ev)
				}
			}

			pool := session.NewPool(session.PoolConfig{
				MaxSessions:    cfg.Pool.MaxSessions,
				SessionTimeout: time.Duration(cfg.Pool.SessionTimeoutMinutes) * time.Minute,
				SweepInterval:  time.Duration(cfg.Pool.SweepIntervalSeconds) * time.Second,
			}, opener, notify, log)

			conv := conversation.NewManager(
				time.Duration(cfg.Conversation.DisambiguationTTLMinutes)*time.Minute,
				time.Duration(cfg.Conversation.SweepIntervalSeconds)*time.Second,
				log,
			)
			recov := recovery.NewHandler(cfg.Recovery.FailureThreshold, log)

			orch := orchestrator.New(
				pool,
				conv,
				recov,
				pipeline.New(log),
				interpreter.NewRules(log),
				store.NewCredentialStore(db),
				store.NewAuditStore(db),
				log,
			)

			srv = gateway.New(cfg, orch, pool, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go pool.RunSweeper(ctx)
			go conv.RunSweeper(ctx)

			err = srv.Start(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			pool.CloseAll(shutdownCtx)
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override the gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override the bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&mockDriver, "mock-driver", false, "run without a browser sidecar (every action succeeds)")

	return cmd
}
