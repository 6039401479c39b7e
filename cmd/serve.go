package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/wine-identify/internal/monitoring"
	"github.com/sells-group/wine-identify/internal/server"
	"github.com/sells-group/wine-identify/internal/store"
)

var servePort int

const (
	sessionSweepInterval = time.Minute
	cachePurgeInterval   = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the identification HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Breakers, env.Budget, env.Sessions)
		srv, err := server.New(server.Deps{
			Identifier: env.Service,
			Actions:    env.Actions,
			Sessions:   env.Sessions,
			Status:     collector,
			Server:     cfg.Server,
			Streaming:  cfg.Streaming,
		})
		if err != nil {
			return err
		}
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring, nil)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(gctx, port) })
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			env.Sessions.Run(gctx, sessionSweepInterval)
			return nil
		})
		g.Go(func() error {
			purgeExpired(gctx, env.Store, cachePurgeInterval)
			return nil
		})
		return g.Wait()
	},
}

// purgeExpired deletes expired cache rows every interval until ctx is done.
func purgeExpired(ctx context.Context, st store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.DeleteExpiredEntries(ctx, time.Now().UTC())
			if err != nil {
				zap.L().Warn("purge expired cache entries", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Info("purged expired cache entries", zap.Int("removed", n))
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
