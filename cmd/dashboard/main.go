// Command dashboard runs a headless dashboard session against a collector:
// it subscribes to the push channel, keeps the query domains fresh, and logs
// every refresh. Useful for watching a deployment without the web UI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/nkaplan19/apm-dashboard/internal/config"
	"github.com/nkaplan19/apm-dashboard/internal/logger"
	"github.com/nkaplan19/apm-dashboard/pkg/dashboard"
)

func main() {
	cfg := config.Load()
	log := logger.New("dashboard", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := dashboard.NewClient(cfg.APIBaseURL)
	if err != nil {
		log.Error("invalid api base url", "error", err)
		os.Exit(1)
	}

	session := dashboard.NewSession(api, cfg.WebSocketURL, log,
		dashboard.WithPollInterval(cfg.PollInterval),
		dashboard.WithReconnectDelay(cfg.ReconnectDelay),
		dashboard.WithRefreshHook(func(domain dashboard.Domain, count int) {
			log.Info("domain refreshed", "domain", string(domain), "records", count)
		}),
	)

	if err := session.Run(ctx); err != nil {
		log.Error("session ended", "error", err)
		os.Exit(1)
	}
	log.Info("session stopped")
}
