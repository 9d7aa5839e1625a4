// File: internal/cli/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/internal/config"
	"github.com/momentics/wsreactor/internal/logging"
	"github.com/momentics/wsreactor/server"
)

// ReportInterval is how often the broadcaster logs its message rate.
const ReportInterval = 10 * time.Second

func serve(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	defer logging.Close(log)

	if cfg.File != "" {
		log.WithField("file", cfg.File).Info("using config file")
	}

	srv, err := server.New(cfg.ServerConfig(), server.WithLogger(log))
	if err != nil {
		return err
	}
	control.RegisterPlatformProbes(srv.Probes())
	NewBroadcaster(log, ReportInterval).Attach(srv)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		ms := startMetrics(cfg.MetricsAddr, srv, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ms.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("metrics server shutdown")
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server stopped with error")
		return err
	}
	return nil
}

// startMetrics serves /metrics and /debug/state for srv in the background.
func startMetrics(addr string, srv *server.Server, log logrus.FieldLogger) *http.Server {
	hs := &http.Server{
		Addr:              addr,
		Handler:           control.Handler(srv.Metrics(), srv.Probes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", addr).Info("metrics listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	return hs
}
