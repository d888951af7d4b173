// Command sphynx-server runs a standalone Sphynx UDP listener.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sphynx/internal/config"
	"sphynx/internal/logging"
	"sphynx/pkg/sphynxnet"
)

const version = "0.1.0"

func main() {
	logging.Banner("Sphynx Server", version)

	cfg, err := config.FromEnv()
	if err != nil {
		logging.Fatal("config: %v", err)
	}

	logging.Section("Starting")
	server, err := sphynxnet.Listen(cfg)
	if err != nil {
		logging.Fatal("listen: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(server.Metrics())
	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			logging.Warn("metrics: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Section("Shutting down")
	server.Close()
	logging.Success("sphynx-server exited cleanly")
}
