// Package main runs the callbridge media server: the RTP transport for the
// telephony leg and the HTTP/websocket surface for browsers and signaling.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/callbridge/api"
	"github.com/opd-ai/callbridge/av"
	"github.com/opd-ai/callbridge/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// printUsage prints the usage information.
func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "callbridge - RTP to browser audio bridge")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintf(os.Stderr, "  %s [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Options:")
	fmt.Fprint(os.Stderr, flags.FlagUsages())
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Every option can also be set in callbridge.yaml or as an environment")
	fmt.Fprintf(os.Stderr, "variable, e.g. %s_RTP_PORT=10000.\n", config.EnvPrefix)
}

// managerConfig converts the loaded configuration to manager options.
func managerConfig(cfg *config.Config) av.ManagerConfig {
	return av.ManagerConfig{
		QueueDepth: cfg.QueueDepth,
		Ringback: av.RingbackConfig{
			FrequencyA:   cfg.Ringback.FrequencyA,
			FrequencyB:   cfg.Ringback.FrequencyB,
			ToneDuration: cfg.Ringback.ToneDuration,
			Gap:          cfg.Ringback.Gap,
			Pause:        cfg.Ringback.Pause,
		},
	}
}

func run(args []string) int {
	loader := config.NewLoader("callbridge")
	loader.Flags().Usage = func() { printUsage(loader.Flags()) }

	cfg, err := loader.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use --help for usage information.\n")
		return 2
	}

	logCloser, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging setup failed: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	loader.Watch(func(next *config.Config) {
		applyLogLevel(next.LogLevel)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := av.NewManager(managerConfig(cfg))
	if err := manager.Start(cfg.RTPPort); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"rtp_port": cfg.RTPPort,
			"error":    err.Error(),
		}).Error("Failed to start RTP transport")
		return 1
	}
	defer manager.Stop()

	router := api.NewRouter(ctx, manager, api.Config{
		Mode:         cfg.Mode,
		PrimaryPath:  cfg.PrimaryPath,
		FallbackPath: cfg.FallbackPath,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function":  "main",
			"http_addr": cfg.HTTPAddr,
			"rtp_addr":  manager.Server().LocalAddr().String(),
		}).Info("callbridge started")
		serveErr <- srv.ListenAndServe()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logrus.WithFields(logrus.Fields{
			"function": "main",
		}).Info("Received shutdown signal")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "main",
				"error":    err.Error(),
			}).Error("HTTP server failed")
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Warn("HTTP server forced to shut down")
	}

	logrus.WithFields(logrus.Fields{
		"function": "main",
	}).Info("callbridge stopped")
	return exitCode
}

func main() {
	os.Exit(run(os.Args[1:]))
}
