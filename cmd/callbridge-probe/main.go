// Package main is a diagnostic client that attaches to a running callbridge
// as a browser would and reports the events it receives for one call.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/callbridge/av/bridge"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// ProbeConfig holds the probe's command-line options.
type ProbeConfig struct {
	BaseURL      string
	CallID       string
	PrimaryPath  string
	FallbackPath string
	Duration     time.Duration
}

func parseFlags(args []string) (*ProbeConfig, error) {
	cfg := &ProbeConfig{}
	fs := pflag.NewFlagSet("callbridge-probe", pflag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "url", "ws://127.0.0.1:8080", "Base websocket URL of the callbridge server")
	fs.StringVar(&cfg.CallID, "call", "", "Call identifier to attach to (required)")
	fs.StringVar(&cfg.PrimaryPath, "primary-path", "/media-stream", "Primary media channel path")
	fs.StringVar(&cfg.FallbackPath, "fallback-path", "/api/media-stream", "Fallback media channel path")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Stop after this long (0 runs until interrupted)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.CallID == "" {
		return nil, errors.New("--call is required")
	}
	if cfg.Duration < 0 {
		return nil, errors.New("--duration must not be negative")
	}
	return cfg, nil
}

// summary counts received events by name.
type summary struct {
	events map[string]int
	states []string
}

func (s *summary) record(msg bridge.Message) {
	s.events[msg.Event]++
	if msg.Event == bridge.EventCallState {
		s.states = append(s.states, msg.State)
	}
}

func probe(ctx context.Context, cfg *ProbeConfig) (*summary, error) {
	conn, path, err := bridge.DialChannel(ctx, cfg.BaseURL, cfg.PrimaryPath, cfg.FallbackPath, cfg.CallID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "probe",
		"call_id":  cfg.CallID,
		"path":     path,
	}).Info("Attached to media channel")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sum := &summary{events: make(map[string]int)}
	for {
		var msg bridge.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return sum, nil
			}
			return sum, fmt.Errorf("read: %w", err)
		}
		sum.record(msg)
		logrus.WithFields(logrus.Fields{
			"function": "probe",
			"event":    msg.Event,
			"state":    msg.State,
		}).Debug("Received message")
	}
}

func run(args []string) int {
	cfg, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	sum, err := probe(ctx, cfg)
	if sum != nil {
		for event, n := range sum.events {
			fmt.Printf("%-18s %d\n", event, n)
		}
		if len(sum.states) > 0 {
			fmt.Printf("states: %v\n", sum.states)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Probe failed: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
