package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-chat/internal/constants"
	"github.com/pzverkov/quantum-chat/pkg/handshake"
	"github.com/pzverkov/quantum-chat/pkg/keystore"
	"github.com/pzverkov/quantum-chat/pkg/metrics"
	"github.com/pzverkov/quantum-chat/pkg/qkd"
	"github.com/pzverkov/quantum-chat/pkg/transport"
	"github.com/pzverkov/quantum-chat/pkg/version"
)

type serveOptions struct {
	addr          string
	httpAddr      string
	symbols       int
	sampleFrac    float64
	threshold     float64
	interceptRate float64
	eavesdropProb float64
	cipher        string
	logLevel      string
	logFormat     string
	tracing       string
}

func serveCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat hub and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", constants.DefaultChatAddr, "chat protocol listen address")
	flags.StringVar(&opts.httpAddr, "http-addr", constants.DefaultHTTPAddr, "HTTP API listen address")
	flags.IntVar(&opts.symbols, "symbols", constants.DefaultSymbols, "raw symbols per agreement round")
	flags.Float64Var(&opts.sampleFrac, "sample-fraction", constants.DefaultSampleFraction, "fraction of sifted bits disclosed for error estimation")
	flags.Float64Var(&opts.threshold, "threshold", constants.QBERThreshold, "error rate above which a round is declared intercepted")
	flags.Float64Var(&opts.interceptRate, "intercept-rate", constants.DefaultInterceptRate, "per-symbol interception probability when the eavesdropper is active")
	flags.Float64Var(&opts.eavesdropProb, "eavesdrop-probability", constants.DefaultEavesdropProbability, "chance the simulated eavesdropper attacks an accepted handshake")
	flags.StringVar(&opts.cipher, "cipher", "aes", "message cipher suite: aes or chacha20")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error, silent")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.tracing, "tracing", "none", "tracing mode: none, recording, otel (requires -tags otel)")

	return cmd
}

func runServe(opts serveOptions) error {
	logger := buildLogger(opts.logLevel, opts.logFormat)
	logger.Info("starting", metrics.Fields{"version": version.String()})

	suite, err := parseCipherSuite(opts.cipher)
	if err != nil {
		return err
	}

	if err := setupTracing(opts.tracing); err != nil {
		return err
	}

	collector := metrics.NewCollector(metrics.Labels{"service": "quantum-chat"})
	metrics.SetGlobal(collector)

	engine, err := qkd.NewEngine(qkd.Config{
		Symbols:        opts.symbols,
		SampleFraction: opts.sampleFrac,
		Threshold:      opts.threshold,
		InterceptRate:  opts.interceptRate,
	})
	if err != nil {
		return fmt.Errorf("engine configuration: %w", err)
	}

	store := keystore.NewStore()

	// The hub needs the coordinator and the coordinator needs the hub as
	// its notifier; the indirection breaks the construction cycle. No
	// event fires before the server starts accepting connections.
	var hub *transport.Hub
	notifier := handshake.NotifierFunc(func(userID string, ev handshake.Event) {
		hub.Notify(userID, ev)
	})

	coordinator := handshake.NewCoordinator(handshake.Config{
		Engine:      engine,
		Store:       store,
		Notifier:    notifier,
		Observer:    metrics.NewHandshakeObserver(metrics.HandshakeObserverConfig{Collector: collector, Logger: logger}),
		Logger:      logger,
		CipherSuite: suite,
		Eavesdrop:   eavesdropDecider(opts.eavesdropProb),
	})

	hub = transport.NewHub(transport.HubConfig{Coordinator: coordinator, Logger: logger})

	server := transport.NewServer(transport.ServerConfig{Hub: hub, Logger: logger})
	if err := server.Listen(opts.addr); err != nil {
		return fmt.Errorf("listen %s: %w", opts.addr, err)
	}

	api := transport.NewAPI(transport.APIConfig{
		Hub:         hub,
		Coordinator: coordinator,
		Collector:   collector,
		Logger:      logger,
	})
	api.AddHealthCheck("chat_listener", func() error {
		if server.Addr() == nil {
			return fmt.Errorf("chat listener not bound")
		}
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- server.Serve(ctx) }()
	go func() { errCh <- api.ListenAndServe(opts.httpAddr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		server.Close()
		return nil
	case err := <-errCh:
		server.Close()
		return err
	}
}

func buildLogger(level, format string) *metrics.Logger {
	f := metrics.FormatText
	if format == "json" {
		f = metrics.FormatJSON
	}
	return metrics.NewLogger(
		metrics.WithLevel(metrics.ParseLevel(level)),
		metrics.WithFormat(f),
		metrics.WithName("quantum-chat"),
	)
}

func parseCipherSuite(name string) (constants.CipherSuite, error) {
	switch name {
	case "aes", "aes-256-gcm":
		return constants.CipherSuiteAES256GCM, nil
	case "chacha20", "chacha20-poly1305":
		return constants.CipherSuiteChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("unknown cipher suite %q (want aes or chacha20)", name)
	}
}

func setupTracing(mode string) error {
	switch mode {
	case "none", "":
		return nil
	case "recording":
		metrics.SetTracer(metrics.NewRecordingTracer())
		return nil
	case "otel":
		if !metrics.OTelEnabled() {
			return fmt.Errorf("otel tracing requires building with -tags otel")
		}
		metrics.SetTracer(metrics.NewOTelTracer("quantum-chat"))
		return nil
	default:
		return fmt.Errorf("unknown tracing mode %q", mode)
	}
}

// eavesdropDecider returns a concurrency-safe sampler that activates the
// eavesdropper with the given probability per accepted handshake.
func eavesdropDecider(probability float64) func() bool {
	if probability <= 0 {
		return func() bool { return false }
	}
	if probability >= 1 {
		return func() bool { return true }
	}

	src := qkd.NewSource()
	var mu sync.Mutex
	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		return src.Float64() < probability
	}
}
