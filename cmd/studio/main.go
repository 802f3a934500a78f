// Command studio runs the data-preparation service: a chunk store, the
// pipeline worker, and the HTTP front end, wired from a JSON config file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"datastudio/internal/config"
	"datastudio/internal/metrics"
	"datastudio/internal/metrics/datadog"
	"datastudio/internal/metrics/prompush"
	"datastudio/internal/pipeline"
	"datastudio/internal/server"
	"datastudio/internal/store"
	_ "datastudio/internal/store/all"
	"datastudio/internal/worker"
)

func main() {
	var (
		cfgPath           string
		addrFlg           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/studio.json", "service config JSON path")
	flag.StringVar(&addrFlg, "addr", "", "listen address (overrides config)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	if addrFlg != "" {
		cfg.Server.Addr = addrFlg
	}
	if metricsBackendFlg != "" {
		cfg.Metrics.Backend = metricsBackendFlg
	}
	if pushGatewayURLFlg != "" {
		cfg.Metrics.PushgatewayURL = pushGatewayURLFlg
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	initMetrics(cfg, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	st, err := store.Open(context.Background(), store.Config{
		Kind: cfg.Store.Kind,
		Path: cfg.Store.Path,
		DSN:  cfg.Store.DSN,
	})
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer st.Close()

	if *verbose {
		log.Printf("studio: store=%s addr=%s backends=%v", cfg.Store.Kind, cfg.Server.Addr, store.Kinds())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	requests := make(chan worker.Request)
	responses := make(chan worker.Response)
	w := worker.New(pipeline.New(st))
	client := worker.NewClient(requests, responses)
	srv := server.NewServer(server.Config{Addr: cfg.Server.Addr}, st, client)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.Run(ctx, requests, responses)
		return nil
	})
	g.Go(func() error {
		client.Route(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("%v", err)
	}
	log.Printf("studio: shut down after %s", time.Since(start).Truncate(time.Millisecond))
}

func loadConfig(path string) (config.Config, error) {
	var cfg config.Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// initMetrics installs a metrics backend: config → env → nop.
func initMetrics(cfg config.Config, verbose bool) {
	backendName := cfg.Metrics.Backend
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := cfg.Metrics.PushgatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		jobName := cfg.Metrics.Job
		if jobName == "" {
			jobName = "datastudio"
		}
		b, err := prompush.NewBackend(jobName, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, jobName)
		metrics.SetBackend(b)

	case "datadog":
		addr := cfg.Metrics.StatsdAddr
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: addr})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: addr=%v, backend=%v", addr, backendName)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
