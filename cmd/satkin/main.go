// Command satkin прогоняет сценарий кинематики орбитальных объектов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/art-injener/satkin/internal/catalog"
	"github.com/art-injener/satkin/internal/config"
	"github.com/art-injener/satkin/internal/observability"
	"github.com/art-injener/satkin/internal/orbit"
	"github.com/art-injener/satkin/internal/sim"
)

func main() {
	configPath := flag.String("config", "configs/satkin.yaml", "path to scenario config")
	track := flag.String("track", "", "print the ground track of the named object as JSON and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *track, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "satkin: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, track string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Pretty:      cfg.Tracing.Pretty,
		Writer:      os.Stderr,
	}, logger)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, logger)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewCollector(reg)
	if err != nil {
		return err
	}

	start, err := cfg.StartTime()
	if err != nil {
		return err
	}
	clock := sim.NewScenarioClock(start, cfg.Sim.TimeCompression)

	cat, err := loadCatalog(ctx, cfg, start, logger)
	if err != nil {
		return err
	}
	collector.SetCatalogEntries(cat.Count())

	scheduler := sim.NewScheduler(clock,
		sim.WithLogger(logger),
		sim.WithCollector(collector),
		sim.WithWorkers(cfg.Sim.Workers),
		sim.WithPace(cfg.Sim.Pace),
	)

	objects := make(map[string]*scenarioObject, len(cfg.Objects))
	for _, oc := range cfg.Objects {
		obj, err := buildObject(ctx, oc, clock, cat, logger)
		if err != nil {
			return err
		}
		objects[oc.Name] = obj
		scheduler.Add(obj.name, obj.sat)
	}

	if track != "" {
		return printGroundTrack(objects, track, clock.Now(), out)
	}

	if cfg.Catalog.Refresh > 0 {
		err := cat.Start(ctx, catalog.RefreshConfig{
			Interval: cfg.Catalog.Refresh,
			Groups:   cfg.Catalog.Groups,
			OnRefresh: func(ctx context.Context) {
				reloadCatalogObjects(ctx, objects, cat, logger)
				collector.SetCatalogEntries(cat.Count())
			},
		})
		if err != nil {
			return err
		}
		defer cat.Stop()
	}

	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Addr, collector, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("metrics server shutdown failed", "error", err)
			}
		}()
	}

	logger.InfoContext(ctx, "scenario started",
		"start", start,
		"objects", scheduler.Len(),
		"tick", cfg.Sim.Tick,
		"steps", cfg.Sim.Steps,
		"time_compression", cfg.Sim.TimeCompression,
	)

	steps, err := scheduler.Run(ctx, cfg.Sim.Steps, cfg.Sim.Tick)

	for _, oc := range cfg.Objects {
		s := objects[oc.Name].platform.Snapshot()
		logger.InfoContext(ctx, "final position",
			"object", oc.Name,
			"lat", s.Latitude,
			"lon", s.Longitude,
			"alt_m", s.AltitudeMeters,
			"speed_kn", s.SpeedKnots,
		)
	}
	logger.InfoContext(ctx, "scenario finished", "steps", steps, "sim_time", clock.Now())

	return err
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// loadCatalog собирает каталог из файлов и групп Celestrak. Ошибки групп
// не фатальны: объекты с NORAD ID догружаются поштучно.
func loadCatalog(ctx context.Context, cfg *config.Config, now time.Time, logger *slog.Logger) (*catalog.Catalog, error) {
	clientOpts := []catalog.ClientOption{catalog.WithRateLimit(cfg.Catalog.RateLimit)}
	if cfg.Catalog.BaseURL != "" {
		clientOpts = append(clientOpts, catalog.WithBaseURL(cfg.Catalog.BaseURL))
	}

	cat := catalog.New(
		catalog.WithLogger(logger),
		catalog.WithFetcher(catalog.NewClient(clientOpts...)),
	)

	for _, path := range cfg.Catalog.Files {
		if _, err := cat.LoadFile(path, "file"); err != nil {
			return nil, err
		}
	}

	if len(cfg.Catalog.Groups) > 0 {
		if err := cat.LoadGroups(ctx, cfg.Catalog.Groups); err != nil {
			logger.WarnContext(ctx, "catalog groups loaded with errors", "error", err)
		}
	}

	logger.InfoContext(ctx, "catalog loaded",
		"entries", cat.Count(),
		"groups", cat.GroupNames(),
	)

	if stale := cat.Stale(now, cfg.Catalog.MaxAge); len(stale) > 0 {
		logger.WarnContext(ctx, "catalog holds stale element sets",
			"count", len(stale),
			"max_age", cfg.Catalog.MaxAge,
		)
	}

	return cat, nil
}

func serveMetrics(addr string, collector *observability.Collector, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return srv
}

func printGroundTrack(objects map[string]*scenarioObject, name string, now time.Time, out io.Writer) error {
	obj, ok := objects[name]
	if !ok {
		return fmt.Errorf("unknown object %q", name)
	}

	model := obj.sat.Model()
	if model == nil {
		return fmt.Errorf("object %q has no orbit", name)
	}

	gt, err := orbit.DefaultGroundTrack(model, now)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(gt)
}
