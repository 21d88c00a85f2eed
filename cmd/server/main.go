package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hvac_savings/internal/config"
	"hvac_savings/internal/dashboard"
	"hvac_savings/internal/ingest"
	"hvac_savings/internal/live"
	"hvac_savings/internal/logger"
	"hvac_savings/internal/pipeline"
	"hvac_savings/internal/preprocess"
	"hvac_savings/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}

	inputDir := flag.String("input-dir", cfg.Data.InputDir, "directory containing the CSV inputs")
	addr := flag.String("addr", cfg.Server.Addr, "listen address")
	modelsDir := flag.String("models-dir", "", "trained model artifacts; enables the predictive_setback policy")
	tz := flag.String("tz", "UTC", "timezone for timestamps without an offset")
	watch := flag.Bool("watch", true, "reload when CSV files in input-dir change")
	mqtt := flag.Bool("mqtt", false, "ingest live occupancy from MQTT")
	flag.Parse()

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "server")
	if err != nil {
		log.Fatalf("Creating logger: %v", err)
	}
	defer lg.Sync()

	if err := cfg.Validate(); err != nil {
		lg.Fatal("invalid configuration", zap.Error(err))
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		lg.Fatal("invalid timezone", zap.String("tz", *tz), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := pipeline.DefaultBuildOptions()
	build.Merge.Freq = cfg.Data.Freq
	build.Merge.Join = preprocess.JoinType(cfg.Data.Join)
	build.OccupancyThreshold = cfg.Data.OccupancyThreshold

	metrics := dashboard.NewMetrics()
	analyzer := dashboard.NewAnalyzer(cfg.Comfort, lg)
	analyzer.SetThreshold(cfg.Data.OccupancyThreshold)
	srv := dashboard.NewServer(analyzer, metrics, cfg.Server.AllowedOrigins, lg)

	a := &app{
		inputDir:   *inputDir,
		ingestOpts: ingest.Options{ParseDates: true, Location: loc},
		build:      build,
		modelsDir:  *modelsDir,
		server:     srv,
		logger:     lg,
	}
	ds, err := a.load()
	if err != nil {
		lg.Fatal("failed to load data", zap.String("dir", *inputDir), zap.Error(err))
	}
	a.apply(ds)

	if *watch {
		w := dashboard.NewWatcher(*inputDir, a.reload, metrics, lg)
		go func() {
			if err := w.Run(ctx); err != nil {
				lg.Error("watcher stopped", zap.Error(err))
			}
		}()
	}

	if *mqtt {
		client, err := live.NewClient(cfg.MQTT, lg)
		if err != nil {
			lg.Fatal("failed to connect to MQTT broker", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		}
		defer client.Disconnect()

		liveStore := ds.Store()
		srv.Live = liveStore
		ingestor := live.NewIngestor(client, liveStore, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, lg)
		ingestor.OnRecord = srv.Handler.BroadcastLiveOccupancy
		go func() {
			if err := ingestor.Run(ctx); err != nil {
				lg.Error("live ingestion stopped", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("shutdown failed", zap.Error(err))
		}
	}()

	lg.Info("starting server", zap.String("addr", *addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Fatal("server failed", zap.Error(err))
	}
	lg.Info("server stopped")
}

// app loads the input directory into the dashboard and reloads it on change.
type app struct {
	inputDir   string
	ingestOpts ingest.Options
	build      pipeline.BuildOptions
	modelsDir  string
	server     *dashboard.Server
	logger     *zap.Logger
}

// loaded is one load of the input directory.
type loaded struct {
	dataset *pipeline.Dataset
	view    dashboard.Dataset
}

// Store seeds a live store with the historical occupancy.
func (l loaded) Store() *store.Store {
	return l.dataset.Store()
}

func (a *app) load() (loaded, error) {
	ds, err := pipeline.LoadDataset(a.inputDir, pipeline.DefaultInputs(), a.ingestOpts, a.logger)
	if err != nil {
		return loaded{}, err
	}
	frame, err := pipeline.BuildFrame(ds, a.build)
	if err != nil {
		return loaded{}, err
	}
	schedule, err := ds.Schedule(a.build.Holidays...)
	if err != nil {
		return loaded{}, err
	}
	view := dashboard.Dataset{Frame: frame, Spaces: ds.Spaces, Schedule: schedule}

	if a.modelsDir != "" {
		if tr, ok := frame.TimeRange(); ok {
			models, err := pipeline.LoadModels(a.modelsDir, "")
			if err != nil {
				a.logger.Warn("predictive policy disabled", zap.String("dir", a.modelsDir), zap.Error(err))
			} else if view.Forecast, err = pipeline.Hindcast(models, frame, tr.Start, tr.End); err != nil {
				a.logger.Warn("predictive policy disabled", zap.Error(err))
			}
		}
	}

	if tr, ok := frame.TimeRange(); ok {
		a.logger.Info("data loaded",
			zap.Int("intervals", len(frame)),
			zap.Int("zones", len(frame.Zones())),
			zap.String("start", tr.Start.Format(time.DateOnly)),
			zap.String("end", tr.End.Format(time.DateOnly)),
		)
	}
	return loaded{dataset: ds, view: view}, nil
}

func (a *app) apply(l loaded) {
	a.server.Analyzer.SetDataset(l.view)
	a.server.Handler.BroadcastDataLoaded()
	a.server.Handler.BroadcastSummary()
}

// reload rebuilds the dataset; on failure the previous one stays active.
func (a *app) reload(_ context.Context) error {
	l, err := a.load()
	if err != nil {
		return err
	}
	a.apply(l)
	return nil
}
