package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/halo-visibility/core"
	"github.com/signalsfoundry/halo-visibility/ephemeris"
	"github.com/signalsfoundry/halo-visibility/internal/logging"
	"github.com/signalsfoundry/halo-visibility/internal/observability"
	"github.com/signalsfoundry/halo-visibility/internal/resultio"
	"github.com/signalsfoundry/halo-visibility/kb"
	"github.com/signalsfoundry/halo-visibility/timectrl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, logging.NewFromEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	csvPath     string
	binaryPath  string
	workers     int
	chunkSize   int
	metricsAddr string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "configs/run.json", "Path to the JSON run configuration")
	fs.StringVar(&o.csvPath, "out", "-", "CSV output path; - writes to stdout")
	fs.StringVar(&o.binaryPath, "binary", "", "Optional path for the length-prefixed binary result table")
	fs.IntVar(&o.workers, "workers", -1, "Override the configured worker count (0 uses GOMAXPROCS)")
	fs.IntVar(&o.chunkSize, "chunk-size", 0, "Override the configured chunk size")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables it")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout io.Writer, log logging.Logger) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	return simulate(ctx, opts, stdout, log, timectrl.SystemClock{})
}

func simulate(ctx context.Context, opts options, stdout io.Writer, base logging.Logger, clock timectrl.Clock) error {
	ctx, log := logging.WithRunLogger(ctx, base)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	cfg, err := core.LoadRunConfigFile(opts.configPath)
	if err != nil {
		return err
	}
	if opts.workers >= 0 {
		cfg.Workers = opts.workers
	}
	if opts.chunkSize > 0 {
		cfg.ChunkSize = opts.chunkSize
	}

	catalog := kb.NewCatalog()
	if err := cfg.PopulateCatalog(catalog); err != nil {
		return err
	}

	eph, err := buildEphemeris(cfg, catalog)
	if err != nil {
		return err
	}

	grid, err := timectrl.Grid(cfg.Start, cfg.End, cfg.Step)
	if err != nil {
		return err
	}
	frame, err := calibrateFrame(cfg, eph, grid)
	if err != nil {
		return err
	}

	collector, err := observability.NewRunCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	started := clock.Now()
	log.Info(ctx, "simulation configured",
		logging.String("config", opts.configPath),
		logging.String("ephemeris", cfg.Ephemeris),
		logging.Int("stations", len(cfg.Stations)),
		logging.Int("timestamps", len(grid)),
		logging.Time("started_at", started))

	runner := &core.GridRunner{
		ChunkSize:   cfg.ChunkSize,
		Workers:     cfg.Workers,
		NewOracle:   eph.Factory(),
		Frame:       frame,
		Model:       cfg.Model(),
		Bodies:      cfg.Bodies,
		Stations:    catalog.StationNames(),
		JoinTimeout: cfg.JoinTimeout,
		Log:         base,
		Metrics:     collector,
	}
	table, err := runner.Run(ctx, grid)
	if err != nil {
		return err
	}
	table.SetMinElevation(cfg.MinElevationDeg)
	collector.RecordTable(table)

	if err := writeOutputs(opts, table, stdout); err != nil {
		return err
	}
	log.Info(ctx, "simulation finished",
		logging.Int("rows", table.Len()),
		logging.Duration("elapsed", clock.Now().Sub(started)))
	return nil
}

func buildEphemeris(cfg *core.RunConfig, catalog *kb.Catalog) (*ephemeris.Ephemeris, error) {
	switch cfg.Ephemeris {
	case core.EphemerisCircular:
		cc := ephemeris.DefaultCircularConfig(cfg.FrameEpoch)
		cc.Bodies = cfg.Bodies
		cc.Stations = catalog.Stations()
		cc.SecondaryRadiusKm = cfg.SecondaryRadiusKm
		return ephemeris.NewCircular(cc)
	case core.EphemerisAnalytic:
		traj, err := ephemeris.LoadTrajectoryFile(cfg.TrajectoryFile)
		if err != nil {
			return nil, err
		}
		return ephemeris.NewAnalytic(ephemeris.AnalyticConfig{
			Bodies:     cfg.Bodies,
			Stations:   catalog.Stations(),
			Spacecraft: traj,
		})
	default:
		return nil, fmt.Errorf("%w: unknown ephemeris %q", core.ErrInvalidArgument, cfg.Ephemeris)
	}
}

// calibrateFrame fits the halo frame to the primary's motion over an evenly
// spaced subsample of the run grid.
func calibrateFrame(cfg *core.RunConfig, oracle core.Oracle, grid []time.Time) (*core.HaloFrame, error) {
	samples, err := core.LoadOrbitSamplesFile(cfg.HaloFile, cfg.Units)
	if err != nil {
		return nil, err
	}
	frame, err := core.NewHaloFrame(samples, cfg.FrameEpoch)
	if err != nil {
		return nil, err
	}
	epochs, err := timectrl.Sample(grid, cfg.CalibrationPoints)
	if err != nil {
		return nil, err
	}
	series, err := core.BodySeries(oracle, cfg.Bodies, epochs)
	if err != nil {
		return nil, err
	}
	if err := frame.Calibrate(series); err != nil {
		return nil, fmt.Errorf("calibrate halo frame: %w", err)
	}
	return frame, nil
}

func writeOutputs(opts options, table *core.ResultTable, stdout io.Writer) (err error) {
	if opts.csvPath != "" {
		w := stdout
		if opts.csvPath != "-" {
			f, cerr := os.Create(opts.csvPath)
			if cerr != nil {
				return cerr
			}
			defer closeFile(f, &err)
			w = f
		}
		if err = resultio.WriteCSV(w, table); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if opts.binaryPath != "" {
		f, cerr := os.Create(opts.binaryPath)
		if cerr != nil {
			return cerr
		}
		defer closeFile(f, &err)
		if err = resultio.Encode(f, table); err != nil {
			return fmt.Errorf("write binary table: %w", err)
		}
	}
	return nil
}

func closeFile(f *os.File, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

func serveMetrics(addr string, collector *observability.RunCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
