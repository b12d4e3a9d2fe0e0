package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/halo-visibility/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/signalsfoundry/halo-visibility/core"

// ErrJoinTimeout is returned when a run does not finish within JoinTimeout.
var ErrJoinTimeout = errors.New("grid run exceeded join timeout")

// RunMetricsRecorder receives per-chunk and per-run measurements.
type RunMetricsRecorder interface {
	ObserveChunk(rows int, d time.Duration, err error)
	ObserveRun(rows, chunks int, d time.Duration, err error)
	SetChunksInFlight(n int)
}

// GridRunner evaluates a time grid in contiguous chunks on a bounded pool of
// workers and merges the per-chunk tables in grid order.
type GridRunner struct {
	// ChunkSize is the maximum number of timestamps per chunk.
	ChunkSize int
	// Workers bounds concurrent chunks; <= 0 uses GOMAXPROCS.
	Workers int
	// NewOracle opens one oracle handle per chunk. Handles implementing
	// io.Closer are closed when their chunk finishes.
	NewOracle OracleFactory
	// Frame must be calibrated; it is shared read-only by every chunk.
	Frame    *HaloFrame
	Model    VisibilityModel
	Bodies   Bodies
	Stations []string
	// JoinTimeout bounds the whole run; zero waits indefinitely.
	JoinTimeout time.Duration

	Log     logging.Logger
	Metrics RunMetricsRecorder
}

// Chunks splits grid into contiguous slices of at most size elements. The
// slices alias grid.
func Chunks(grid []time.Time, size int) ([][]time.Time, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: chunk size must be >= 1, got %d", ErrInvalidArgument, size)
	}
	chunks := make([][]time.Time, 0, (len(grid)+size-1)/size)
	for start := 0; start < len(grid); start += size {
		end := start + size
		if end > len(grid) {
			end = len(grid)
		}
		chunks = append(chunks, grid[start:end:end])
	}
	return chunks, nil
}

func (r *GridRunner) validate() error {
	if r.NewOracle == nil {
		return fmt.Errorf("%w: grid runner needs an oracle factory", ErrInvalidArgument)
	}
	if r.Frame == nil {
		return fmt.Errorf("%w: grid runner needs a halo frame", ErrInvalidArgument)
	}
	if !r.Frame.Calibrated() {
		return ErrNotCalibrated
	}
	if r.JoinTimeout < 0 {
		return fmt.Errorf("%w: negative join timeout %s", ErrInvalidArgument, r.JoinTimeout)
	}
	return nil
}

// Run evaluates grid. Any chunk failure cancels the remaining chunks and
// fails the whole run; no partial table is returned.
func (r *GridRunner) Run(ctx context.Context, grid []time.Time) (*ResultTable, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	chunks, err := Chunks(grid, r.ChunkSize)
	if err != nil {
		return nil, err
	}
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	ctx, log := logging.WithRunLogger(ctx, r.Log)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "GridRunner.Run", trace.WithAttributes(
		attribute.Int("grid.size", len(grid)),
		attribute.Int("grid.chunks", len(chunks)),
		attribute.Int("grid.chunk_size", r.ChunkSize),
		attribute.Int("grid.workers", workers),
		attribute.String("run_id", logging.RunIDFromContext(ctx)),
	))
	defer span.End()

	start := time.Now()
	log.Info(ctx, "grid run started",
		logging.Int("timestamps", len(grid)), logging.Int("chunks", len(chunks)), logging.Int("workers", workers))

	table, err := r.runChunks(ctx, chunks, workers, log)
	elapsed := time.Since(start)

	rows := 0
	if table != nil {
		rows = table.Len()
	}
	if r.Metrics != nil {
		r.Metrics.ObserveRun(rows, len(chunks), elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error(ctx, "grid run failed", logging.Err(err), logging.Duration("elapsed", elapsed))
		return nil, err
	}
	span.SetAttributes(attribute.Int("grid.rows", rows))
	log.Info(ctx, "grid run finished", logging.Int("rows", rows), logging.Duration("elapsed", elapsed))
	return table, nil
}

func (r *GridRunner) runChunks(ctx context.Context, chunks [][]time.Time, workers int, log logging.Logger) (*ResultTable, error) {
	if len(chunks) == 0 {
		return NewResultTable(r.Stations, 0)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(workers)

	// Each chunk writes only its own slot; the orchestrator owns the merge.
	results := make([]*ResultTable, len(chunks))
	var inFlight atomic.Int64

	done := make(chan error, 1)
	go func() {
		for i, chunk := range chunks {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				// The run may have been abandoned while this chunk waited
				// for a free worker.
				if err := gctx.Err(); err != nil {
					return err
				}
				r.setInFlight(inFlight.Add(1))
				defer func() { r.setInFlight(inFlight.Add(-1)) }()

				tbl, err := r.runChunk(gctx, i, chunk, log)
				if err != nil {
					return fmt.Errorf("chunk %d [%s..%s]: %w", i,
						chunk[0].Format(time.RFC3339Nano), chunk[len(chunk)-1].Format(time.RFC3339Nano), err)
				}
				results[i] = tbl
				return nil
			})
		}
		done <- g.Wait()
	}()

	var timeout <-chan time.Time
	if r.JoinTimeout > 0 {
		timer := time.NewTimer(r.JoinTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-timeout:
		cancel()
		return nil, fmt.Errorf("%w after %s", ErrJoinTimeout, r.JoinTimeout)
	case <-ctx.Done():
		// Workers observe the cancellation between timestamps.
		return nil, ctx.Err()
	}
	return ConcatTables(results...)
}

func (r *GridRunner) setInFlight(n int64) {
	if r.Metrics != nil {
		r.Metrics.SetChunksInFlight(int(n))
	}
}

func (r *GridRunner) runChunk(ctx context.Context, index int, times []time.Time, log logging.Logger) (tbl *ResultTable, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "GridRunner.chunk", trace.WithAttributes(
		attribute.Int("chunk.index", index),
		attribute.Int("chunk.size", len(times)),
	))
	start := time.Now()
	defer func() {
		d := time.Since(start)
		rows := 0
		if tbl != nil {
			rows = tbl.Len()
		}
		if r.Metrics != nil {
			r.Metrics.ObserveChunk(rows, d, err)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	oracle, err := r.NewOracle()
	if err != nil {
		return nil, fmt.Errorf("%w: open oracle: %w", ErrOracleFailure, err)
	}
	if c, ok := oracle.(io.Closer); ok {
		defer func() {
			if cerr := c.Close(); cerr != nil {
				log.Warn(ctx, "closing oracle failed", logging.Int("chunk", index), logging.Err(cerr))
			}
		}()
	}

	ev, err := NewEvaluator(oracle, r.Frame, r.Model, r.Bodies, r.Stations)
	if err != nil {
		return nil, err
	}
	tbl, err = ev.EvaluateChunk(ctx, times)
	if err != nil {
		return nil, err
	}
	log.Debug(ctx, "chunk evaluated", logging.Int("chunk", index), logging.Int("rows", tbl.Len()),
		logging.Duration("elapsed", time.Since(start)))
	return tbl, nil
}

// BodySeries returns the primary body's position relative to the secondary
// at each epoch, the input Calibrate expects.
func BodySeries(oracle Oracle, bodies Bodies, epochs []time.Time) ([]Vec3, error) {
	if oracle == nil {
		return nil, fmt.Errorf("%w: body series needs an oracle", ErrInvalidArgument)
	}
	out := make([]Vec3, len(epochs))
	for i, t := range epochs {
		v, err := oracle.Vector3(bodies.Secondary, bodies.Primary, bodies.InertialFrame, t)
		if err != nil {
			return nil, fmt.Errorf("%w: %s->%s at %s: %w",
				ErrOracleFailure, bodies.Secondary, bodies.Primary, t.Format(time.RFC3339Nano), err)
		}
		out[i] = v
	}
	return out, nil
}
