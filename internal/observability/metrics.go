package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/halo-visibility/core"
)

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
)

// RunCollector bundles Prometheus metrics for grid runs. It implements
// core.RunMetricsRecorder; a nil *RunCollector records nothing.
type RunCollector struct {
	gatherer prometheus.Gatherer

	Chunks         *prometheus.CounterVec
	ChunkDurations prometheus.Histogram
	RowsEvaluated  prometheus.Counter
	ChunksInFlight prometheus.Gauge

	Runs         *prometheus.CounterVec
	RunDurations prometheus.Histogram
	LastRunRows  prometheus.Gauge

	CommStateRows *prometheus.GaugeVec
	FlagRows      *prometheus.GaugeVec
}

// NewRunCollector registers run metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice against the same
// registry reuses the existing collectors.
func NewRunCollector(reg prometheus.Registerer) (*RunCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &RunCollector{gatherer: gatherer}

	var err error
	if c.Chunks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visibility_chunks_total",
		Help: "Evaluated grid chunks, labeled by outcome.",
	}, []string{"outcome"}), "visibility_chunks_total"); err != nil {
		return nil, err
	}
	if c.ChunkDurations, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "visibility_chunk_duration_seconds",
		Help:    "Wall time spent evaluating one chunk.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}), "visibility_chunk_duration_seconds"); err != nil {
		return nil, err
	}
	if c.RowsEvaluated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "visibility_rows_evaluated_total",
		Help: "Timestamps evaluated by successful chunks.",
	}), "visibility_rows_evaluated_total"); err != nil {
		return nil, err
	}
	if c.ChunksInFlight, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "visibility_chunks_in_flight",
		Help: "Chunks currently being evaluated.",
	}), "visibility_chunks_in_flight"); err != nil {
		return nil, err
	}
	if c.Runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visibility_runs_total",
		Help: "Completed grid runs, labeled by outcome.",
	}, []string{"outcome"}), "visibility_runs_total"); err != nil {
		return nil, err
	}
	if c.RunDurations, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "visibility_run_duration_seconds",
		Help:    "Wall time of whole grid runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}), "visibility_run_duration_seconds"); err != nil {
		return nil, err
	}
	if c.LastRunRows, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "visibility_last_run_rows",
		Help: "Rows produced by the most recent successful run.",
	}), "visibility_last_run_rows"); err != nil {
		return nil, err
	}
	if c.CommStateRows, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "visibility_comm_state_rows",
		Help: "Rows of the last recorded table in each communication state.",
	}, []string{"state"}), "visibility_comm_state_rows"); err != nil {
		return nil, err
	}
	if c.FlagRows, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "visibility_flag_rows",
		Help: "Rows of the last recorded table with each state flag set.",
	}, []string{"flag"}), "visibility_flag_rows"); err != nil {
		return nil, err
	}
	return c, nil
}

// Outcome maps a run or chunk error onto an outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, core.ErrJoinTimeout):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// ObserveChunk records one finished chunk.
func (c *RunCollector) ObserveChunk(rows int, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.Chunks.WithLabelValues(Outcome(err)).Inc()
	c.ChunkDurations.Observe(d.Seconds())
	if err == nil {
		c.RowsEvaluated.Add(float64(rows))
	}
}

// ObserveRun records one finished run.
func (c *RunCollector) ObserveRun(rows, _ int, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(Outcome(err)).Inc()
	c.RunDurations.Observe(d.Seconds())
	if err == nil {
		c.LastRunRows.Set(float64(rows))
	}
}

// SetChunksInFlight updates the in-flight gauge.
func (c *RunCollector) SetChunksInFlight(n int) {
	if c == nil {
		return
	}
	c.ChunksInFlight.Set(float64(n))
}

// RecordTable publishes how often each communication state and flag occurs
// in table.
func (c *RunCollector) RecordTable(table *core.ResultTable) {
	if c == nil || table == nil {
		return
	}
	counts := map[core.CommState]int{}
	for _, s := range table.CommStates() {
		counts[s]++
	}
	for _, s := range []core.CommState{core.CommIdle, core.CommLowPower, core.CommHighPower, core.CommScience} {
		c.CommStateRows.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
	for i := 0; i < core.NumFlags; i++ {
		f := core.Flag(1 << i)
		n := 0
		for _, set := range table.HasAll(f) {
			if set {
				n++
			}
		}
		c.FlagRows.WithLabelValues(f.String()).Set(float64(n))
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RunCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RunCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds col to reg, returning the already registered collector of
// the same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
