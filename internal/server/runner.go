package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/biobanking/blaze-sync/internal/history"
	"github.com/biobanking/blaze-sync/internal/metrics"
	"github.com/biobanking/blaze-sync/internal/sync"
)

// ErrRunInProgress is returned when a trigger arrives while another run is
// still executing.
var ErrRunInProgress = errors.New("a sync run is already in progress")

// Runner serializes sync runs. Only one run executes at a time; overlapping
// triggers are rejected rather than queued.
type Runner struct {
	engine  *sync.Engine
	store   history.Store
	metrics *metrics.Metrics
	log     zerolog.Logger

	slot chan struct{}
}

// NewRunner wires a runner around the engine.
func NewRunner(engine *sync.Engine, store history.Store, m *metrics.Metrics, log zerolog.Logger) *Runner {
	r := &Runner{engine: engine, store: store, metrics: m, log: log, slot: make(chan struct{}, 1)}
	r.slot <- struct{}{}
	return r
}

// Trigger starts a run of the given kind in the background. It returns
// ErrRunInProgress when a run is already executing.
func (r *Runner) Trigger(kind string) error {
	select {
	case <-r.slot:
	default:
		return ErrRunInProgress
	}

	go func() {
		defer func() { r.slot <- struct{}{} }()
		r.execute(kind)
	}()
	return nil
}

// Running reports whether a run is currently executing.
func (r *Runner) Running() bool {
	return len(r.slot) == 0
}

func (r *Runner) execute(kind string) {
	ctx := context.Background()
	started := time.Now()
	r.log.Info().Str("kind", kind).Msg("sync run started")

	var summary sync.Summary
	if kind == history.KindConditions {
		summary = r.engine.RunConditions(ctx)
	} else {
		summary = r.engine.Run(ctx)
	}
	duration := time.Since(started)

	if r.metrics != nil {
		r.metrics.ObserveRun(summary, duration)
	}
	run := history.Run{
		ID:        uuid.New(),
		Kind:      kind,
		StartedAt: summary.Timestamp,
		Duration:  duration.Seconds(),
		Summary:   summary,
	}
	if err := r.store.Record(ctx, run); err != nil {
		r.log.Error().Err(err).Msg("failed to record run")
	}
}
