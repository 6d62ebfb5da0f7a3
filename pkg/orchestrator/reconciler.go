package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/launcher/pkg/metrics"
	"github.com/openclaw/launcher/pkg/runtime"
	"github.com/openclaw/launcher/pkg/types"
)

// StartReconciler launches the background health reconciler. It is
// idempotent: only the first call per process starts the loop. The loop
// stops when ctx is cancelled.
func (o *Orchestrator) StartReconciler(ctx context.Context, interval time.Duration) {
	o.state.startOnce.Lock()
	defer o.state.startOnce.Unlock()
	if o.state.started {
		return
	}
	o.state.started = true

	go o.reconcileLoop(ctx, interval)
}

func (o *Orchestrator) reconcileLoop(ctx context.Context, interval time.Duration) {
	logger := o.logger.With().Str("component", "reconciler").Logger()
	logger.Info().Dur("interval", interval).Msg("reconciler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.runPass(ctx)
		case <-ctx.Done():
			logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// runPass executes one reconciliation pass, recovering any panic so a bad
// pass never kills the loop.
func (o *Orchestrator) runPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("panic", fmt.Sprint(r)).Msg("reconciler pass panicked")
		}
	}()

	start := time.Now()
	o.ReconcileOnce(ctx)
	metrics.ReconcilerPassDuration.Observe(time.Since(start).Seconds())
	metrics.ReconcilerPassesTotal.Inc()
}

// ReconcileOnce refreshes the status snapshot for every instance in the
// store. The reconciler is descriptive only: it never creates or destroys
// records, it just observes and counts.
func (o *Orchestrator) ReconcileOnce(ctx context.Context) {
	view, err := o.store.Load()
	if err != nil {
		o.logger.Error().Err(err).Msg("reconciler: store read failed")
		return
	}

	keep := make(map[string]struct{}, view.Count())
	for id := range view.Instances {
		keep[id] = struct{}{}
	}
	o.state.retain(keep)

	for id := range view.Instances {
		if !o.reconcileInstance(ctx, id) {
			// Daemon unreachable: snapshots stay as they are until the
			// next pass finds it back.
			return
		}
	}
}

// reconcileInstance refreshes one instance's snapshot. It reports false
// when the daemon was unreachable, which ends the pass early.
func (o *Orchestrator) reconcileInstance(ctx context.Context, id string) bool {
	now := time.Now()
	prev, hadPrev := o.state.get(id)

	status, err := o.runtime.InspectStatus(ctx, ContainerName(id))
	switch {
	case err == nil:
		if hadPrev && prev.Status == types.StatusRunning && status.Terminal() {
			count := o.state.bumpRestarts(id)
			o.logger.Warn().Str("instance", id).
				Str("from", string(prev.Status)).Str("to", string(status)).
				Uint64("restarts", count).
				Msg("unexpected container exit")
			o.record(id, types.EventCrashDetected, fmt.Sprintf("running -> %s", status))
		}

		snap := types.StatusSnapshot{Status: status, Updated: now}
		if status == types.StatusRunning {
			if stats, err := o.runtime.SampleStats(ctx, ContainerName(id)); err == nil {
				snap.CPUPercent = stats.CPUPercent
				snap.MemoryBytes = stats.MemoryBytes
			}
			// On a failed sample cpu/mem stay zero; status is still fresh.
		}
		o.state.set(id, snap)

	case errors.Is(err, runtime.ErrNotFound):
		if !hadPrev || (prev.Status != types.StatusNotFound && prev.Status != types.StatusUnknown) {
			o.logger.Warn().Str("instance", id).Msg("container missing for stored instance")
		}
		o.state.set(id, types.StatusSnapshot{Status: types.StatusNotFound, Updated: now})

	case errors.Is(err, runtime.ErrUnreachable):
		o.logger.Warn().Msg("reconciler: docker unreachable, keeping previous snapshot")
		return false

	default:
		o.logger.Warn().Err(err).Str("instance", id).Msg("reconciler: inspect failed")
	}
	return true
}
