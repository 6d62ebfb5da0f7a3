package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/openclaw/launcher/pkg/metrics"
	"github.com/openclaw/launcher/pkg/runtime"
	"github.com/openclaw/launcher/pkg/types"
)

// List returns the safe record for every instance, with status taken from
// the reconciler's snapshot. An instance with no snapshot yet gets a single
// live inspect instead; the result is not written back, since the reconciler
// alone populates the snapshot.
func (o *Orchestrator) List(ctx context.Context) ([]types.WireInstance, error) {
	view, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, view.Count())
	for id := range view.Instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]types.WireInstance, 0, len(ids))
	for _, id := range ids {
		rec := view.Instances[id]

		var status types.ContainerStatus
		if snap, ok := o.state.get(id); ok {
			status = snap.Status
		} else {
			status = o.liveStatus(ctx, id)
		}
		out = append(out, rec.SafeWire(id, status))
	}
	return out, nil
}

// liveStatus is the snapshot-miss fallback: one inspect, errors collapsed
// to a status value so listings never fail on a down daemon.
func (o *Orchestrator) liveStatus(ctx context.Context, id string) types.ContainerStatus {
	status, err := o.runtime.InspectStatus(ctx, ContainerName(id))
	switch {
	case err == nil:
		return status
	case errors.Is(err, runtime.ErrNotFound):
		return types.StatusNotFound
	default:
		return types.StatusUnreachable
	}
}

// StatsResult is the live status and telemetry for one instance.
type StatsResult struct {
	Status types.ContainerStatus `json:"status"`
	Stats  map[string]string     `json:"stats"`
}

// StatsFor inspects and samples an instance live, bypassing the snapshot.
// A missing container is a result; any other daemon failure on the status
// check is surfaced to the caller.
func (o *Orchestrator) StatsFor(ctx context.Context, id string) (StatsResult, error) {
	name := ContainerName(id)

	status, err := o.runtime.InspectStatus(ctx, name)
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		return StatsResult{Status: types.StatusNotFound, Stats: map[string]string{}}, nil
	case err != nil:
		return StatsResult{}, err
	}

	result := StatsResult{Status: status, Stats: map[string]string{}}
	if status != types.StatusRunning {
		return result, nil
	}

	stats, err := o.runtime.SampleStats(ctx, name)
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		// Exited between inspect and sample; empty stats.
	case err != nil:
		result.Stats["error"] = "docker_unreachable"
	default:
		memPct := 0.0
		if stats.MemLimitBytes > 0 {
			memPct = float64(stats.MemoryBytes) / float64(stats.MemLimitBytes) * 100.0
		}
		result.Stats["cpu"] = fmt.Sprintf("%.2f%%", stats.CPUPercent)
		result.Stats["mem"] = fmt.Sprintf("%s / %s", formatBytes(stats.MemoryBytes), formatBytes(stats.MemLimitBytes))
		result.Stats["mem_pct"] = fmt.Sprintf("%.2f%%", memPct)
	}
	return result, nil
}

// MetricsSamples builds the per-instance metric samples from the store and
// the snapshot. Safe data only; tokens never reach the exposition.
func (o *Orchestrator) MetricsSamples() []metrics.Sample {
	view, err := o.store.Load()
	if err != nil {
		o.logger.Error().Err(err).Msg("metrics: store read failed")
		return nil
	}

	samples := make([]metrics.Sample, 0, view.Count())
	for id, rec := range view.Instances {
		sample := metrics.Sample{
			ID:       id,
			Pubkey:   rec.Pubkey,
			Restarts: o.state.restartCount(id),
		}
		if snap, ok := o.state.get(id); ok {
			sample.Running = snap.Status == types.StatusRunning
			sample.CPUPercent = snap.CPUPercent
			sample.MemoryBytes = snap.MemoryBytes
		}
		samples = append(samples, sample)
	}
	return samples
}

// formatBytes renders a byte count in IEC units.
func formatBytes(n uint64) string {
	v := float64(n)
	for _, unit := range []string{"B", "KiB", "MiB", "GiB", "TiB"} {
		if v < 1024.0 {
			return fmt.Sprintf("%.1f%s", v, unit)
		}
		v /= 1024.0
	}
	return fmt.Sprintf("%.1fPiB", v)
}
