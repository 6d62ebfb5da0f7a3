package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/prometheus/common/expfmt"
)

// Sample is one instance's contribution to the exposition.
type Sample struct {
	ID          string
	Pubkey      string
	Running     bool
	Restarts    uint64
	CPUPercent  float64
	MemoryBytes uint64
}

// WriteExposition renders the per-instance gauge and counter families in
// their fixed order. Pubkeys appear as labels; gateway tokens never do.
func WriteExposition(w io.Writer, samples []Sample) error {
	sort.Slice(samples, func(i, j int) bool { return samples[i].ID < samples[j].ID })

	running := 0
	for _, s := range samples {
		if s.Running {
			running++
		}
	}

	var err error
	write := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	write("# HELP openclaw_instances_total Total number of instances\n")
	write("# TYPE openclaw_instances_total gauge\n")
	write("openclaw_instances_total %d\n", len(samples))

	write("# HELP openclaw_instances_running Number of running instances\n")
	write("# TYPE openclaw_instances_running gauge\n")
	write("openclaw_instances_running %d\n", running)

	write("# HELP openclaw_instance_restarts_total Unexpected restarts detected per instance\n")
	write("# TYPE openclaw_instance_restarts_total counter\n")
	for _, s := range samples {
		write("openclaw_instance_restarts_total{instance=%q,pubkey=%q} %d\n", s.ID, s.Pubkey, s.Restarts)
	}

	write("# HELP openclaw_instance_cpu_percent CPU usage percent per instance\n")
	write("# TYPE openclaw_instance_cpu_percent gauge\n")
	for _, s := range samples {
		write("openclaw_instance_cpu_percent{instance=%q,pubkey=%q} %.4f\n", s.ID, s.Pubkey, s.CPUPercent)
	}

	write("# HELP openclaw_instance_memory_bytes Memory usage in bytes per instance\n")
	write("# TYPE openclaw_instance_memory_bytes gauge\n")
	for _, s := range samples {
		write("openclaw_instance_memory_bytes{instance=%q,pubkey=%q} %d\n", s.ID, s.Pubkey, s.MemoryBytes)
	}

	return err
}

// Handler serves the full exposition: the instance families first, then the
// internal registry families, all in the 0.0.4 text format.
func Handler(gather func() []Sample) http.HandlerFunc {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", string(format))

		if err := WriteExposition(w, gather()); err != nil {
			return
		}

		mfs, err := Registry.Gather()
		if err != nil {
			return
		}
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				return
			}
		}
	}
}
