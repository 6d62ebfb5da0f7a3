package runtime

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/launcher/pkg/types"
)

func statsSample(total, preTotal, system, preSystem uint64, percpu []uint64) container.StatsResponse {
	var s container.StatsResponse
	s.CPUStats.CPUUsage.TotalUsage = total
	s.CPUStats.CPUUsage.PercpuUsage = percpu
	s.CPUStats.SystemUsage = system
	s.PreCPUStats.CPUUsage.TotalUsage = preTotal
	s.PreCPUStats.SystemUsage = preSystem
	return s
}

func TestCPUPercent(t *testing.T) {
	tests := []struct {
		name string
		s    container.StatsResponse
		want float64
	}{
		{
			name: "half of one core",
			s:    statsSample(1_500_000_000, 1_000_000_000, 11_000_000_000, 10_000_000_000, nil),
			want: 50.0,
		},
		{
			name: "scaled by cpu count",
			s:    statsSample(1_500_000_000, 1_000_000_000, 11_000_000_000, 10_000_000_000, []uint64{0, 0, 0, 0}),
			want: 200.0,
		},
		{
			name: "zero cpu delta",
			s:    statsSample(1_000_000_000, 1_000_000_000, 11_000_000_000, 10_000_000_000, nil),
			want: 0,
		},
		{
			name: "zero system delta",
			s:    statsSample(2_000_000_000, 1_000_000_000, 10_000_000_000, 10_000_000_000, nil),
			want: 0,
		},
		{
			name: "negative deltas after daemon restart",
			s:    statsSample(1_000_000_000, 2_000_000_000, 9_000_000_000, 10_000_000_000, nil),
			want: 0,
		},
		{
			name: "empty sample",
			s:    container.StatsResponse{},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cpuPercent(tt.s), 0.0001)
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want types.ContainerStatus
	}{
		{"running", types.StatusRunning},
		{"exited", types.StatusExited},
		{"dead", types.StatusDead},
		{"removing", types.StatusRemoving},
		{"paused", types.StatusPaused},
		{"created", types.StatusUnknown},
		{"restarting", types.StatusUnknown},
		{"", types.StatusUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseStatus(tt.in), tt.in)
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	var netErr net.Error = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	assert.ErrorIs(t, classify(netErr), ErrUnreachable)

	err := classify(errors.New("conflict: name already in use"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "conflict: name already in use", apiErr.Message)
}

func TestClassifyTruncatesLongMessages(t *testing.T) {
	err := classify(errors.New(strings.Repeat("x", 2000)))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Len(t, apiErr.Message, maxAPIErrorLen)
}
