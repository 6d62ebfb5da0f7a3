package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/openclaw/launcher/pkg/types"
)

// Per-call budgets. The daemon may block on any call; these keep request
// handlers and the reconciler from hanging on a wedged daemon.
const (
	createTimeout  = 30 * time.Second
	startTimeout   = 30 * time.Second
	inspectTimeout = 5 * time.Second
	statsTimeout   = 10 * time.Second
	tailTimeout    = 10 * time.Second
	removeTimeout  = 30 * time.Second

	// stopMargin is added to the caller's grace period so the API call
	// itself does not expire before the daemon's SIGKILL fallback.
	stopMargin = 10 * time.Second
)

// Bind is a host directory mounted into the container.
type Bind struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// PortMapping publishes one container port on a host address.
type PortMapping struct {
	ContainerPort int
	BindAddr      string
	HostPort      int
}

// ContainerSpec is everything the adapter needs to create a container.
type ContainerSpec struct {
	Image           string
	Env             []string
	Binds           []Bind
	Port            PortMapping
	MemoryBytes     int64
	MemorySwapBytes int64
	NanoCPUs        int64
	ReadOnlyRootfs  bool
	Tmpfs           map[string]string
	RestartPolicy   container.RestartPolicyMode
	Init            bool
	CapDrop         []string
	CapAdd          []string
	NoNewPrivileges bool
	Command         []string
}

// Docker is a narrow, synchronous façade over the Docker Engine API. The
// underlying client is created lazily, once per process, and is safe for
// concurrent use.
type Docker struct {
	mu  sync.Mutex
	cli *client.Client
}

// New returns an unconnected adapter. The first call that needs the daemon
// initializes the client.
func New() *Docker {
	return &Docker{}
}

func (d *Docker) client() (*client.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cli != nil {
		return d.cli, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, ErrUnreachable
	}
	d.cli = cli
	return cli, nil
}

// Close releases the client connection if one was established.
func (d *Docker) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli != nil {
		return d.cli.Close()
	}
	return nil
}

// Create creates a container from spec under the given name and returns the
// full container ID. Fails if the name is already taken.
func (d *Docker) Create(ctx context.Context, name string, spec ContainerSpec) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	port := nat.Port(fmt.Sprintf("%d/tcp", spec.Port.ContainerPort))

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Cmd:          strslice.StrSlice(spec.Command),
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	binds := make([]string, 0, len(spec.Binds))
	for _, b := range spec.Binds {
		mode := "rw"
		if b.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, fmt.Sprintf("%s:%s:%s", b.HostPath, b.ContainerPath, mode))
	}

	policy := spec.RestartPolicy
	if policy == "" {
		policy = container.RestartPolicyUnlessStopped
	}

	var securityOpt []string
	if spec.NoNewPrivileges {
		securityOpt = append(securityOpt, "no-new-privileges")
	}

	init := spec.Init
	hostCfg := &container.HostConfig{
		Binds: binds,
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{
				HostIP:   spec.Port.BindAddr,
				HostPort: strconv.Itoa(spec.Port.HostPort),
			}},
		},
		RestartPolicy:  container.RestartPolicy{Name: policy},
		ReadonlyRootfs: spec.ReadOnlyRootfs,
		Tmpfs:          spec.Tmpfs,
		Init:           &init,
		CapDrop:        strslice.StrSlice(spec.CapDrop),
		CapAdd:         strslice.StrSlice(spec.CapAdd),
		SecurityOpt:    securityOpt,
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemorySwapBytes,
			NanoCPUs:   spec.NanoCPUs,
		},
	}

	resp, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", classify(err)
	}
	return resp.ID, nil
}

// Start starts a created or stopped container.
func (d *Docker) Start(ctx context.Context, name string) error {
	cli, err := d.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	return classify(cli.ContainerStart(ctx, name, container.StartOptions{}))
}

// Stop stops a container, giving it grace before the daemon kills it.
func (d *Docker) Stop(ctx context.Context, name string, grace time.Duration) error {
	cli, err := d.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, grace+stopMargin)
	defer cancel()

	seconds := int(grace.Seconds())
	return classify(cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &seconds}))
}

// Remove deletes a container.
func (d *Docker) Remove(ctx context.Context, name string, force bool) error {
	cli, err := d.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, removeTimeout)
	defer cancel()

	return classify(cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: force}))
}

// InspectStatus returns the container's observed status.
func (d *Docker) InspectStatus(ctx context.Context, name string) (types.ContainerStatus, error) {
	cli, err := d.client()
	if err != nil {
		return types.StatusUnknown, err
	}

	ctx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	resp, err := cli.ContainerInspect(ctx, name)
	if err != nil {
		return types.StatusUnknown, classify(err)
	}
	if resp.State == nil {
		return types.StatusUnknown, nil
	}
	return parseStatus(resp.State.Status), nil
}

// parseStatus maps the daemon's status string onto the launcher's status
// set. Daemon states outside the set (created, restarting) read as unknown.
func parseStatus(s string) types.ContainerStatus {
	switch status := types.ContainerStatus(s); status {
	case types.StatusRunning, types.StatusExited, types.StatusDead,
		types.StatusRemoving, types.StatusPaused:
		return status
	default:
		return types.StatusUnknown
	}
}

// Stats is one resource usage sample for a running container.
type Stats struct {
	CPUPercent    float64
	MemoryBytes   uint64
	MemLimitBytes uint64
}

// SampleStats takes a single (non-streamed) stats sample.
func (d *Docker) SampleStats(ctx context.Context, name string) (Stats, error) {
	cli, err := d.client()
	if err != nil {
		return Stats{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	resp, err := cli.ContainerStats(ctx, name, false)
	if err != nil {
		return Stats{}, classify(err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Stats{}, classify(err)
	}

	return Stats{
		CPUPercent:    cpuPercent(raw),
		MemoryBytes:   raw.MemoryStats.Usage,
		MemLimitBytes: raw.MemoryStats.Limit,
	}, nil
}

// cpuPercent computes (cpuDelta / systemDelta) * cpuCount * 100 from the
// sample and the daemon's immediately-prior sample. The result is 0 whenever
// either delta is zero or negative.
func cpuPercent(s container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}

	cpuCount := len(s.CPUStats.CPUUsage.PercpuUsage)
	if cpuCount == 0 {
		cpuCount = 1
	}
	return (cpuDelta / systemDelta) * float64(cpuCount) * 100.0
}

// FollowLogs opens a follow stream over the container's log output, starting
// tail lines back. The stream is finite (it ends when the container exits)
// and not restartable; the caller must Close it to release the daemon
// connection. The bytes are in the daemon's multiplexed format; use
// DemuxLogs to split them.
func (d *Docker) FollowLogs(ctx context.Context, name string, tail int) (io.ReadCloser, error) {
	cli, err := d.client()
	if err != nil {
		return nil, err
	}

	rc, err := cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, classify(err)
	}
	return rc, nil
}

// TailLogs fetches the last n log lines without following.
func (d *Docker) TailLogs(ctx context.Context, name string, n int) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, tailTimeout)
	defer cancel()

	rc, err := cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(n),
	})
	if err != nil {
		return "", classify(err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", classify(err)
	}
	return buf.String(), nil
}

// DemuxLogs copies a multiplexed log stream into w, merging stdout and
// stderr. It returns when the stream ends or errors.
func DemuxLogs(w io.Writer, r io.Reader) error {
	_, err := stdcopy.StdCopy(w, w, r)
	return err
}
