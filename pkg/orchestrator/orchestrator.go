package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openclaw/launcher/pkg/config"
	"github.com/openclaw/launcher/pkg/events"
	"github.com/openclaw/launcher/pkg/log"
	"github.com/openclaw/launcher/pkg/runtime"
	"github.com/openclaw/launcher/pkg/store"
	"github.com/openclaw/launcher/pkg/types"
	"github.com/openclaw/launcher/pkg/workspace"
)

// settleInterval is how long a restart waits before re-reading container
// status, so the returned status reflects an actual start attempt.
var settleInterval = 2 * time.Second

// ErrCapacity means the store already holds MaxInstances records.
var ErrCapacity = errors.New("instance capacity reached")

// ConflictError means launch found the instance already running. It carries
// the token-stripped record for the 409 response body.
type ConflictError struct {
	Instance types.WireInstance
}

func (e *ConflictError) Error() string {
	return "instance already running"
}

// ContainerRuntime is the slice of the runtime adapter the orchestrator
// consumes. *runtime.Docker satisfies it.
type ContainerRuntime interface {
	Create(ctx context.Context, name string, spec runtime.ContainerSpec) (string, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, grace time.Duration) error
	Remove(ctx context.Context, name string, force bool) error
	InspectStatus(ctx context.Context, name string) (types.ContainerStatus, error)
	SampleStats(ctx context.Context, name string) (runtime.Stats, error)
}

// Orchestrator owns the instance lifecycle: the persistent store, the
// runtime adapter, the workspace provisioner, and the in-memory status
// snapshot shared between request handlers and the reconciler.
type Orchestrator struct {
	cfg       config.Config
	store     *store.Store
	runtime   ContainerRuntime
	workspace *workspace.Provisioner
	journal   *events.Journal
	logger    zerolog.Logger

	state reconcilerState
}

// New wires an orchestrator. journal may be nil, in which case lifecycle
// events are not recorded.
func New(cfg config.Config, st *store.Store, rt ContainerRuntime, ws *workspace.Provisioner, journal *events.Journal) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		runtime:   rt,
		workspace: ws,
		journal:   journal,
		logger:    log.WithComponent("orchestrator"),
	}
	o.state.init()
	return o
}

// ContainerName returns the runtime container name for an instance ID.
func ContainerName(id string) string {
	return "openclaw-" + id
}

// Store exposes the instance store for read-only collaborators.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Workspace exposes the provisioner so the file API can resolve paths.
func (o *Orchestrator) Workspace() *workspace.Provisioner {
	return o.workspace
}

// Journal exposes the lifecycle event journal; may be nil.
func (o *Orchestrator) Journal() *events.Journal {
	return o.journal
}

// Launch creates a new instance for the pubkey, or restarts a stopped one.
//
// The whole decision runs inside the store's exclusive section so two
// concurrent launches for the same pubkey cannot both pass the existence
// check. The returned record is the full form, gateway token included; that
// is the one place the token ever leaves the system.
func (o *Orchestrator) Launch(ctx context.Context, pubkey string) (types.WireInstance, error) {
	pubkey = strings.TrimSpace(pubkey)
	id := types.DeriveID(pubkey)
	name := ContainerName(id)

	var out types.WireInstance
	err := o.store.Update(ctx, func(v *store.View) error {
		if rec, ok := v.Get(id); ok {
			return o.restartExisting(ctx, v, id, name, rec, &out)
		}

		if v.Count() >= config.MaxInstances {
			return ErrCapacity
		}

		port := v.NextPort(config.BasePort)
		token, err := newGatewayToken()
		if err != nil {
			return err
		}

		if err := o.workspace.Provision(id, pubkey, token); err != nil {
			return err
		}

		// A create or start failure leaves the workspace on disk. That is
		// fine: the next launch with the same pubkey reuses it.
		containerID, err := o.runtime.Create(ctx, name, o.containerSpec(id, port, token))
		if err != nil {
			return err
		}
		if err := o.runtime.Start(ctx, name); err != nil {
			return err
		}

		now := time.Now().Unix()
		rec := types.InstanceRecord{
			Pubkey:       pubkey,
			Port:         port,
			GatewayToken: token,
			Created:      now,
			LastStarted:  now,
			ContainerID:  shortID(containerID),
		}
		v.Put(id, rec)
		o.state.seed(id)

		out = rec.Wire(id, types.StatusStarting)
		o.logger.Info().Str("instance", id).Int("port", port).Msg("instance launched")
		o.record(id, types.EventLaunched, "port "+strconv.Itoa(port))
		return nil
	})
	return out, err
}

// restartExisting handles launch for a pubkey that already has a record.
func (o *Orchestrator) restartExisting(ctx context.Context, v *store.View, id, name string, rec types.InstanceRecord, out *types.WireInstance) error {
	status, err := o.runtime.InspectStatus(ctx, name)
	if err != nil {
		// No container to restart, or no daemon to ask: both surface as-is.
		return err
	}
	if status == types.StatusRunning {
		return &ConflictError{Instance: rec.SafeWire(id, status)}
	}

	if err := o.runtime.Start(ctx, name); err != nil {
		return err
	}
	time.Sleep(settleInterval)

	status, err = o.runtime.InspectStatus(ctx, name)
	if err != nil {
		status = types.StatusUnknown
	}

	rec.LastStarted = time.Now().Unix()
	v.Put(id, rec)
	o.state.invalidate(id)

	*out = rec.Wire(id, status)
	o.logger.Info().Str("instance", id).Msg("instance restarted")
	o.record(id, types.EventRestarted, "")
	return nil
}

// Stop stops a running instance with a 30 second grace period.
func (o *Orchestrator) Stop(ctx context.Context, pubkey string) (string, error) {
	id := types.DeriveID(strings.TrimSpace(pubkey))

	if err := o.runtime.Stop(ctx, ContainerName(id), 30*time.Second); err != nil {
		return id, err
	}

	o.state.invalidate(id)
	o.logger.Info().Str("instance", id).Msg("instance stopped")
	o.record(id, types.EventStopped, "")
	return id, nil
}

// Destroy removes an instance's container and store record. The workspace
// directory stays on disk. A missing container is not an error; only an
// unreachable daemon fails a destroy.
func (o *Orchestrator) Destroy(ctx context.Context, pubkey string) (string, error) {
	id := types.DeriveID(strings.TrimSpace(pubkey))
	name := ContainerName(id)

	err := o.runtime.Stop(ctx, name, 15*time.Second)
	switch {
	case err == nil, errors.Is(err, runtime.ErrNotFound):
		// Gone or stopped, either way removable.
	case errors.Is(err, runtime.ErrUnreachable):
		return id, err
	default:
		// A stop refusal is not fatal; force-remove handles it.
	}

	err = o.runtime.Remove(ctx, name, true)
	if err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return id, err
	}

	if err := o.store.Update(ctx, func(v *store.View) error {
		v.Delete(id)
		return nil
	}); err != nil {
		return id, err
	}

	o.state.drop(id)
	o.logger.Info().Str("instance", id).Msg("instance destroyed")
	o.record(id, types.EventDestroyed, "")
	return id, nil
}

// containerSpec builds the runtime spec for one instance.
func (o *Orchestrator) containerSpec(id string, port int, gatewayToken string) runtime.ContainerSpec {
	configDir := absPath(o.workspace.ConfigDir(id))
	workspaceDir := absPath(o.workspace.WorkspaceDir(id))

	return runtime.ContainerSpec{
		Image: o.cfg.Image,
		Env: []string{
			"HOME=/home/node",
			"TERM=xterm-256color",
			"OPENCLAW_GATEWAY_TOKEN=" + gatewayToken,
		},
		Binds: []runtime.Bind{
			{HostPath: configDir, ContainerPath: "/home/node/.openclaw"},
			{HostPath: workspaceDir, ContainerPath: "/home/node/.openclaw/workspace"},
		},
		Port: runtime.PortMapping{
			ContainerPort: config.ContainerPort,
			BindAddr:      o.cfg.TailscaleIP,
			HostPort:      port,
		},
		MemoryBytes:     512 * 1024 * 1024,
		MemorySwapBytes: 512 * 1024 * 1024,
		NanoCPUs:        500_000_000,
		Init:            true,
		CapDrop:         []string{"ALL"},
		CapAdd:          []string{"NET_BIND_SERVICE"},
		NoNewPrivileges: true,
		Command: []string{
			"node", "dist/index.js", "gateway",
			"--bind", "lan",
			"--port", strconv.Itoa(config.ContainerPort),
		},
	}
}

// record appends to the event journal when one is configured.
func (o *Orchestrator) record(id, kind, detail string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Append(id, kind, detail); err != nil {
		o.logger.Warn().Err(err).Str("instance", id).Msg("event journal append failed")
	}
}

// newGatewayToken returns 24 cryptographically random bytes, hex encoded.
func newGatewayToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating gateway token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// shortID truncates a runtime container ID to the conventional 12-char
// prefix stored on the record.
func shortID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
