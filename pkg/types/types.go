package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// IDLength is the length of a derived instance ID in hex characters.
const IDLength = 12

// DeriveID returns the stable instance ID for a wallet public key: the
// first 12 hex digits of the SHA-256 of the UTF-8 pubkey string. The same
// pubkey always maps to the same ID.
func DeriveID(pubkey string) string {
	sum := sha256.Sum256([]byte(pubkey))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// ValidPubkey reports whether a wallet public key is acceptable at the API
// boundary. Keys are opaque strings between 32 and 64 characters.
func ValidPubkey(pubkey string) bool {
	n := len(strings.TrimSpace(pubkey))
	return n >= 32 && n <= 64
}

// InstanceRecord is the persisted state for one instance. GatewayToken is a
// secret: it is generated exactly once at create time and must never appear
// in list responses or metrics output.
type InstanceRecord struct {
	Pubkey       string `json:"pubkey"`
	Port         int    `json:"port"`
	GatewayToken string `json:"gateway_token"`
	Created      int64  `json:"created"`
	LastStarted  int64  `json:"last_started"`
	ContainerID  string `json:"container_id"`
}

// WireInstance is the JSON shape returned by the HTTP API: a record plus its
// derived ID and current status. GatewayToken is omitted when empty, which is
// how the safe form stays safe.
type WireInstance struct {
	Pubkey       string `json:"pubkey"`
	Port         int    `json:"port"`
	GatewayToken string `json:"gateway_token,omitempty"`
	Created      int64  `json:"created"`
	LastStarted  int64  `json:"last_started"`
	ContainerID  string `json:"container_id"`
	ID           string `json:"id"`
	Status       string `json:"status"`
}

// Wire returns the full wire form of a record, including the gateway token.
// Only the create/restart path may send this to a caller.
func (r InstanceRecord) Wire(id string, status ContainerStatus) WireInstance {
	return WireInstance{
		Pubkey:       r.Pubkey,
		Port:         r.Port,
		GatewayToken: r.GatewayToken,
		Created:      r.Created,
		LastStarted:  r.LastStarted,
		ContainerID:  r.ContainerID,
		ID:           id,
		Status:       string(status),
	}
}

// SafeWire returns the wire form with the gateway token redacted. This is the
// only form surfaced by listings and conflict responses.
func (r InstanceRecord) SafeWire(id string, status ContainerStatus) WireInstance {
	w := r.Wire(id, status)
	w.GatewayToken = ""
	return w
}

// ContainerStatus is the observed state of an instance's container.
type ContainerStatus string

const (
	StatusStarting ContainerStatus = "starting"
	StatusRunning  ContainerStatus = "running"
	StatusExited   ContainerStatus = "exited"
	StatusDead     ContainerStatus = "dead"
	StatusRemoving ContainerStatus = "removing"
	StatusPaused   ContainerStatus = "paused"
	StatusNotFound ContainerStatus = "not_found"
	StatusUnknown  ContainerStatus = "unknown"

	// StatusUnreachable is reported by listings when the daemon itself could
	// not be contacted for a live lookup. It is never written to a snapshot.
	StatusUnreachable ContainerStatus = "docker_unreachable"
)

// Terminal reports whether a status represents a terminated or terminating
// container. A running→terminal transition observed by the reconciler counts
// as an unexpected exit.
func (s ContainerStatus) Terminal() bool {
	switch s {
	case StatusExited, StatusDead, StatusRemoving:
		return true
	}
	return false
}

// StatusSnapshot is the in-memory liveness and telemetry sample for one
// instance, refreshed by the reconciler.
type StatusSnapshot struct {
	Status      ContainerStatus
	CPUPercent  float64
	MemoryBytes uint64
	Updated     time.Time
}

// Event is one entry in the lifecycle event journal.
type Event struct {
	ID       uint64 `json:"id"`
	Time     int64  `json:"time"`
	Instance string `json:"instance"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail,omitempty"`
}

// Event kinds recorded by the controller and the reconciler.
const (
	EventLaunched      = "launched"
	EventRestarted     = "restarted"
	EventStopped       = "stopped"
	EventDestroyed     = "destroyed"
	EventCrashDetected = "crash_detected"
)
