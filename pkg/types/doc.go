/*
Package types defines the core data structures of the launcher.

The tenancy identifier is an opaque wallet public key; DeriveID maps it to a
stable 12-character hex instance ID. InstanceRecord is the persisted,
authoritative state for an instance, StatusSnapshot is the in-memory view the
reconciler keeps fresh, and WireInstance is the JSON shape the HTTP API
speaks.

The gateway token inside InstanceRecord is a secret. Code that builds API
responses must go through SafeWire unless it is the create-or-restart path,
which alone returns the full record.
*/
package types
