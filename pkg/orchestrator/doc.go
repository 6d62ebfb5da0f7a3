/*
Package orchestrator is the lifecycle kernel of the launcher.

It binds the durable instance store, the Docker runtime adapter, and the
workspace provisioner into the operator-facing operations: Launch, Stop,
Destroy, List, StatsFor. Launch and the store's exclusive section together
guarantee that two concurrent launches for one pubkey can never mint two
records, two ports, or two gateway tokens.

The package also owns the shared in-memory state: a status snapshot per
instance and a restart counter, both guarded by one mutex that is only ever
held for map operations. A background reconciler (StartReconciler, one per
process) refreshes the snapshot every period, detects unexpected
running→terminated transitions, and keeps the snapshot key set a subset of
the store's. Operator actions are authoritative; the reconciler only
observes.
*/
package orchestrator
