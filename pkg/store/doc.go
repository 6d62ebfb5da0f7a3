/*
Package store persists the instance ID → record mapping.

The backing format is a single key-sorted JSON document at a fixed path,
small enough to rewrite wholesale. Mutations run inside Update, which holds
an advisory exclusive file lock for the whole read-modify-write cycle; the
lifecycle controller relies on this to serialize concurrent launches for the
same pubkey. Rewrites go through a temp file plus rename so a crash mid-write
never corrupts the store.

Pure reads use Load, which skips the lock and tolerates racing rewrites by
retrying once on a parse failure.
*/
package store
