/*
Package events is the durable lifecycle event journal.

Every operator action and reconciler detection appends one record: launched,
restarted, stopped, destroyed, crash_detected. The journal is a BoltDB
bucket keyed by sequence number, so the feed survives launcher restarts and
reads back newest first.
*/
package events
