/*
Package runtime is a narrow, synchronous façade over the Docker Engine API.

It exposes only what the launcher needs (create, start, stop, remove,
inspect, a single stats sample, and log tail/follow), with a bounded timeout
on every call. Errors cross the boundary in a closed taxonomy: ErrNotFound
(the daemon answered, the container does not exist), ErrUnreachable (the
daemon was not contactable), or *APIError (the daemon responded with an
error, message truncated). Raw client errors never leak upward.

The underlying client is lazily initialized once per process and is safe for
concurrent use, so a single Docker value is shared by request handlers and
the reconciler alike.
*/
package runtime
