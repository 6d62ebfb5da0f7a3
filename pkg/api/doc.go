/*
Package api is the operator-facing HTTP surface.

It exposes the lifecycle operations (launch, stop, destroy), listings and
stats, log tailing and live log streams, the workspace file editor, the
lifecycle event feed, metrics, and health. Routing is chi; responses are
JSON except for /metrics and the stream endpoints.

Paths under /api/ are guarded by the launcher token when one is configured.
/health and /metrics are always public.
*/
package api
