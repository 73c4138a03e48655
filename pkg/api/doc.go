/*
Package api is the HTTP control surface of the Behemoth control plane.

It exposes plan and execution lifecycle endpoints, worker and asset
management, the agent callback endpoint, and a websocket stream of
per-task log lines. The callback endpoint is the only write path the
remote agent uses: it reports one command result at a time and is told
whether to continue with the next command. Any non-2xx answer makes the
agent abort, so recoverable conditions are reported inside a 200 body
with continue=false.

Batches launched from handlers run in the background with their own
context so they survive the originating request.
*/
package api
