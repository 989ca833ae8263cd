// Package wsconn owns the lifecycle of a single WebSocket connection:
// dialing, heartbeat, exponential-backoff reconnection, per-connection
// metrics and raw send/receive. It exposes a uniform async contract
// independent of transport detail; pooling and routing live elsewhere.
package wsconn
