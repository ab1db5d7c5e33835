// Package ws implements the WebSocket health stream for the bazaar cache.
//
// Hub manages a set of connected clients and broadcasts the cache health
// summary to all of them on a configurable interval (server.stream.interval,
// default 5s) and immediately after each successful refresh.
//
// New(src, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast loop and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.Notify() requests an out-of-band broadcast.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// summary on connect, then streams updates.
//
// Message format sent to clients:
//
//	{
//	  "event": "health",
//	  "data":  { "cached_items": 1234, "last_updated": 1700000000000 }
//	}
//
// Clients that want fresh prices re-query /search or /item after a message
// whose last_updated changed. The upgrader accepts all origins; apply CORS
// restrictions at the reverse proxy. The endpoint is mounted at /ws/stream.
package ws
