// Package connections defines the connection-registry boundary consumed by
// the routing layer, plus a websocket Gateway implementation that tracks
// connected players, their authoritative room locations and per-room
// subscription sets.
package connections
