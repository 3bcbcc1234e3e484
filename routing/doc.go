// Package routing dispatches validated messages to their channel's delivery
// policy: room-scoped fan-out with mute and location filtering, global and
// system broadcast, direct whisper, and a safe no-op for unknown channels.
//
// The dispatch boundary contains every strategy failure; nothing that
// happens during fan-out can propagate back into the ingestion loop.
package routing
