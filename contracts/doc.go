// Package contracts provides the core message types shared across the
// chatrelay pipeline.
//
// It defines:
//   - ChatMessage: an inbound message tagged with a logical channel
//   - ChatEvent: the outbound event delivered to connected clients
//   - Channel: a closed enumeration of known channels with an explicit
//     unknown variant
//   - The error taxonomy (validation, transient, unhandled) used by the
//     pipeline to choose between retry and dead-lettering
//
// All wire types serialize to JSON and are stable across service versions.
package contracts
