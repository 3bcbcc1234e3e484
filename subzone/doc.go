// Package subzone maps coarse-grained world geography to transport
// subscriptions. Subzones are reference counted: the first player entering a
// subzone opens the upstream subscription, the last one leaving closes it.
// Player movement between rooms drives the bookkeeping.
package subzone
