// Package kafka adapts the delivery pipeline's transport contract onto Kafka
// topics with consumer-group readers. Offsets commit only after the handler
// succeeds, so failures are redelivered rather than lost.
package kafka
