// Package rabbitmq adapts the delivery pipeline's transport contract onto a
// RabbitMQ topic exchange. Subjects are routing keys; each subscription gets
// its own durable queue and consumer channel.
package rabbitmq
