// Package sinks implements concrete progress consumers: live broadcast to
// subscribers, structured logging, Prometheus collectors, run history
// persistence and run notices on a message bus. Each sink satisfies the
// progress.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
