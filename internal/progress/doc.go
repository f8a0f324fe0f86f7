// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that scrapers, workflows and the orchestrator use to
// report what they are doing. The hub batches events on a background
// goroutine and fans them out to pluggable sinks such as the live
// broadcaster, Prometheus metrics, the run store, or Pub/Sub.
package progress
