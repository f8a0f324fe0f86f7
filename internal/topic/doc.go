// Package topic defines monitored topics, their sources and schedules, the
// items scraped for them, and the Registry that owns topic state.
//
// Topics are values: every accessor on Registry returns a copy, so callers
// never share mutable state with the registry.
package topic
