// Package workflow runs ordered, named steps over a per-run state value and
// records one status per step. Daily and Weekly are the two pipelines the
// orchestrator triggers: the daily scan scrapes and analyzes a topic's
// sources, the weekly digest turns the week's articles into an email.
//
// A step that fails halts the run. Its node is marked failed, the nodes after
// it stay pending, and the result reports success=false with whatever was
// gathered up to that point. Steps that deliberately do nothing return an
// error wrapping ErrSkipped and the run carries on.
package workflow
