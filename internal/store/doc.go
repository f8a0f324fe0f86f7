// Package store defines the persistence contracts used by the pipeline:
// topic, source, article and run repositories plus the blob store that
// archives digests. Implementations live under internal/storage; this
// package must not import database drivers or concrete clients.
package store
