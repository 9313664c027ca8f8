// Package sqlite persists the tactical picture audit log.
//
// It is an adapter, not a pipeline stage: it drains records from an
// events.Sink into a SQLite database whose schema is managed by embedded
// golang-migrate migrations. Payloads are stored as JSON text.
package sqlite
