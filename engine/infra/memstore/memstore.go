// Package memstore provides in-memory repository doubles used in development
// mode, where the engine runs without Postgres attached. Semantics mirror the
// engine/infra/postgres implementations, including error sentinels and
// lifecycle guards, so components behave the same against either store.
package memstore

import "time"

func nowUTC() time.Time {
	return time.Now().UTC()
}
