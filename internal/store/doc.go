// Package store persists tasks, execution logs and cluster mutex rows.
//
// Two drivers: postgres (pgx, FOR UPDATE SKIP LOCKED — the multi-replica
// deployment) and sqlite (modernc, single replica; claim exclusivity comes
// from the conditional lock update alone).
package store
