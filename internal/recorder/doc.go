// Package recorder writes applied state changes to PostgreSQL.
//
// Observations are queued without blocking the subscription, accumulated
// into batches, and inserted with pgx.Batch either when a batch fills or on
// every flush interval. Inserts are append-only and idempotent on the
// observation id.
package recorder
