// Package store holds the client-side read model for one topic.
//
// A Store is seeded by a hydration pull and then advanced by push events
// through a topic-specific merge rule. Readers only ever see deep copies,
// so a Snapshot can be kept or modified freely.
package store
