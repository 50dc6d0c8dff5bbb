// Package model defines shared data types used across the session monitor.
//
// Types mirror the JSON documents served by the session server:
//   - SessionSummary: one entry of GET /sessions
//   - SessionState: the opaque document of GET /sessions/{id}/state
//   - Topic: what a subscription is attached to (one session, or the lobby)
//
// Conventions:
//   - Session state documents are never interpreted by the client
//   - Session IDs are opaque strings chosen by the server
package model
