// Package api provides the REST client for the session server.
//
// Pull endpoints (used for hydration, never retried):
//   - GET /sessions              ordered list of session summaries
//   - GET /sessions/{id}/state   opaque session state document
//
// Mutation endpoints (glue, retried only when configured):
//   - POST /sessions               create a session from a player list
//   - POST /sessions/{id}/actions  submit an action, returns the new state
package api
