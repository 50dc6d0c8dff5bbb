// Package router turns raw push-channel frames into typed events.
//
// Every frame is a JSON envelope {"type": ..., "data": ...}. Known types
// decode into StateSnapshot or EntityAppeared; any other type becomes
// Unknown and is ignored by consumers. A frame that cannot be decoded is
// reported as a *ParseError and dropped without affecting the connection.
package router
