// Package connection implements the push channel to the session server.
//
// Client wraps a single websocket connection: it dials, reads raw frames,
// keeps the link alive with pings, and reports why it ended. Reconnecting
// owns one Client at a time for a topic and re-dials with exponential
// backoff whenever the connection closes, until the subscription is
// stopped.
package connection
