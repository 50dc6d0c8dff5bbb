// Package subscription composes hydration, the reconnecting push channel
// and the per-topic store into a single observable read model.
//
// A Controller has at most one active topic. Activating a topic creates a
// fresh store, pulls the initial value in the background, and opens the
// push channel at the same time; every event from the channel is merged
// into the store. Deactivating (or activating another topic) stops the
// channel and discards the store. Results that arrive for a topic that is
// no longer active are dropped.
package subscription
