// Package events provides a synchronous, type-filtered publish/subscribe bus.
//
// Producers publish immutable event payloads after the corresponding store
// mutation has succeeded; consumers subscribe by event type and are invoked
// inline on the publisher's goroutine. There is no queuing, no persistence,
// and no delivery guarantee beyond "handlers registered at publish time run
// once".
//
// The primary components are:
// - Event: the interface implemented by all payloads
// - Bus / InMemoryBus: the publish/subscribe surface and its implementation
// - Subscription: a cancellable handler registration
package events
