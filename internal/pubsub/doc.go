// Package pubsub implements the subscription registry and notification
// fan-out for connected clients.
//
// A client opts into a named event by subscribing; the registry issues a
// 10-digit key for the subscription, stores it in the client's session and
// records it in an event index. Any part of the server can then call
// Registry.Emit to notify every live subscriber of that event.
//
// # Ownership
//
// The connection's session is the only owner of a Subscription. The event
// index stores (connection ID, key) identifiers and resolves them through the
// session store at emit time, so a subscription disappears from fan-out as
// soon as its session is removed or the key is unsubscribed. Dead identifiers
// are pruned lazily; Registry.Disconnect prunes a connection's identifiers
// eagerly at teardown.
//
// # Variants
//
// The event and the payload shaping of a Subscription come from its
// Behavior. Event is the plain variant. Behaviors may additionally implement
// PayloadProcessor, AfterDeliverer and AfterSubscriber.
//
// # Acknowledgement ordering
//
// Subscribe returns an Ack. If the behavior has an AfterSubscribe step it is
// held by the Ack and only runs when the caller invokes Ack.Complete, which
// transports do after writing the subscribe response.
package pubsub
