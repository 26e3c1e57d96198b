/*
Package events provides an in-memory broker for Bay lifecycle events.

The events package implements a lightweight event bus broadcasting
sandbox, session, cargo, and garbage collection events to interested
subscribers. Delivery is asynchronous and best effort: a subscriber whose
buffer is full misses events rather than blocking the publisher, so a
slow consumer can never stall a capability request.

# Event types

Sandbox lifecycle:
  - sandbox.created
  - sandbox.stopped
  - sandbox.deleted

Session lifecycle:
  - session.ready
  - session.degraded
  - session.failed

Resources:
  - cargo.created
  - cargo.deleted
  - gc.reclaimed

# Usage

The managers publish through the process-wide broker installed by Init:

	broker := events.Init()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for event := range sub {
			fmt.Printf("%s %v\n", event.Type, event.Metadata)
		}
	}()

Publishing before Init is a no-op, which keeps tests free of broker
setup.
*/
package events
