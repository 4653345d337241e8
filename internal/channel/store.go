// Package channel defines the realtime store surface the session protocol is
// built on: path-scoped value subscriptions, ordered appends, and best-effort
// disconnect cleanup. The protocol layer consumes this interface; it never
// talks to a concrete store directly.
package channel

// ValueFunc receives the latest value at a path. A nil value means the path
// does not exist (or was removed).
type ValueFunc func(value []byte)

// AppendFunc receives one appended child, identified by its ordered key.
type AppendFunc func(key string, value []byte)

// Subscription is a handle to an active subscription. After Cancel returns,
// no new deliveries begin; a delivery already in flight may complete.
type Subscription interface {
	Cancel()
}

// Hook is a registered disconnect cleanup. Cancel revokes it so it never
// fires; canceling an already-fired or already-canceled hook is a no-op.
type Hook interface {
	Cancel()
}

// Store exposes the shared data primitives. Deliveries are ordered per path
// and at-least-once for append channels; consumers must handle reprocessing
// idempotently.
type Store interface {
	// SubscribeValue fires immediately with the current value at the path,
	// then once per change. Removal delivers a nil value.
	SubscribeValue(path string, fn ValueFunc) Subscription
	// SubscribeAppend fires once per appended child in append order,
	// including children appended before the subscription was made.
	SubscribeAppend(path string, fn AppendFunc) Subscription
	// Write replaces the value at the path.
	Write(path string, value []byte) error
	// Append stores a child under the path and returns its ordered key.
	Append(path string, value []byte) (string, error)
	// Remove deletes the path and everything beneath it.
	Remove(path string) error
	// RemoveChild deletes one appended child by key.
	RemoveChild(path, key string) error
	// Read returns the current value at the path, or nil if absent. One-shot;
	// no subscription is made.
	Read(path string) ([]byte, error)
}

// Conn is one client's connection to a store. Disconnect hooks registered on
// a Conn fire when the Conn closes without the hook being canceled first;
// this is the mechanism underlying presence.
type Conn interface {
	Store
	// OnDisconnectRemove schedules removal of the path when this connection
	// drops. The returned Hook cancels the scheduled removal.
	OnDisconnectRemove(path string) (Hook, error)
	// Close releases the connection, firing any uncanceled disconnect hooks.
	Close()
}
