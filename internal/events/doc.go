// Package events provides types and interfaces for an event-driven architecture.
//
// This package defines event types and handler interfaces that allow for loose
// coupling between components in the system. Services can emit events without
// knowing which handlers will process them; the job package registers a handler
// that turns each event into a persisted job. This keeps the dependency arrow
// pointing one way (the job pipeline may call back into services, services
// never import the pipeline).
//
// The primary components are:
// - JobRequestEvent: Represents a request to enqueue one background job
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
