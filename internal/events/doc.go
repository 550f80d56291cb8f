// Package events provides types and interfaces for task lifecycle
// notifications.
//
// The engine publishes an event whenever a task changes state. Handlers
// subscribe without the engine knowing who is listening, which keeps
// observability concerns (audit logs, metrics bridges, webhooks) out of
// the processing path.
//
// The primary components are:
// - LifecycleEvent: a task state change with its surrounding context
// - Handler: interface for components that consume events
// - Emitter: interface for components that publish events
package events
