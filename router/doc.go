// Package router dispatches capability operations to resource handlers.
//
// Every routed operation runs under a per-address lock: write, invoke and
// configure hold it exclusively, read and list share it. Operations on
// different addresses never contend. Before dispatch the router gates the
// operation on the resource's lifecycle state:
//
//	read, list    any state except Failed
//	write, invoke Ready only
//	configure     any state except Failed
//
// A Failed resource answers only a diagnostic read, served from the
// registry record without calling its handler.
//
// Handler errors that reject the request are returned annotated with the
// address and operation. Any other handler error is a fault: the resource
// moves to Failed and the caller receives resource_fault.
//
// Operations started from inside a handler carry the chain of held
// addresses in their context. Routing back to an address already held by
// the chain fails with reentrant instead of deadlocking.
package router
