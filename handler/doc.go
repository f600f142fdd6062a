// Package handler defines the contract between the router and resource
// type handlers.
//
// A handler implements the capabilities of one resource kind over the
// uniform operation set (read, write, list, invoke, configure). Handlers
// receive a Request built from registry snapshots and return a Result; they
// never mutate registry records. A handler may ask for at most one lifecycle
// transition per call through Result.Transitions, which the router validates
// and records.
//
// Errors returned by handlers fall into two groups. Request rejections
// (not_found, unsupported_operation, invalid_input and similar) are returned
// to the caller unchanged. Anything else is a fault: the router moves the
// resource to Failed and reports resource_fault.
package handler
