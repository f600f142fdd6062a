// Package errors provides structured error types for the wasm-space core.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the resource address, the attempted operation and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRoute, errors.KindNotReady).
//		Address("localhost:my-app").
//		Operation("invoke").
//		Detail("resource is configuring").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.DuplicateVersion("localhost:config", "1.0.0")
//	err := errors.Fault("localhost:my-app", "invoke", cause)
//
// Matching with errors.Is compares Kind, and Phase when the target sets one:
//
//	errors.Is(err, &errors.Error{Kind: errors.KindNotFound})
package errors
