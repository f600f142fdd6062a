// Package wasmspace hosts a tree of addressable resources and runs
// WebAssembly apps that reach the rest of the tree only through host
// capabilities.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	wasmspace/
//	├── address/         Address and template grammar
//	├── resource/        Sharded handle table with borrow counts
//	├── registry/        Resource records, versions, bindings and lifecycle
//	├── resolve/         Address and binding resolution to handles
//	├── router/          Capability dispatch, locking and diagnostics
//	├── handler/         Space, FileSystem, ConfigBundle and App kinds
//	├── bundle/          Zip config bundles with sub-path reads
//	├── store/           Artifact storage and the command journal
//	├── runtime/         Host assembly and the wazero guest boundary
//	├── command/         CLI command tuples and journal replay
//	├── config/          Configuration loading and validation
//	├── telemetry/       Logging, metrics and tracing
//	├── errors/          Structured error types
//	└── cmd/space/       Command line host, admin endpoint and terminal
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, config.InMemory())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	rt.Create(ctx, "localhost<Space>")
//	rt.Publish(ctx, "localhost:config", "1.0.0", bundleZip)
//	rt.Set(ctx, "localhost::config", "localhost:config:1.0.0")
//
// # Addresses
//
// An address is host:name:...[:version][:/path]. A template appends a kind,
// as in localhost:web<App>. A property of a resource is addressed as
// resource::key and is bound to another address or to a literal value.
//
// # Lifecycle
//
// Resources move from Unconfigured through Configuring to Ready. Any fault
// moves them to Failed, which is terminal until the resource is deleted and
// created again. Only Ready resources serve capability operations.
//
// # Thread Safety
//
// Registry, Router and Runtime are safe for concurrent use. Writes to one
// resource are serialized; operations on disjoint resources run in parallel.
// Every App invoke runs in its own guest instance.
package wasmspace
