// Package runtime assembles a wasm-space host and runs App guests.
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
//	rt.Create(ctx, "localhost:www<FileSystem>")
//	rt.Write(ctx, "localhost:www:/index.html", []byte("<html>"))
//	res, _ := rt.Read(ctx, "localhost:www:/index.html")
//
// # Guest Boundary
//
// Guests import the capability functions from the "space:capability"
// module:
//
//	read, write, list, invoke, configure
//	    (req_ptr i32, req_len i32, resp_ptr i32, resp_cap i32) -> i64
//
// The request is a JSON Request copied out of guest memory. The host
// copies a JSON Response into the buffer at resp_ptr and returns the
// number of bytes written. When the buffer is too small the result is the
// negated size needed and nothing is written; -1 reports a request or
// buffer outside guest memory.
//
// Invoked exports take (ptr i32, len i32) and return (out_ptr << 32) | out_len.
// Input is placed with the guest's cabi_realloc. Every invoke runs on a
// fresh instance of the compiled module, so guests keep no state between
// calls.
//
// Capability calls made by a guest run with the caller's held addresses,
// so a guest calling back into the App it runs in fails with a reentrant
// error instead of deadlocking.
//
// RenderWIT prints the same interface in WIT.
package runtime
