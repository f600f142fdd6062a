package wasmtest

// HeapBase is where the guest bump allocator starts. The range below it
// is scratch space for host responses.
const (
	HeapBase    = 8192
	ScratchBase = 1024
	ScratchSize = 4096
)

var (
	// Export signature: (ptr, len) -> (ptr << 32) | len.
	exportType = FuncType{Params: []byte{I32, I32}, Results: []byte{I64}}
	// Host capability signature: (req_ptr, req_len, resp_ptr, resp_cap) -> i64.
	hostType    = FuncType{Params: []byte{I32, I32, I32, I32}, Results: []byte{I64}}
	reallocType = FuncType{Params: []byte{I32, I32, I32, I32}, Results: []byte{I32}}
)

// Guest returns a module speaking the capability ABI. Its exports:
//
//	echo     returns its input
//	read     forwards its input as a request envelope to host read
//	list     forwards its input to host list
//	write    forwards its input to host write
//	invoke   forwards its input to host invoke
//	fail     traps
//	spin     loops until interrupted
//
// Forwarding exports return the raw response envelope.
func Guest() []byte {
	m := &Module{}
	forwarded := []string{"read", "list", "write", "invoke"}
	imports := make(map[string]uint32, len(forwarded))
	for _, name := range forwarded {
		imports[name] = m.Import("space:capability", name, hostType)
	}

	m.Memory(1)
	heap := m.Global(HeapBase)

	realloc := m.Func(reallocType, nil,
		OpGlobalGet, byte(heap),
		OpGlobalGet, byte(heap),
		OpLocalGet, 3,
		OpI32Add,
		OpGlobalSet, byte(heap),
	)
	m.Export("cabi_realloc", realloc)

	m.Export("echo", m.Func(exportType, nil, pack(0, 1)...))

	for _, name := range forwarded {
		m.Export(name, m.Func(exportType, []byte{I64}, forward(imports[name])...))
	}

	m.Export("fail", m.Func(exportType, nil, OpUnreachable))
	m.Export("spin", m.Func(exportType, nil,
		OpLoop, blockEmpty,
		OpBr, 0,
		OpEnd,
		OpUnreachable,
	))
	return m.Encode()
}

// Importing returns a module that imports module#name and exports a run
// function that does nothing.
func Importing(module, name string) []byte {
	m := &Module{}
	m.Import(module, name, hostType)
	m.Memory(1)
	m.Export("run", m.Func(exportType, nil, OpI64Const, 0))
	return m.Encode()
}

// pack leaves (local ptr << 32) | local len on the stack.
func pack(ptr, length byte) []byte {
	return []byte{
		OpLocalGet, ptr,
		OpI64ExtendI32U,
		OpI64Const, 32,
		OpI64Shl,
		OpLocalGet, length,
		OpI64ExtendI32U,
		OpI64Or,
	}
}

// forward calls host function fn with the export input as request and the
// scratch area as response buffer, returning the written response.
// Local 2 holds the host result.
func forward(fn uint32) []byte {
	body := []byte{
		OpLocalGet, 0,
		OpLocalGet, 1,
		OpI32Const,
	}
	body = append(body, S64(ScratchBase)...)
	body = append(body, OpI32Const)
	body = append(body, S64(ScratchSize)...)
	body = append(body, OpCall)
	body = append(body, U32(fn)...)
	body = append(body, OpLocalSet, 2)
	body = append(body, OpI64Const)
	body = append(body, S64(ScratchBase)...)
	body = append(body,
		OpI64Const, 32,
		OpI64Shl,
		OpLocalGet, 2,
		OpI64Or,
	)
	return body
}
