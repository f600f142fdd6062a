// Package wasmtest assembles small core WebAssembly modules for tests.
package wasmtest

import "bytes"

// Value types
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

// Section ids
const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
)

// Export kinds
const (
	kindFunc   = 0x00
	kindMemory = 0x02
)

// Opcodes used by the test guests.
const (
	OpUnreachable   = 0x00
	OpLoop          = 0x03
	OpBr            = 0x0c
	OpEnd           = 0x0b
	OpCall          = 0x10
	OpLocalGet      = 0x20
	OpLocalSet      = 0x21
	OpGlobalGet     = 0x23
	OpGlobalSet     = 0x24
	OpI32Const      = 0x41
	OpI64Const      = 0x42
	OpI32Add        = 0x6a
	OpI64Or         = 0x84
	OpI64Shl        = 0x86
	OpI64ExtendI32U = 0xad
	blockEmpty      = 0x40
)

// FuncType is a function signature.
type FuncType struct {
	Params  []byte
	Results []byte
}

type importFunc struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	locals  []byte
	body    []byte
	typeIdx uint32
}

type export struct {
	name string
	kind byte
	idx  uint32
}

// Module accumulates sections. Imported functions take the first function
// indices, so all imports must be added before any Func.
type Module struct {
	types     []FuncType
	imports   []importFunc
	funcs     []function
	exports   []export
	globals   []int32
	memory    uint32
	hasMemory bool
}

// Type adds a signature, reusing an identical one.
func (m *Module) Type(ft FuncType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(t.Params, ft.Params) && bytes.Equal(t.Results, ft.Results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

// Import adds an imported function and returns its index.
func (m *Module) Import(module, name string, ft FuncType) uint32 {
	m.imports = append(m.imports, importFunc{module: module, name: name, typeIdx: m.Type(ft)})
	return uint32(len(m.imports) - 1)
}

// Func adds a function with extra locals and returns its index.
// body excludes the trailing end opcode.
func (m *Module) Func(ft FuncType, locals []byte, body ...byte) uint32 {
	m.funcs = append(m.funcs, function{typeIdx: m.Type(ft), locals: locals, body: body})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory declares the module memory with min pages and exports it.
func (m *Module) Memory(pages uint32) {
	m.memory = pages
	m.hasMemory = true
	m.exports = append(m.exports, export{name: "memory", kind: kindMemory})
}

// Global adds a mutable i32 global.
func (m *Module) Global(init int32) uint32 {
	m.globals = append(m.globals, init)
	return uint32(len(m.globals) - 1)
}

// Export exports function idx as name.
func (m *Module) Export(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: kindFunc, idx: idx})
}

// Encode renders the module binary.
func (m *Module) Encode() []byte {
	var w bytes.Buffer
	w.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	if len(m.types) > 0 {
		var sec bytes.Buffer
		sec.Write(U32(uint32(len(m.types))))
		for _, t := range m.types {
			sec.WriteByte(0x60)
			sec.Write(U32(uint32(len(t.Params))))
			sec.Write(t.Params)
			sec.Write(U32(uint32(len(t.Results))))
			sec.Write(t.Results)
		}
		writeSection(&w, sectionType, sec.Bytes())
	}

	if len(m.imports) > 0 {
		var sec bytes.Buffer
		sec.Write(U32(uint32(len(m.imports))))
		for _, imp := range m.imports {
			writeName(&sec, imp.module)
			writeName(&sec, imp.name)
			sec.WriteByte(kindFunc)
			sec.Write(U32(imp.typeIdx))
		}
		writeSection(&w, sectionImport, sec.Bytes())
	}

	if len(m.funcs) > 0 {
		var sec bytes.Buffer
		sec.Write(U32(uint32(len(m.funcs))))
		for _, f := range m.funcs {
			sec.Write(U32(f.typeIdx))
		}
		writeSection(&w, sectionFunction, sec.Bytes())
	}

	if m.hasMemory {
		var sec bytes.Buffer
		sec.Write(U32(1))
		sec.WriteByte(0x00)
		sec.Write(U32(m.memory))
		writeSection(&w, sectionMemory, sec.Bytes())
	}

	if len(m.globals) > 0 {
		var sec bytes.Buffer
		sec.Write(U32(uint32(len(m.globals))))
		for _, g := range m.globals {
			sec.WriteByte(I32)
			sec.WriteByte(0x01)
			sec.WriteByte(OpI32Const)
			sec.Write(S64(int64(g)))
			sec.WriteByte(OpEnd)
		}
		writeSection(&w, sectionGlobal, sec.Bytes())
	}

	if len(m.exports) > 0 {
		var sec bytes.Buffer
		sec.Write(U32(uint32(len(m.exports))))
		for _, e := range m.exports {
			writeName(&sec, e.name)
			sec.WriteByte(e.kind)
			sec.Write(U32(e.idx))
		}
		writeSection(&w, sectionExport, sec.Bytes())
	}

	if len(m.funcs) > 0 {
		var sec bytes.Buffer
		sec.Write(U32(uint32(len(m.funcs))))
		for _, f := range m.funcs {
			var body bytes.Buffer
			body.Write(U32(uint32(len(f.locals))))
			for _, l := range f.locals {
				body.Write(U32(1))
				body.WriteByte(l)
			}
			body.Write(f.body)
			body.WriteByte(OpEnd)
			sec.Write(U32(uint32(body.Len())))
			sec.Write(body.Bytes())
		}
		writeSection(&w, sectionCode, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *bytes.Buffer, id byte, data []byte) {
	w.WriteByte(id)
	w.Write(U32(uint32(len(data))))
	w.Write(data)
}

func writeName(w *bytes.Buffer, s string) {
	w.Write(U32(uint32(len(s))))
	w.WriteString(s)
}

// U32 encodes v as unsigned LEB128.
func U32(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// S64 encodes v as signed LEB128.
func S64(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}
