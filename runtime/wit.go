package runtime

import (
	"fmt"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-space/handler"
)

// InterfacePackage is the WIT package of the capability interface.
const InterfacePackage = "space:capability@0.1.0"

// Param is a named function parameter.
type Param struct {
	Type wit.Type
	Name string
}

// Function describes one capability function as a guest sees it.
type Function struct {
	Result wit.Type
	Name   string
	Params []Param
	Op     handler.Operation
}

func named(name string, kind wit.TypeDefKind) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: kind}
}

func anonymous(kind wit.TypeDefKind) *wit.TypeDef {
	return &wit.TypeDef{Kind: kind}
}

var (
	witBytes   = anonymous(&wit.List{Type: wit.U8{}})
	witEntries = anonymous(&wit.List{Type: wit.String{}})

	witError = named("error", &wit.Record{Fields: []wit.Field{
		{Name: "phase", Type: wit.String{}},
		{Name: "kind", Type: wit.String{}},
		{Name: "detail", Type: wit.String{}},
	}})

	witContent = named("content", &wit.Variant{Cases: []wit.Case{
		{Name: "data", Type: witBytes},
		{Name: "entries", Type: witEntries},
	}})
)

func witResult(ok wit.Type) *wit.TypeDef {
	return anonymous(&wit.Result{OK: ok, Err: witError})
}

// CapabilityInterface returns the functions of the capability module in
// operation order.
func CapabilityInterface() []Function {
	addr := Param{Name: "address", Type: wit.String{}}
	fns := make([]Function, 0, len(handler.Operations()))
	for _, op := range handler.Operations() {
		f := Function{Name: op.String(), Op: op}
		switch op {
		case handler.OpRead:
			f.Params = []Param{addr}
			f.Result = witResult(witContent)
		case handler.OpWrite:
			f.Params = []Param{addr, {Name: "data", Type: witBytes}}
			f.Result = witResult(nil)
		case handler.OpList:
			f.Params = []Param{addr}
			f.Result = witResult(witEntries)
		case handler.OpInvoke:
			f.Params = []Param{addr, {Name: "data", Type: witBytes}}
			f.Result = witResult(witBytes)
		case handler.OpConfigure:
			f.Params = []Param{addr, {Name: "key", Type: wit.String{}}, {Name: "target", Type: wit.String{}}}
			f.Result = witResult(nil)
		}
		fns = append(fns, f)
	}
	return fns
}

// Signature renders f as a WIT function declaration without the trailing
// semicolon.
func (f Function) Signature() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Name + ": " + TypeString(p.Type)
	}
	sig := f.Name + ": func(" + strings.Join(params, ", ") + ")"
	if f.Result != nil {
		sig += " -> " + TypeString(f.Result)
	}
	return sig
}

// RenderWIT renders the capability interface as a WIT document.
func RenderWIT() string {
	var b strings.Builder
	fmt.Fprintf(&b, "package %s;\n\n", InterfacePackage)
	b.WriteString("interface capability {\n")
	for _, td := range []*wit.TypeDef{witError, witContent} {
		writeTypeDef(&b, td)
		b.WriteByte('\n')
	}
	for _, f := range CapabilityInterface() {
		fmt.Fprintf(&b, "    %s;\n", f.Signature())
	}
	b.WriteString("}\n\n")
	b.WriteString("world guest {\n    import capability;\n}\n")
	return b.String()
}

func writeTypeDef(b *strings.Builder, td *wit.TypeDef) {
	switch k := td.Kind.(type) {
	case *wit.Record:
		fmt.Fprintf(b, "    record %s {\n", *td.Name)
		for _, f := range k.Fields {
			fmt.Fprintf(b, "        %s: %s,\n", f.Name, TypeString(f.Type))
		}
		b.WriteString("    }\n")
	case *wit.Variant:
		fmt.Fprintf(b, "    variant %s {\n", *td.Name)
		for _, c := range k.Cases {
			if c.Type == nil {
				fmt.Fprintf(b, "        %s,\n", c.Name)
				continue
			}
			fmt.Fprintf(b, "        %s(%s),\n", c.Name, TypeString(c.Type))
		}
		b.WriteString("    }\n")
	}
}

// TypeString renders a WIT type reference.
func TypeString(t wit.Type) string {
	switch v := t.(type) {
	case nil:
		return "_"
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		return kindString(v.Kind)
	default:
		return fmt.Sprintf("%T", t)
	}
}

func kindString(k wit.TypeDefKind) string {
	switch v := k.(type) {
	case *wit.List:
		return "list<" + TypeString(v.Type) + ">"
	case *wit.Option:
		return "option<" + TypeString(v.Type) + ">"
	case *wit.Result:
		switch {
		case v.OK == nil && v.Err == nil:
			return "result"
		case v.Err == nil:
			return "result<" + TypeString(v.OK) + ">"
		default:
			return "result<" + TypeString(v.OK) + ", " + TypeString(v.Err) + ">"
		}
	case *wit.Tuple:
		parts := make([]string, len(v.Types))
		for i, t := range v.Types {
			parts[i] = TypeString(t)
		}
		return "tuple<" + strings.Join(parts, ", ") + ">"
	default:
		return fmt.Sprintf("%T", k)
	}
}
