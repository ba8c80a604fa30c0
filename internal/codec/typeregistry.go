package codec

import (
	"reflect"
	"sync"
)

// typeRegistry maps the wire-level type names carried in Invocation.ParamTypes
// / Return.ReturnType to concrete Go types. Spec §9 calls this out
// explicitly: "In statically-typed targets, restrict to explicit
// serializable descriptors or registered types" in place of Java's
// unrestricted reflective field walk. Primitives are registered by
// default; application types must call RegisterType once at startup.
var (
	regMu  sync.RWMutex
	byName = map[string]reflect.Type{}
)

func init() {
	RegisterType("string", "")
	RegisterType("bool", false)
	RegisterType("int", int(0))
	RegisterType("int32", int32(0))
	RegisterType("int64", int64(0))
	RegisterType("float32", float32(0))
	RegisterType("float64", float64(0))
	RegisterType("bytes", []byte(nil))
}

// RegisterType associates name with the type of sample so values of that
// type can be named on the wire and reconstructed on decode.
func RegisterType(name string, sample interface{}) {
	regMu.Lock()
	defer regMu.Unlock()
	byName[name] = reflect.TypeOf(sample)
}

// RegisterNamedType is RegisterType for a reflect.Type obtained directly
// (e.g. an interface type via reflect.TypeOf((*Foo)(nil)).Elem()).
func RegisterNamedType(name string, t reflect.Type) {
	regMu.Lock()
	defer regMu.Unlock()
	byName[name] = t
}

// TypeByName resolves a wire type name back to a reflect.Type.
func TypeByName(name string) (reflect.Type, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	t, ok := byName[name]
	return t, ok
}

// NameOf returns the best-effort wire name for t: its registered alias if
// one exists, otherwise its fully-qualified Go type name.
func NameOf(t reflect.Type) string {
	if t == nil {
		return "interface{}"
	}
	regMu.RLock()
	for name, rt := range byName {
		if rt == t {
			regMu.RUnlock()
			return name
		}
	}
	regMu.RUnlock()
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
