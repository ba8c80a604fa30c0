package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/kryptco/agilerpc/internal/wire"
)

// Rewriter supplies the registry/connection-specific policy that the codec's
// graph walk needs but must not own directly (spec §4.1): whether a value
// is already a stub and share-eligible, whether it qualifies for automatic
// referencing, and how to turn an incoming descriptor back into a local
// object or a live stub bound to the delivering connection.
type Rewriter interface {
	// ExportRemote is consulted for every value in the outgoing graph. It
	// returns ok=false for plain values. For remote-capable values it
	// applies rules 2-4 of spec §4.1 (share-eligible passthrough, routing
	// through re-publish, or auto-publish) and returns the descriptor to
	// put on the wire.
	ExportRemote(v interface{}) (desc wire.StubDescriptor, ok bool, err error)

	// ImportStub is the decode-side inverse: loopback collapse when the
	// descriptor resolves locally, otherwise a live stub bound to the
	// connection that delivered it.
	ImportStub(desc wire.StubDescriptor) (interface{}, error)
}

// ErrNotSerializable is returned (wrapped) when a value in an outgoing
// graph cannot be encoded; spec §4.1 "Failure semantics".
type ErrNotSerializable struct {
	Type string
	Err  error
}

func (e *ErrNotSerializable) Error() string {
	return fmt.Sprintf("codec: value of type %s is not serializable: %v", e.Type, e.Err)
}
func (e *ErrNotSerializable) Unwrap() error { return e.Err }

// EncodeValue applies the §4.1 rewrite rules to a single outgoing value.
// Arrays/slices get elementwise treatment (rule 6); a struct value that
// opts into deep rewriting via the Serializable interface is shallow-cloned
// before its fields are substituted (rule 5), so the caller's original
// graph is never mutated.
func EncodeValue(rw Rewriter, v interface{}) (wire.Value, error) {
	if v == nil {
		return wire.Value{Raw: []byte("null")}, nil
	}

	if desc, ok, err := rw.ExportRemote(v); err != nil {
		return wire.Value{}, err
	} else if ok {
		return wire.Value{Stub: &desc}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return encodeSequence(rw, rv)
	case reflect.Ptr:
		if rv.IsNil() {
			return wire.Value{Raw: []byte("null")}, nil
		}
		if s, ok := v.(Serializable); ok {
			return encodeSerializable(rw, s)
		}
	case reflect.Struct:
		if s, ok := v.(Serializable); ok {
			return encodeSerializable(rw, s)
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return wire.Value{}, &ErrNotSerializable{Type: rv.Type().String(), Err: err}
	}
	return wire.Value{Raw: raw}, nil
}

// Serializable is implemented by struct types that want their exported,
// remote-capable fields rewritten on send (spec §4.1 rule 5). RemoteFields
// returns the current values of the fields eligible for rewriting, keyed by
// name; Clone returns a shallow copy the codec is free to mutate through
// SetRemoteField.
type Serializable interface {
	Clone() Serializable
	RemoteFields() map[string]interface{}
	SetRemoteField(name string, v interface{})
}

func encodeSerializable(rw Rewriter, s Serializable) (wire.Value, error) {
	clone := s.Clone()
	for name, field := range s.RemoteFields() {
		if desc, ok, err := rw.ExportRemote(field); err != nil {
			return wire.Value{}, err
		} else if ok {
			clone.SetRemoteField(name, desc)
		}
	}
	raw, err := json.Marshal(clone)
	if err != nil {
		return wire.Value{}, &ErrNotSerializable{Type: reflect.TypeOf(s).String(), Err: err}
	}
	return wire.Value{Raw: raw}, nil
}

func encodeSequence(rw Rewriter, rv reflect.Value) (wire.Value, error) {
	n := rv.Len()
	elems := make([]json.RawMessage, n)
	stubs := make(map[int]wire.StubDescriptor)
	for i := 0; i < n; i++ {
		elem := rv.Index(i).Interface()
		val, err := EncodeValue(rw, elem)
		if err != nil {
			return wire.Value{}, err
		}
		if val.Stub != nil {
			stubs[i] = *val.Stub
			elems[i] = json.RawMessage("null")
		} else {
			elems[i] = json.RawMessage(val.Raw)
		}
	}
	raw, err := json.Marshal(elems)
	if err != nil {
		return wire.Value{}, &ErrNotSerializable{Type: rv.Type().String(), Err: err}
	}
	if len(stubs) == 0 {
		return wire.Value{Raw: raw}, nil
	}
	// Mixed sequence: encode as a small envelope carrying both the plain
	// elements and the out-of-band stub descriptors keyed by index.
	env := struct {
		Elems json.RawMessage           `json:"elems"`
		Stubs map[int]wire.StubDescriptor `json:"stubs"`
	}{Elems: raw, Stubs: stubs}
	wrapped, err := json.Marshal(env)
	if err != nil {
		return wire.Value{}, &ErrNotSerializable{Type: rv.Type().String(), Err: err}
	}
	return wire.Value{Raw: wrapped}, nil
}

// DecodeValue reverses EncodeValue for plain values and for a top-level
// stub descriptor. out must be a pointer to the destination type; for a
// value that was a stub on the wire it will be set to the result of
// Rewriter.ImportStub if out is an interface{} or a compatible type. Stub
// descriptors nested inside a mixed-sequence envelope or inside a
// Serializable's fields are not resolved: the raw JSON is unmarshalled into
// out as it is.
func DecodeValue(rw Rewriter, val wire.Value, out interface{}) error {
	if val.Stub != nil {
		resolved, err := rw.ImportStub(*val.Stub)
		if err != nil {
			return err
		}
		return assign(out, resolved)
	}
	if len(val.Raw) == 0 || string(val.Raw) == "null" {
		return nil
	}
	return json.Unmarshal(val.Raw, out)
}

func assign(out interface{}, v interface{}) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("codec: decode target must be a non-nil pointer")
	}
	elem := rv.Elem()
	if v == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	vv := reflect.ValueOf(v)
	if !vv.Type().AssignableTo(elem.Type()) {
		if vv.Type().ConvertibleTo(elem.Type()) {
			elem.Set(vv.Convert(elem.Type()))
			return nil
		}
		return fmt.Errorf("codec: cannot assign %s to %s", vv.Type(), elem.Type())
	}
	elem.Set(vv)
	return nil
}
