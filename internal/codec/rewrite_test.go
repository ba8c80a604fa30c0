package codec

import (
	"testing"

	"github.com/kryptco/agilerpc/internal/wire"
)

// fakeRewriter treats every *remoteTag value as remote-capable and every
// other value as plain, so the codec's rewrite rules can be tested in
// isolation from the registry/handler packages.
type remoteTag struct{ id string }

type fakeRewriter struct {
	imported []wire.StubDescriptor
}

func (f *fakeRewriter) ExportRemote(v interface{}) (wire.StubDescriptor, bool, error) {
	if rt, ok := v.(*remoteTag); ok {
		return wire.StubDescriptor{ObjectID: rt.id, RemoteRegistryID: "reg1"}, true, nil
	}
	return wire.StubDescriptor{}, false, nil
}

func (f *fakeRewriter) ImportStub(desc wire.StubDescriptor) (interface{}, error) {
	f.imported = append(f.imported, desc)
	return &remoteTag{id: desc.ObjectID}, nil
}

func TestEncodeValuePlain(t *testing.T) {
	rw := &fakeRewriter{}
	val, err := EncodeValue(rw, 42)
	if err != nil {
		t.Fatal(err)
	}
	if val.Stub != nil {
		t.Fatal("plain value should not become a stub")
	}
	var out int
	if err := DecodeValue(rw, val, &out); err != nil {
		t.Fatal(err)
	}
	if out != 42 {
		t.Fatalf("out = %d, want 42", out)
	}
}

func TestEncodeValueRemote(t *testing.T) {
	rw := &fakeRewriter{}
	val, err := EncodeValue(rw, &remoteTag{id: "###1"})
	if err != nil {
		t.Fatal(err)
	}
	if val.Stub == nil || val.Stub.ObjectID != "###1" {
		t.Fatalf("expected a stub descriptor for ###1, got %+v", val)
	}

	var out interface{}
	if err := DecodeValue(rw, val, &out); err != nil {
		t.Fatal(err)
	}
	rt, ok := out.(*remoteTag)
	if !ok || rt.id != "###1" {
		t.Fatalf("decoded = %+v, want *remoteTag{id: ###1}", out)
	}
	if len(rw.imported) != 1 {
		t.Fatalf("ImportStub called %d times, want 1", len(rw.imported))
	}
}

func TestEncodeValueSlice(t *testing.T) {
	rw := &fakeRewriter{}
	in := []interface{}{1, &remoteTag{id: "a"}, 3}
	val, err := EncodeValue(rw, in)
	if err != nil {
		t.Fatal(err)
	}
	if val.Raw == nil {
		t.Fatal("expected a raw envelope for a mixed sequence")
	}
}

func TestEncodeValueNil(t *testing.T) {
	rw := &fakeRewriter{}
	val, err := EncodeValue(rw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(val.Raw) != "null" {
		t.Fatalf("raw = %s, want null", val.Raw)
	}
}

type cloneable struct {
	Name   string
	Remote interface{} `json:"remote,omitempty"`
}

func (c *cloneable) Clone() Serializable { cp := *c; return &cp }
func (c *cloneable) RemoteFields() map[string]interface{} {
	return map[string]interface{}{"remote": c.Remote}
}
func (c *cloneable) SetRemoteField(name string, v interface{}) {
	if name == "remote" {
		c.Remote = v
	}
}

func TestEncodeSerializableDoesNotMutateOriginal(t *testing.T) {
	rw := &fakeRewriter{}
	orig := &cloneable{Name: "x", Remote: &remoteTag{id: "###2"}}
	if _, err := EncodeValue(rw, orig); err != nil {
		t.Fatal(err)
	}
	if _, ok := orig.Remote.(*remoteTag); !ok {
		t.Fatal("original object's field was mutated by encoding")
	}
}
