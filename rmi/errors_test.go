package rmi

import (
	"errors"
	"testing"
)

func TestClassifyMapsWireClassesToConcreteTypes(t *testing.T) {
	cases := []struct {
		class string
		check func(error) bool
	}{
		{"NoSuchMethod", func(e error) bool { _, ok := e.(*NoSuchMethodError); return ok }},
		{"IllegalArgument", func(e error) bool { _, ok := e.(*IllegalArgumentError); return ok }},
		{"Access", func(e error) bool { _, ok := e.(*AccessError); return ok }},
		{"AuthorizationError", func(e error) bool { _, ok := e.(*AuthorizationError); return ok }},
		{"TransportError", func(e error) bool { _, ok := e.(*TransportError); return ok }},
		{"DisposedError", func(e error) bool { _, ok := e.(*DisposedError); return ok }},
		{"TargetError", func(e error) bool { _, ok := e.(*TargetError); return ok }},
		{"SomethingUnrecognized", func(e error) bool { _, ok := e.(*TargetError); return ok }},
	}
	for _, c := range cases {
		err := classify(c.class, "boom")
		if !c.check(err) {
			t.Errorf("classify(%q, ...) = %T, wrong concrete type", c.class, err)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &TransportError{Cause: cause}
	if errors.Unwrap(err) != cause {
		t.Fatal("TransportError.Unwrap() did not return the wrapped cause")
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see through Unwrap to the cause")
	}
}
