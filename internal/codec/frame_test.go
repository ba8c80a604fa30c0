package codec

import (
	"bytes"
	"testing"

	"github.com/kryptco/agilerpc/internal/wire"
)

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf, &buf)

	msg := &wire.Message{
		Kind: wire.KindInvocation,
		Invocation: &wire.Invocation{
			ID:         7,
			ObjectID:   "###1",
			Method:     "Say",
			ParamTypes: []string{"string"},
			Params:     []wire.Value{{Raw: []byte(`"hi"`)}},
		},
	}
	if err := s.WriteMessage(msg); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != wire.KindInvocation {
		t.Fatalf("kind = %v, want Invocation", got.Kind)
	}
	if got.Invocation.ID != 7 || got.Invocation.Method != "Say" {
		t.Fatalf("invocation = %+v", got.Invocation)
	}
}

func TestStreamMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf, &buf)

	for i := uint64(0); i < 5; i++ {
		msg := &wire.Message{Kind: wire.KindReferenceUse, ReferenceUse: &wire.ObjectRef{ObjectID: "obj"}}
		if err := s.WriteMessage(msg); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		got, err := s.ReadMessage()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got.Kind != wire.KindReferenceUse {
			t.Fatalf("frame %d: kind = %v", i, got.Kind)
		}
	}
}
