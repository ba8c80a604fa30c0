// Package codec implements the framed MessageCodec (spec §4.1): a
// self-delimiting object stream between two ConnectionHandlers, plus the
// outgoing/incoming graph-rewrite rules that replace remote-capable values
// with proxy descriptors.
//
// Streams are strictly paired and stateful only within the lifetime of the
// process using them: every frame is independently decodable, there is no
// cross-frame reference table to reset (spec §4.1: "every frame resets any
// handle tables" — here that just means we never build one).
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/kryptco/agilerpc/internal/wire"
)

// maxFrameBytes bounds a single frame to guard against a corrupt or
// malicious length prefix forcing an unbounded allocation.
const maxFrameBytes = 64 << 20

// wireEnvelope is the on-the-wire JSON shape of a Message: a small
// tagged-union with exactly one populated body.
type wireEnvelope struct {
	Kind            wire.Kind              `json:"kind"`
	Invocation      *wire.Invocation       `json:"invocation,omitempty"`
	Return          *wire.Return           `json:"return,omitempty"`
	NewReference    *wire.ObjectRef        `json:"new_reference,omitempty"`
	Finalize        *wire.ObjectRef        `json:"finalize,omitempty"`
	ReferenceUse    *wire.ObjectRef        `json:"reference_use,omitempty"`
	RemoteInterface *wire.RemoteInterface  `json:"remote_interface,omitempty"`
	CodebaseUpdate  *wire.CodebaseUpdate   `json:"codebase_update,omitempty"`
	Interruption    *wire.Interruption     `json:"interruption,omitempty"`
}

func toEnvelope(m *wire.Message) wireEnvelope {
	return wireEnvelope{
		Kind:            m.Kind,
		Invocation:      m.Invocation,
		Return:          m.Return,
		NewReference:    m.NewReference,
		Finalize:        m.Finalize,
		ReferenceUse:    m.ReferenceUse,
		RemoteInterface: m.RemoteInterface,
		CodebaseUpdate:  m.CodebaseUpdate,
		Interruption:    m.Interruption,
	}
}

func (e wireEnvelope) toMessage() *wire.Message {
	return &wire.Message{
		Kind:            e.Kind,
		Invocation:      e.Invocation,
		Return:          e.Return,
		NewReference:    e.NewReference,
		Finalize:        e.Finalize,
		ReferenceUse:    e.ReferenceUse,
		RemoteInterface: e.RemoteInterface,
		CodebaseUpdate:  e.CodebaseUpdate,
		Interruption:    e.Interruption,
	}
}

// Stream is a framed reader/writer pair over a single connection. Writers
// and readers are independent; callers are expected to serialize their own
// writes (the ConnectionHandler owns the writer exclusively, per spec §5).
type Stream struct {
	r io.Reader
	w io.Writer

	writeMu sync.Mutex
}

func NewStream(r io.Reader, w io.Writer) *Stream {
	return &Stream{r: r, w: w}
}

// WriteMessage blocks until the frame is fully flushed (spec §4.1).
func (s *Stream) WriteMessage(m *wire.Message) error {
	body, err := json.Marshal(toEnvelope(m))
	if err != nil {
		return fmt.Errorf("codec: marshal message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := s.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("codec: write frame length: %w", err)
	}
	if _, err := s.w.Write(body); err != nil {
		return fmt.Errorf("codec: write frame body: %w", err)
	}
	if f, ok := s.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// ReadMessage blocks until a full frame is available (spec §4.1).
func (s *Stream) ReadMessage() (*wire.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("codec: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return nil, fmt.Errorf("codec: read frame body: %w", err)
	}
	var env wireEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("codec: decode frame: %w", err)
	}
	return env.toMessage(), nil
}
