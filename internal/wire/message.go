// Package wire defines the framed message variants exchanged between two
// registries over a single TCP connection (spec §3, §6).
package wire

// Kind discriminates the closed set of message variants. The wire format
// is a tagged union: every frame is a 4-byte big-endian length followed by
// a JSON envelope that carries the Kind as a field next to the body of the
// matching shape.
type Kind byte

const (
	KindInvocation Kind = iota + 1
	KindReturn
	KindNewReference
	KindFinalize
	KindReferenceUse
	KindRemoteInterface
	KindCodebaseUpdate
	KindInterruption
)

func (k Kind) String() string {
	switch k {
	case KindInvocation:
		return "Invocation"
	case KindReturn:
		return "Return"
	case KindNewReference:
		return "NewReference"
	case KindFinalize:
		return "Finalize"
	case KindReferenceUse:
		return "ReferenceUse"
	case KindRemoteInterface:
		return "RemoteInterface"
	case KindCodebaseUpdate:
		return "CodebaseUpdate"
	case KindInterruption:
		return "Interruption"
	default:
		return "Unknown"
	}
}

// StubDescriptor is the on-wire representation of a remote-capable value
// after MessageCodec rewrite (spec §4.1). ObjectID and RemoteRegistryID
// identify the skeleton on its owning registry; Host/Port let a receiver
// dial the origin directly when the stub is share-eligible.
type StubDescriptor struct {
	ObjectID         string   `json:"object_id"`
	RemoteRegistryID string   `json:"remote_registry_id"`
	Host             string   `json:"host"`
	Port             int      `json:"port"`
	Interfaces       []string `json:"interfaces,omitempty"`
}

// ErrorDescriptor carries a thrown/propagated error across the wire
// (spec §6 Return: "error descriptor (with class name, message, cause
// chain, stack frames)").
type ErrorDescriptor struct {
	Class   string            `json:"class"`
	Message string            `json:"message"`
	Cause   *ErrorDescriptor  `json:"cause,omitempty"`
	Frames  []string          `json:"frames,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Value is an encoded argument/return slot. Exactly one of Raw or Stub is
// set; Raw holds the JSON encoding of a plain (non-remote) value.
type Value struct {
	Raw  []byte          `json:"raw,omitempty"`
	Stub *StubDescriptor `json:"stub,omitempty"`
}

// Invocation carries a method call (spec §6).
type Invocation struct {
	ID            uint64   `json:"id"`
	ObjectID      string   `json:"object_id"`
	Method        string   `json:"method"`
	ParamTypes    []string `json:"param_types"`
	Params        []Value  `json:"params"`
	Async         bool     `json:"async"`
	RemoteRegID   string   `json:"remote_registry_id"`
}

// Return carries the outcome of an Invocation.
type Return struct {
	InvocationID uint64           `json:"invocation_id"`
	ReturnType   string           `json:"return_type,omitempty"`
	Value        *Value           `json:"value,omitempty"`
	Error        *ErrorDescriptor `json:"error,omitempty"`
}

// NewReference, Finalize and ReferenceUse all carry only an object id.
type ObjectRef struct {
	ObjectID string `json:"object_id"`
}

// RemoteInterface doubles as request (Interfaces == nil) and response
// (Interfaces != nil), discriminated by presence of the payload.
// CorrelationID is a UUID rather than a sequence counter so that
// introspection requests from independent stubs racing on the same
// connection can never collide (see RequestRemoteInterfaces in
// internal/handler, which generates it).
type RemoteInterface struct {
	CorrelationID string   `json:"correlation_id"`
	ObjectID      string   `json:"object_id"`
	Interfaces    []string `json:"interfaces,omitempty"`
}

// CodebaseUpdate piggybacks classloader hints (optional, code-mobility).
type CodebaseUpdate struct {
	SourceURLs []string `json:"source_urls"`
}

// Interruption asks the peer to cooperatively cancel an in-flight call.
type Interruption struct {
	InvocationID uint64 `json:"invocation_id"`
}

// Message is the envelope written/read by the codec. Exactly one payload
// field is populated, matching Kind.
type Message struct {
	Kind            Kind
	Invocation      *Invocation
	Return          *Return
	NewReference    *ObjectRef
	Finalize        *ObjectRef
	ReferenceUse    *ObjectRef
	RemoteInterface *RemoteInterface
	CodebaseUpdate  *CodebaseUpdate
	Interruption    *Interruption
}
