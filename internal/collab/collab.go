// Package collab defines the external-collaborator interfaces the core
// consumes (spec §6) and ships one reference implementation of each, in
// the teacher's style of shipping a default alongside an interface
// (EnclaveClientI / EnclaveClient in krd/enclave_client.go).
package collab

import (
	"net"

	"github.com/op/go-logging"
	"golang.org/x/crypto/bcrypt"
)

var log = logging.MustGetLogger("collab")

// Authenticator performs mutual authentication during the handshake and
// per-invocation authorization (spec §4.3, §6). Both methods may block.
type Authenticator interface {
	Authenticate(remoteAddr net.Addr, authID, passphrase string) bool
	Authorize(authID string, targetObjectID string, method string) bool
}

// ProtocolEndpointFactory wraps raw byte streams into layered streams,
// e.g. TLS or compression (spec §6).
type ProtocolEndpointFactory interface {
	Wrap(conn net.Conn) (net.Conn, error)
}

// ClassLoaderFactory yields a classloader for inbound unknown types given a
// codebase URL (spec §6, code-mobility — optional).
type ClassLoaderFactory interface {
	ClassLoaderFor(codebaseURL string) (interface{}, error)
}

// FaultHandler receives (handler-id, exception) notifications on disposal;
// it must never itself throw (spec §6, §7 "Fault isolation").
type FaultHandler interface {
	OnFault(handlerID string, err error)
}

// InMemoryAuthenticator is a reference Authenticator keyed by authID,
// storing only bcrypt hashes of passphrases (never the passphrase itself)
// — see SPEC_FULL.md §11 for why bcrypt replaces the teacher's nacl/box
// pairing crypto here.
type InMemoryAuthenticator struct {
	hashes map[string][]byte
	allow  func(authID, objectID, method string) bool
}

// NewInMemoryAuthenticator builds an authenticator from a set of
// authID->passphrase pairs (hashed immediately) and an authorization
// predicate; a nil predicate authorizes everything.
func NewInMemoryAuthenticator(passphrases map[string]string, allow func(authID, objectID, method string) bool) (*InMemoryAuthenticator, error) {
	hashes := make(map[string][]byte, len(passphrases))
	for id, pass := range passphrases {
		h, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hashes[id] = h
	}
	return &InMemoryAuthenticator{hashes: hashes, allow: allow}, nil
}

func (a *InMemoryAuthenticator) Authenticate(_ net.Addr, authID, passphrase string) bool {
	hash, ok := a.hashes[authID]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(passphrase)) == nil
}

func (a *InMemoryAuthenticator) Authorize(authID, objectID, method string) bool {
	if a.allow == nil {
		return true
	}
	return a.allow(authID, objectID, method)
}

// LoggingFaultHandler is the default FaultHandler: it logs and never
// panics, so one misbehaving observer can never cascade (spec §7).
type LoggingFaultHandler struct{}

func (LoggingFaultHandler) OnFault(handlerID string, err error) {
	log.Warningf("connection %s faulted: %v", handlerID, err)
}

// SafeFaultHandler wraps an arbitrary FaultHandler and recovers from any
// panic it raises, satisfying "an exception thrown by a FaultHandler
// callback is swallowed" even for user-supplied handlers (spec §7).
func SafeFaultHandler(inner FaultHandler) FaultHandler {
	return safeFaultHandler{inner}
}

type safeFaultHandler struct{ inner FaultHandler }

func (s safeFaultHandler) OnFault(handlerID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("fault handler panicked, swallowing: %v", r)
		}
	}()
	s.inner.OnFault(handlerID, err)
}

// PlainProtocolEndpointFactory passes connections through unmodified; the
// default when no TLS/compression layering is configured.
type PlainProtocolEndpointFactory struct{}

func (PlainProtocolEndpointFactory) Wrap(conn net.Conn) (net.Conn, error) { return conn, nil }
