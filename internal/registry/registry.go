// Package registry implements the process-wide ReferenceTable and export
// policy (spec §3 Registry, §4 "Registry core").
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"

	"github.com/kryptco/agilerpc/internal/collab"
	"github.com/kryptco/agilerpc/internal/skeleton"
)

var log = logging.MustGetLogger("registry")

// registryIDNibbles is the spec's "80-hex-nibble random token" — 320 bits.
const registryIDNibbles = 80
const registryIDBytes = registryIDNibbles / 2

// IdentityKey is how the registry tells two Go values apart by identity
// rather than equality: the pointer value of an addressable object. Callers
// must publish objects as pointers (documented on the public façade).
type IdentityKey uintptr

// Handler is the slice of ConnectionHandler the registry needs, kept as an
// interface here so this package never imports internal/handler (handler
// imports registry, not the other way around).
type Handler interface {
	RemoteRegistryID() string
	Disposed() bool
}

// Config mirrors spec §6's configuration parameter table, already resolved
// to concrete values (defaults applied by the public façade).
type Config struct {
	LatencyTime        time.Duration
	LeaseTime          time.Duration
	InvocationCacheCap int
	AutoReferencing    bool
	IdentifierPrefix   string
	WorkerPoolSize     int
	OutboundQueueSize  int
	ReconnectAttempts  int
	ReconnectBudget    time.Duration

	Authenticator   collab.Authenticator
	EndpointFactory collab.ProtocolEndpointFactory
	ClassLoaders    collab.ClassLoaderFactory
	FaultHandler    collab.FaultHandler
}

type exportedInterface struct {
	typ reflect.Type
}

// Registry is the process-wide ReferenceTable plus export policy.
type Registry struct {
	mu sync.Mutex

	selfID string
	cfg    Config

	byID       map[string]*skeleton.Skeleton
	byIdentity map[IdentityKey]*skeleton.Skeleton
	names      map[string]*skeleton.Skeleton

	autoRemote []exportedInterface

	handlers map[string][]Handler // remote registry id -> handler pool

	listenPort int32
	host       atomic.Value // string

	nextAutoID uint64
}

func New(cfg Config) (*Registry, error) {
	id, err := randomHexToken(registryIDBytes)
	if err != nil {
		return nil, fmt.Errorf("registry: generating self id: %w", err)
	}
	if cfg.IdentifierPrefix == "" {
		cfg.IdentifierPrefix = "###"
	}
	if cfg.InvocationCacheCap <= 0 {
		cfg.InvocationCacheCap = 50
	}
	r := &Registry{
		selfID:     id,
		cfg:        cfg,
		byID:       map[string]*skeleton.Skeleton{},
		byIdentity: map[IdentityKey]*skeleton.Skeleton{},
		names:      map[string]*skeleton.Skeleton{},
		handlers:   map[string][]Handler{},
	}
	r.host.Store("")
	return r, nil
}

func randomHexToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (r *Registry) SelfID() string { return r.selfID }
func (r *Registry) Config() Config { return r.cfg }

func (r *Registry) SetListenPort(port int) { atomic.StoreInt32(&r.listenPort, int32(port)) }
func (r *Registry) ListenPort() int        { return int(atomic.LoadInt32(&r.listenPort)) }

// SetHost records the address peers should use to dial back to this
// registry, advertised in the handshake and in share-eligible stub
// descriptors (spec §4.1 rule 2).
func (r *Registry) SetHost(host string) { r.host.Store(host) }
func (r *Registry) Host() string        { return r.host.Load().(string) }

// identityOf computes the pointer-identity key for obj; obj must be a
// pointer or interface wrapping a pointer for "at most one skeleton per
// identity" (spec §3 Skeleton invariants) to hold.
func identityOf(obj interface{}) (IdentityKey, bool) {
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if v.IsNil() {
			return 0, false
		}
		return IdentityKey(v.Pointer()), true
	default:
		return 0, false
	}
}

// skeletonFor returns the existing skeleton for obj's identity, if any.
func (r *Registry) skeletonFor(obj interface{}) (*skeleton.Skeleton, bool) {
	key, ok := identityOf(obj)
	if !ok {
		return nil, false
	}
	s, ok := r.byIdentity[key]
	return s, ok
}

// publishLocked creates (or reuses) the skeleton for obj. Caller holds r.mu.
func (r *Registry) publishLocked(obj interface{}, id string) *skeleton.Skeleton {
	if s, ok := r.skeletonFor(obj); ok {
		return s
	}
	s := skeleton.New(id, obj, r.cfg.InvocationCacheCap, r.onSkeletonUnpublish)
	r.byID[id] = s
	if key, ok := identityOf(obj); ok {
		r.byIdentity[key] = s
	}
	return s
}

// Publish binds obj under name, creating its skeleton if needed (spec §3
// Skeleton lifecycle: "created on first publish"; §3 Skeleton attributes:
// "identifier (auto `###<n>` or user-chosen)" — a fresh object published
// under a name takes that name as its identifier directly, so a peer that
// already knows the name can address it without a separate name-resolution
// round trip).
func (r *Registry) Publish(name string, obj interface{}) (*skeleton.Skeleton, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.names[name]; ok {
		if s, same := r.skeletonFor(obj); !same || s != existing {
			return nil, fmt.Errorf("registry: name %q already bound to a different object", name)
		}
	}
	var id string
	if s, ok := r.skeletonFor(obj); ok {
		id = s.ID()
	} else if _, taken := r.byID[name]; !taken {
		id = name
	} else {
		id = r.nextAutoIDLocked()
	}
	s := r.publishLocked(obj, id)
	s.BindName(name)
	r.names[name] = s
	log.Noticef("published %q as %s", name, id)
	return s, nil
}

// PublishAuto publishes obj under an auto-generated identifier without
// binding a name (used for automatic referencing, spec §4.1 rules 3-4).
func (r *Registry) PublishAuto(obj interface{}) *skeleton.Skeleton {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.skeletonFor(obj); ok {
		return s
	}
	id := r.nextAutoIDLocked()
	return r.publishLocked(obj, id)
}

func (r *Registry) nextAutoIDLocked() string {
	r.nextAutoID++
	return fmt.Sprintf("%s%d", r.cfg.IdentifierPrefix, r.nextAutoID)
}

// Unpublish removes name's binding; if the skeleton becomes eligible
// (no names, zero refs) it schedules removal after LatencyTime (spec §4.2).
func (r *Registry) Unpublish(name string) error {
	r.mu.Lock()
	s, ok := r.names[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: no object published as %q", name)
	}
	delete(r.names, name)
	r.mu.Unlock()

	if eligible := s.UnbindName(name); eligible {
		s.ScheduleRemoval(r.cfg.LatencyTime)
	}
	return nil
}

// onSkeletonUnpublish is the idempotent removal callback passed to every
// skeleton (spec §9 "Race between DGC periodic scan and per-skeleton
// scheduled removal: both may fire; idempotent unpublish is mandatory").
func (r *Registry) onSkeletonUnpublish(s *skeleton.Skeleton) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID()]; !ok {
		return // already removed by a racing caller
	}
	delete(r.byID, s.ID())
	if key, ok := identityOf(s.Object()); ok {
		delete(r.byIdentity, key)
	}
	log.Noticef("unpublished %s", s.ID())
}

// Lookup resolves a bound name to its skeleton.
func (r *Registry) Lookup(name string) (*skeleton.Skeleton, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.names[name]
	return s, ok
}

// SkeletonByID resolves a raw object id (used when decoding stubs and
// Invocation messages).
func (r *Registry) SkeletonByID(id string) (*skeleton.Skeleton, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// IdentityLookup resolves obj back to its skeleton if one exists (spec
// §4.1 rule 3: "any other local stub is re-published ... A value whose
// declared or actual class is in the auto-remote set, and which is not yet
// published, is auto-published").
func (r *Registry) IdentityLookup(obj interface{}) (*skeleton.Skeleton, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skeletonFor(obj)
}

// errMarkerInterface rejects the zero-method interface shape that stands in
// for the "marker remote interface" of spec §8 scenario 6: it conveys no
// dispatchable method.
var errMarkerInterface = fmt.Errorf("registry: cannot export a zero-method marker interface")
var errNotInterface = fmt.Errorf("registry: only interfaces may be exported as auto-remote")

// ExportInterface registers iface as auto-remote (spec §4.1 rule 4, §3
// Registry invariant "an abstract/concrete class is never auto-remote
// (interfaces only)", §8 scenario 6).
func (r *Registry) ExportInterface(iface reflect.Type) error {
	if iface.Kind() != reflect.Interface {
		return errNotInterface
	}
	if iface.NumMethod() == 0 {
		return errMarkerInterface
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ei := range r.autoRemote {
		if ei.typ == iface {
			return nil
		}
	}
	r.autoRemote = append(r.autoRemote, exportedInterface{typ: iface})
	return nil
}

// AutoRemoteMatch reports whether v's type implements one of the
// registered auto-remote interfaces (spec §4.1 rule 4).
func (r *Registry) AutoRemoteMatch(v interface{}) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ei := range r.autoRemote {
		if t.Implements(ei.typ) {
			return true
		}
	}
	return false
}

// InterfaceNamesOf returns the names of every auto-remote interface obj's
// type implements, for answering a RemoteInterface request (spec §4.3).
func (r *Registry) InterfaceNamesOf(obj interface{}) []string {
	if obj == nil {
		return nil
	}
	t := reflect.TypeOf(obj)
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, ei := range r.autoRemote {
		if t.Implements(ei.typ) {
			names = append(names, ei.typ.String())
		}
	}
	return names
}

// RegisterHandler adds h to the pool for its remote registry id (supports
// spec §6 "multi-connection mode").
func (r *Registry) RegisterHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := h.RemoteRegistryID()
	r.handlers[id] = append(r.handlers[id], h)
}

func (r *Registry) UnregisterHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := h.RemoteRegistryID()
	pool := r.handlers[id]
	for i, existing := range pool {
		if existing == h {
			r.handlers[id] = append(pool[:i], pool[i+1:]...)
			break
		}
	}
	if len(r.handlers[id]) == 0 {
		delete(r.handlers, id)
	}
}

// HandlersFor returns the live (non-disposed) handler pool for a remote
// registry id, used by StubCore to find a sibling connection to reconnect
// over (spec §4.4 step 5).
func (r *Registry) HandlersFor(remoteRegistryID string) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []Handler
	for _, h := range r.handlers[remoteRegistryID] {
		if !h.Disposed() {
			live = append(live, h)
		}
	}
	return live
}

// AllHandlers returns every live handler across every remote registry id,
// used for an orderly registry-wide shutdown.
func (r *Registry) AllHandlers() []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []Handler
	for _, pool := range r.handlers {
		for _, h := range pool {
			if !h.Disposed() {
				all = append(all, h)
			}
		}
	}
	return all
}

// Skeletons returns a snapshot of all published skeletons, used by the DGC
// sweep (spec §4.5).
func (r *Registry) Skeletons() []*skeleton.Skeleton {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*skeleton.Skeleton, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}
