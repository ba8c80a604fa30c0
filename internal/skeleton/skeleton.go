// Package skeleton implements the server-side record for one exposed
// object (spec §3 Skeleton, §4.2).
package skeleton

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/op/go-logging"

	"github.com/kryptco/agilerpc/internal/codec"
	"github.com/kryptco/agilerpc/internal/wire"
)

var log = logging.MustGetLogger("skeleton")

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// Unreferenced is the optional capability an exposed object may implement;
// it is invoked once, after the grace period, when a skeleton is actually
// unpublished (spec §3 "lifecycle").
type Unreferenced interface {
	Unreferenced()
}

// cacheKey is the invocation-cache key: spec §9 Open Questions keeps this
// scoped to (remote-registry-id, invocation-id) only; callers must
// guarantee id uniqueness per remote registry.
type cacheKey struct {
	remoteRegistryID string
	invocationID     uint64
}

type cacheEntry struct {
	result interface{}
	thrown error
}

// DispatchError is returned by Invoke for failures that occur before the
// target method runs (no side effect occurred, so these are never cached).
type DispatchError struct {
	Kind    string // "NoSuchMethod" | "IllegalArgument" | "Access"
	Message string
}

func (e *DispatchError) Error() string { return e.Kind + ": " + e.Message }

// Skeleton is the server-side record for one locally exposed object.
type Skeleton struct {
	mu sync.Mutex

	id     string
	object interface{}
	value  reflect.Value

	names     map[string]struct{}
	refCounts map[string]uint // handler id -> count
	aggregate uint
	lastUse   time.Time

	cache         *lru.Cache
	remoteIfaces  []string
	removalTimer  *time.Timer

	// onUnpublish is the registry's removal hook, invoked from
	// fireUnpublish when a scheduled removal, a DGC sweep or Unpublish
	// actually removes the skeleton. The registry owns disposal so that the
	// two skeleton maps (id->skeleton, identity->skeleton) stay consistent.
	onUnpublish func(*Skeleton)

	// forward, when set, makes this skeleton a routing forwarder (spec
	// §4.1 rule 3): the skeleton's "object" is a local stub to some other
	// origin, so invocations are relayed wire-to-wire instead of being
	// dispatched by reflection.
	forward ForwardFunc
}

// ForwardFunc relays an invocation to another connection and returns the
// reply, unchanged at the wire level (spec §4.1 rule 3 "routing").
type ForwardFunc func(remoteRegistryID string, invocationID uint64, method string, paramTypes []string, params []wire.Value) (wire.Value, *wire.ErrorDescriptor, error)

// SetForward installs a routing forwarder for this skeleton (only valid
// immediately after construction, before any Invoke call).
func (s *Skeleton) SetForward(f ForwardFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward = f
}

// New constructs a Skeleton for obj, identified by id, with a bounded
// invocation-cache capacity (spec §4.2).
func New(id string, obj interface{}, cacheCapacity int, onUnpublish func(*Skeleton)) *Skeleton {
	if cacheCapacity <= 0 {
		cacheCapacity = 50
	}
	return &Skeleton{
		id:          id,
		object:      obj,
		value:       reflect.ValueOf(obj),
		names:       map[string]struct{}{},
		refCounts:   map[string]uint{},
		lastUse:     time.Now(),
		cache:       lru.New(cacheCapacity),
		onUnpublish: onUnpublish,
	}
}

func (s *Skeleton) ID() string        { return s.id }
func (s *Skeleton) Object() interface{} { return s.object }

func (s *Skeleton) BindName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name] = struct{}{}
	s.cancelScheduledRemovalLocked()
}

// UnbindName removes name and reports whether the skeleton is now eligible
// for scheduled removal (no names, zero aggregate refs).
func (s *Skeleton) UnbindName(name string) (eligible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, name)
	return len(s.names) == 0 && s.aggregate == 0
}

func (s *Skeleton) NameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// AddRef increments the per-handler and aggregate reference counts
// (spec §4.2 addRef). Cancels any pending scheduled removal.
func (s *Skeleton) AddRef(handlerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCounts[handlerID]++
	s.aggregate++
	s.cancelScheduledRemovalLocked()
}

// RemoveRef decrements counts, clamped at zero (defensive clamp, spec §4.2).
// Returns whether the skeleton is now eligible for scheduled removal.
func (s *Skeleton) RemoveRef(handlerID string) (eligible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refCounts[handlerID] > 0 {
		s.refCounts[handlerID]--
		s.aggregate--
	}
	return len(s.names) == 0 && s.aggregate == 0
}

// RemoveAllRefs drops every reference attributed to handlerID, e.g. on
// ConnectionHandler disposal (spec §4.3 Disposal).
func (s *Skeleton) RemoveAllRefs(handlerID string) (eligible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.refCounts[handlerID]; n > 0 {
		if s.aggregate >= n {
			s.aggregate -= n
		} else {
			s.aggregate = 0
		}
		delete(s.refCounts, handlerID)
	}
	return len(s.names) == 0 && s.aggregate == 0
}

func (s *Skeleton) Aggregate() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregate
}

func (s *Skeleton) LastUse() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUse
}

func (s *Skeleton) UpdateLastUse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUse = time.Now()
}

// Eligible reports whether the skeleton currently has no names and no
// outstanding references (the DGC safety-net condition, spec §4.5).
func (s *Skeleton) Eligible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names) == 0 && s.aggregate == 0
}

// ScheduleRemoval arms the per-skeleton removal timer for latency; if the
// condition no longer holds when it fires, nothing happens (idempotent,
// spec §9 DGC/timer race).
func (s *Skeleton) ScheduleRemoval(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelScheduledRemovalLocked()
	s.removalTimer = time.AfterFunc(latency, func() {
		if s.Eligible() {
			s.fireUnpublish()
		}
	})
}

func (s *Skeleton) cancelScheduledRemovalLocked() {
	if s.removalTimer != nil {
		s.removalTimer.Stop()
		s.removalTimer = nil
	}
}

// Unpublish immediately fires the unpublish callback and, if present, the
// object's Unreferenced capability — the DGC periodic sweep's entry point
// (spec §4.5), as opposed to ScheduleRemoval's timer-delayed version used
// by the per-skeleton fast path (spec §4.2).
func (s *Skeleton) Unpublish() {
	s.fireUnpublish()
}

func (s *Skeleton) fireUnpublish() {
	if s.onUnpublish != nil {
		s.onUnpublish(s)
	}
	if u, ok := s.object.(Unreferenced); ok {
		u.Unreferenced()
	}
}

// Invoke resolves methodName by name and exact parameter types, decodes the
// wire-level parameters through rw (applying the §4.1 import rules to any
// embedded stub descriptors), dispatches, and re-encodes the outcome
// through rw. A cache hit on (remoteRegistryID, invocationID)
// short-circuits execution entirely, giving the at-most-once guarantee
// under reconnection (spec §4.2). If the target method's first parameter
// is a context.Context, ctx is threaded through so an Interruption message
// can cooperatively cancel it (spec §4.3 "Interruption").
func (s *Skeleton) Invoke(ctx context.Context, rw codec.Rewriter, remoteRegistryID string, invocationID uint64, methodName string, paramTypes []string, params []wire.Value) (ret wire.Value, thrown *wire.ErrorDescriptor, derr error) {
	s.mu.Lock()
	forward := s.forward
	s.mu.Unlock()
	if forward != nil {
		return forward(remoteRegistryID, invocationID, methodName, paramTypes, params)
	}

	key := cacheKey{remoteRegistryID, invocationID}

	s.mu.Lock()
	if cached, ok := s.cache.Get(key); ok {
		s.mu.Unlock()
		entry := cached.(cacheEntry)
		log.Debugf("skeleton %s: invocation cache hit for %s/%d", s.id, remoteRegistryID, invocationID)
		return s.encodeOutcome(rw, entry.result, entry.thrown)
	}
	s.mu.Unlock()

	// hashCode (spec §4.4 step 1) is a built-in, not a method the exposed
	// object implements: Go's lowercase-initial export rule means no
	// object can ever define a callable "hashCode" of its own, so this
	// runtime answers it directly from the skeleton's identity rather than
	// rejecting it as unexported.
	if methodName == "hashCode" && len(params) == 0 {
		result := s.identityHash()
		s.mu.Lock()
		s.cache.Add(key, cacheEntry{result: result, thrown: nil})
		s.lastUse = time.Now()
		s.mu.Unlock()
		return s.encodeOutcome(rw, result, nil)
	}

	method, derr := s.resolveMethod(methodName, len(params))
	if derr != nil {
		return wire.Value{}, nil, derr
	}

	args, derr := s.decodeArgs(ctx, rw, method.Type(), params)
	if derr != nil {
		return wire.Value{}, nil, derr
	}

	result, execErr := s.dispatch(method, args)

	s.mu.Lock()
	s.cache.Add(key, cacheEntry{result: result, thrown: execErr})
	s.lastUse = time.Now()
	s.mu.Unlock()

	return s.encodeOutcome(rw, result, execErr)
}

func (s *Skeleton) decodeArgs(ctx context.Context, rw codec.Rewriter, mt reflect.Type, params []wire.Value) ([]reflect.Value, error) {
	offset := 0
	takesContext := mt.NumIn() > 0 && mt.In(0) == contextType
	if takesContext {
		offset = 1
	}
	args := make([]reflect.Value, offset+len(params))
	if takesContext {
		if ctx == nil {
			ctx = context.Background()
		}
		args[0] = reflect.ValueOf(ctx)
	}
	for i, p := range params {
		idx := offset + i
		paramType := mt.In(idx)
		if mt.IsVariadic() && idx == mt.NumIn()-1 {
			paramType = paramType.Elem()
		}
		ptr := reflect.New(paramType)
		if err := codec.DecodeValue(rw, p, ptr.Interface()); err != nil {
			return nil, &DispatchError{Kind: "IllegalArgument", Message: fmt.Sprintf("param %d: %v", i, err)}
		}
		args[idx] = ptr.Elem()
	}
	return args, nil
}

func (s *Skeleton) encodeOutcome(rw codec.Rewriter, result interface{}, execErr error) (wire.Value, *wire.ErrorDescriptor, error) {
	if execErr != nil {
		return wire.Value{}, describeError(execErr), nil
	}
	val, err := codec.EncodeValue(rw, result)
	if err != nil {
		return wire.Value{}, describeError(err), nil
	}
	return val, nil, nil
}

// describeError classifies execErr into the wire taxonomy (spec §7): a
// DispatchError (failed before the target method ran) keeps its own kind,
// anything the target method itself threw is a TargetError.
func describeError(err error) *wire.ErrorDescriptor {
	if de, ok := err.(*DispatchError); ok {
		return &wire.ErrorDescriptor{Class: de.Kind, Message: de.Message}
	}
	return &wire.ErrorDescriptor{Class: "TargetError", Message: err.Error()}
}

// identityHash gives every skeleton a stable hashCode for the life of the
// registry: hashing the skeleton id (unique within one registry, spec §3)
// rather than the object's address, since a published object can be
// dispatched to from multiple goroutines and its Go pointer is otherwise
// not a meaningful cross-process identity.
func (s *Skeleton) identityHash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.id))
	return h.Sum64()
}

func (s *Skeleton) resolveMethod(name string, argc int) (reflect.Value, error) {
	if len(name) == 0 || (name[0] >= 'a' && name[0] <= 'z') {
		return reflect.Value{}, &DispatchError{Kind: "Access", Message: fmt.Sprintf("method %q is not exported", name)}
	}
	method := s.value.MethodByName(name)
	if !method.IsValid() {
		return reflect.Value{}, &DispatchError{Kind: "NoSuchMethod", Message: name}
	}
	mt := method.Type()
	want := mt.NumIn()
	if want > 0 && mt.In(0) == contextType {
		want--
	}
	if mt.IsVariadic() {
		if argc < want-1 {
			return reflect.Value{}, &DispatchError{Kind: "IllegalArgument", Message: fmt.Sprintf("%s expects at least %d params, got %d", name, want-1, argc)}
		}
	} else if want != argc {
		return reflect.Value{}, &DispatchError{Kind: "IllegalArgument", Message: fmt.Sprintf("%s expects %d params, got %d", name, want, argc)}
	}
	return method, nil
}

// dispatch calls method and splits its results into (value, thrown error)
// by convention: if the last return value is an error, it is the thrown
// result (spec §7 TargetThrown); everything else is the return value
// (a single value, or a slice when the method returns more than one).
func (s *Skeleton) dispatch(method reflect.Value, args []reflect.Value) (result interface{}, thrown error) {
	defer func() {
		if r := recover(); r != nil {
			thrown = fmt.Errorf("panic in remote method: %v", r)
			result = nil
		}
	}()

	out := method.Call(args)
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		if !last.IsNil() {
			thrown = last.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	switch len(out) {
	case 0:
		return nil, thrown
	case 1:
		return out[0].Interface(), thrown
	default:
		vals := make([]interface{}, len(out))
		for i, v := range out {
			vals[i] = v.Interface()
		}
		return vals, thrown
	}
}

// RemoteInterfaces returns the cached list of exported interface names this
// object implements, computing it on first use (spec §4.3 RemoteInterface).
func (s *Skeleton) RemoteInterfaces(compute func(obj interface{}) []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteIfaces == nil {
		s.remoteIfaces = compute(s.object)
	}
	return s.remoteIfaces
}
