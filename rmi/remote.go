package rmi

import (
	"context"
	"time"

	"github.com/kryptco/agilerpc/internal/stub"
	"github.com/kryptco/agilerpc/internal/wire"
)

// Remote is a transparent client-side proxy (spec's "Stub / proxy"). Unlike
// the teacher's Java lineage, there is no per-interface generated type:
// Remote.Call is the single generic dispatcher the §9 REDESIGN FLAGS call
// for, accepting a method name and argument values directly; StubCore
// centralizes the actual behavior (retries, caching, equals/hashCode
// short-circuits) behind it.
type Remote struct {
	core *stub.Core
	reg  *Registry
}

// Call invokes method on the remote object with args and returns the
// decoded result. A *TargetError means the remote method itself
// returned/threw an error (the cause is its message); any other concrete
// type from errors.go means the call never reached, or never returned
// from, the target at all.
func (r *Remote) Call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	return r.invoke(ctx, method, args, stub.MethodPolicy{})
}

// CallCacheable is Call for a method annotated cacheable(ttl) (spec §4.4
// step 2, §8 scenario 5): within ttl of the first call, repeated calls with
// the same method and arguments return the cached value with no network
// round-trip.
func (r *Remote) CallCacheable(ctx context.Context, method string, ttl time.Duration, args ...interface{}) (interface{}, error) {
	return r.invoke(ctx, method, args, stub.MethodPolicy{Cacheable: true, TTL: ttl})
}

// CallAsync is Call for a method annotated void/fire-and-forget: the
// Invocation is enqueued but no Return is awaited.
func (r *Remote) CallAsync(ctx context.Context, method string, args ...interface{}) error {
	_, err := r.invoke(ctx, method, args, stub.MethodPolicy{Async: true})
	return err
}

func (r *Remote) invoke(ctx context.Context, method string, args []interface{}, policy stub.MethodPolicy) (interface{}, error) {
	result, thrown, err := r.core.Invoke(ctx, method, nil, args, policy)
	if err != nil {
		return r.wrapCallErr(err)
	}
	if thrown != nil {
		if te, ok := thrown.(*stub.ThrownError); ok {
			return nil, classify(te.Class, te.Msg)
		}
		return nil, &TargetError{Cause: thrown}
	}
	return result, nil
}

func (r *Remote) wrapCallErr(err error) (interface{}, error) {
	re, ok := err.(*stub.RemoteError)
	if !ok {
		return nil, err
	}
	wrapped := error(&RemoteError{Cause: re.Cause})
	if r.reg != nil && r.reg.cfg.RemoteErrorFactory != nil {
		wrapped = r.reg.cfg.RemoteErrorFactory(wrapped)
	}
	if r.reg != nil && r.reg.cfg.SuppressFaults {
		return nil, nil
	}
	return nil, wrapped
}

// Hash implements the hashCode short-circuit of spec §4.4 step 1.
func (r *Remote) Hash() (uint64, error) { return r.core.Hash() }

// Equal implements the equals short-circuit of spec §4.4 step 1 and the
// "Equals symmetry" testable property of §8: true without any network
// traffic whenever both proxies target the same (host, port, object id).
func (r *Remote) Equal(other *Remote) bool {
	if other == nil {
		return false
	}
	return r.core.Equal(other.core)
}

func (r *Remote) String() string { return r.core.String() }

// StubDescriptor satisfies the codec's internal marker interface so a
// Remote passed as an argument or return value to another Call is
// recognized as already-remote and rewritten per spec §4.1 rules 2-3,
// instead of being serialized as an opaque struct.
func (r *Remote) StubDescriptor() wire.StubDescriptor { return r.core.StubDescriptor() }
