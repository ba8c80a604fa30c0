// Package stub implements StubCore, the client-side state backing one
// transparent remote proxy (spec §3, §4.4).
package stub

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/op/go-logging"

	"github.com/kryptco/agilerpc/internal/codec"
	"github.com/kryptco/agilerpc/internal/handler"
	"github.com/kryptco/agilerpc/internal/registry"
	"github.com/kryptco/agilerpc/internal/wire"
)

var log = logging.MustGetLogger("stub")

const defaultCacheSize = 256

// MethodPolicy replaces the Java source's per-method annotations (spec §9
// REDESIGN FLAGS): a caller building an Invoke call states whether the
// target method is cacheable (and for how long) and whether it is async
// (returns nothing the caller needs to wait for).
type MethodPolicy struct {
	Cacheable bool
	TTL       time.Duration
	Async     bool
}

type cacheEntry struct {
	value  interface{}
	expiry time.Time
}

// Dialer establishes a fresh, handshaken connection to (host, port) for
// reconnection when a StubCore's handler is disposed mid-call and no
// sibling handler survives in the registry's pool (spec §4.4 step 5). The
// rmi façade supplies the implementation, since only it can run a full
// handshake and register the result with the registry.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (*handler.Handler, error)
}

// ThrownError wraps an error the target method itself threw, carrying
// both stacks so the caller can print one interleaved trace (spec §4.4
// step 6).
type ThrownError struct {
	Class  string
	Msg    string
	Remote []string
	Local  []string
}

func (e *ThrownError) Error() string { return e.Class + ": " + e.Msg }

// StackTrace renders the remote and local frames separated by the
// synthetic marker the spec calls for.
func (e *ThrownError) StackTrace() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", e.Class, e.Msg)
	for _, f := range e.Remote {
		b.WriteString("\t" + f + "\n")
	}
	b.WriteString("--- Remote Method Invocation ---\n")
	for _, f := range e.Local {
		b.WriteString("\t" + f + "\n")
	}
	return b.String()
}

// RemoteError wraps a transport-level failure that survived reconnection
// (spec §4.4 step 5, §7 Transport).
type RemoteError struct{ Cause error }

func (e *RemoteError) Error() string { return "remote: " + e.Cause.Error() }
func (e *RemoteError) Unwrap() error { return e.Cause }

// ZeroValue returns the zero value of t, for callers that suppress faults
// and must still hand back a value of the expected primitive type (spec
// §4.4 step 7, §7 "fault suppression").
func ZeroValue(t reflect.Type) interface{} {
	if t == nil {
		return nil
	}
	return reflect.Zero(t).Interface()
}

// Core is the StubCore: target identity, cached hashCode, the cacheable-
// method cache, and the current (possibly reconnected) ConnectionHandler.
type Core struct {
	desc   wire.StubDescriptor
	reg    *registry.Registry
	dialer Dialer

	mu sync.Mutex
	h  *handler.Handler

	hashCached bool
	hash       uint64

	cache *lru.Cache
}

// NewCore builds a StubCore bound to h (nil if the stub was constructed
// without an active connection, e.g. rehydrated from storage). It sends
// NewReference immediately (stub construction/deserialization, spec §4.5)
// and arms a finalizer to send Finalize when the stub is collected.
func NewCore(desc wire.StubDescriptor, reg *registry.Registry, h *handler.Handler, dialer Dialer) *Core {
	cache, _ := lru.New(defaultCacheSize)
	c := &Core{desc: desc, reg: reg, h: h, dialer: dialer, cache: cache}
	if h != nil {
		if err := h.EnqueueNewReference(desc.ObjectID); err != nil {
			log.Warningf("stub %s: NewReference not sent: %v", desc.ObjectID, err)
		}
	}
	runtime.SetFinalizer(c, finalizeCore)
	return c
}

func finalizeCore(c *Core) {
	h := c.currentHandler()
	if h != nil {
		_ = h.EnqueueFinalize(c.desc.ObjectID)
	}
}

// StubDescriptor implements the marker interface Handler.ExportRemote
// looks for, so a stub forwarded through a third registry is recognized
// instead of treated as a plain value (spec §4.1 rules 2-3).
func (c *Core) StubDescriptor() wire.StubDescriptor { return c.desc }

// Equal implements the equals short-circuit of spec §4.4 step 1: two
// stubs are equal iff they target the same (host, port, object id),
// without a round trip.
func (c *Core) Equal(other interface{}) bool {
	oc, ok := other.(*Core)
	if !ok {
		return false
	}
	if oc == c {
		return true
	}
	return oc.desc.Host == c.desc.Host && oc.desc.Port == c.desc.Port && oc.desc.ObjectID == c.desc.ObjectID
}

func (c *Core) String() string {
	return fmt.Sprintf("stub(%s@%s:%d)", c.desc.ObjectID, c.desc.Host, c.desc.Port)
}

// Hash implements the hashCode short-circuit of spec §4.4 step 1: the
// first call crosses the wire and the result is cached locally for life.
func (c *Core) Hash() (uint64, error) {
	c.mu.Lock()
	if c.hashCached {
		h := c.hash
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	result, thrown, err := c.Invoke(context.Background(), "hashCode", nil, nil, MethodPolicy{})
	if err != nil {
		return 0, err
	}
	if thrown != nil {
		return 0, thrown
	}
	var h uint64
	switch v := result.(type) {
	case float64:
		h = uint64(v)
	case uint64:
		h = v
	}
	c.mu.Lock()
	c.hash, c.hashCached = h, true
	c.mu.Unlock()
	return h, nil
}

func (c *Core) currentHandler() *handler.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

func (c *Core) setHandler(h *handler.Handler) {
	c.mu.Lock()
	c.h = h
	c.mu.Unlock()
}

func cacheKeyFor(method string, args []interface{}) string {
	return fmt.Sprintf("%s%v", method, args)
}

// Invoke dispatches one remote method call (spec §4.4 steps 2-7). It
// returns three things: the decoded result, a non-nil thrown error for an
// error descriptor the peer sent back (the target method's own error, or a
// dispatch or authorization failure such as NoSuchMethod), and a non-nil
// err for anything that kept the call from completing at all (encoding,
// transport, exhausted reconnection). A connection disposed mid-call is
// treated as a transport failure and goes through reconnection.
func (c *Core) Invoke(ctx context.Context, method string, paramTypes []string, args []interface{}, policy MethodPolicy) (result interface{}, thrown error, err error) {
	if policy.Cacheable && policy.TTL > 0 {
		key := cacheKeyFor(method, args)
		if v, ok := c.cache.Get(key); ok {
			entry := v.(cacheEntry)
			if time.Now().Before(entry.expiry) {
				c.fireReferenceUse()
				return entry.value, nil, nil
			}
			c.cache.Remove(key)
		}
	}

	h := c.currentHandler()
	if h == nil {
		h, err = c.reconnect(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	params := make([]wire.Value, len(args))
	for i, a := range args {
		val, encErr := codec.EncodeValue(h, a)
		if encErr != nil {
			return nil, nil, fmt.Errorf("stub: encoding arg %d: %w", i, encErr)
		}
		params[i] = val
	}

	invID := h.NextInvocationID()
	inv := &wire.Invocation{
		ID:          invID,
		ObjectID:    c.desc.ObjectID,
		Method:      method,
		ParamTypes:  paramTypes,
		Params:      params,
		Async:       policy.Async,
		RemoteRegID: c.reg.SelfID(),
	}

	// Async (spec §4.4 step 3): the peer never sends a Return for
	// inv.Async, so this must not register a pending waiter or block on
	// one. Enqueue and come back immediately.
	if policy.Async {
		if encErr := h.EnqueueInvocation(inv); encErr != nil {
			if _, rerr := c.reconnectAndResendAsync(ctx, inv); rerr != nil {
				return nil, nil, &RemoteError{Cause: rerr}
			}
		}
		return nil, nil, nil
	}

	ret, sendErr := h.SendInvocation(ctx, inv)
	if sendErr == nil && ret.Error != nil && ret.Error.Class == "DisposedError" {
		// The synthetic Return that disposal injects into pending calls
		// means the connection went away mid-call, same as a send error.
		sendErr = fmt.Errorf("stub: %s", ret.Error.Message)
	}
	if sendErr != nil {
		ret, sendErr = c.reconnectAndResend(ctx, inv)
		if sendErr != nil {
			return nil, nil, &RemoteError{Cause: sendErr}
		}
	}

	if ret.Error != nil {
		return nil, remoteThrown(ret.Error), nil
	}

	var decoded interface{}
	if ret.Value != nil {
		if derr := codec.DecodeValue(h, *ret.Value, &decoded); derr != nil {
			return nil, nil, fmt.Errorf("stub: decoding result: %w", derr)
		}
	}

	if policy.Cacheable && policy.TTL > 0 {
		c.cache.Add(cacheKeyFor(method, args), cacheEntry{value: decoded, expiry: time.Now().Add(policy.TTL)})
	}

	return decoded, nil, nil
}

func (c *Core) fireReferenceUse() {
	h := c.currentHandler()
	if h == nil {
		return
	}
	go func() {
		if err := h.EnqueueReferenceUse(c.desc.ObjectID); err != nil {
			log.Debugf("stub %s: ReferenceUse not sent: %v", c.desc.ObjectID, err)
		}
	}()
}

// reconnectAndResend implements spec §4.4 step 5: a small bounded number
// of reconnection attempts within a latency budget, resending the exact
// same invocation id so the peer's invocation cache deduplicates it.
func (c *Core) reconnectAndResend(ctx context.Context, inv *wire.Invocation) (*wire.Return, error) {
	cfg := c.reg.Config()
	attempts := cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 3
	}
	budget := cfg.ReconnectBudget
	if budget <= 0 {
		budget = 5 * time.Second
	}
	deadline := time.Now().Add(budget)

	backoff := 50 * time.Millisecond
	const maxBackoff = 2 * time.Second

	var lastErr error
	for i := 0; i < attempts && time.Now().Before(deadline); i++ {
		if i > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		h, err := c.reconnect(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		ret, err := h.SendInvocation(ctx, inv)
		if err == nil {
			return ret, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("stub: reconnection budget exhausted")
	}
	return nil, fmt.Errorf("stub: reconnection exhausted: %w", lastErr)
}

// reconnectAndResendAsync is reconnectAndResend's counterpart for async
// invocations: it never waits for a Return, only for inv to be queued on a
// live handler.
func (c *Core) reconnectAndResendAsync(ctx context.Context, inv *wire.Invocation) (*handler.Handler, error) {
	cfg := c.reg.Config()
	attempts := cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 3
	}
	budget := cfg.ReconnectBudget
	if budget <= 0 {
		budget = 5 * time.Second
	}
	deadline := time.Now().Add(budget)

	backoff := 50 * time.Millisecond
	const maxBackoff = 2 * time.Second

	var lastErr error
	for i := 0; i < attempts && time.Now().Before(deadline); i++ {
		if i > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		h, err := c.reconnect(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		err = h.EnqueueInvocation(inv)
		if err == nil {
			return h, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("stub: reconnection budget exhausted")
	}
	return nil, fmt.Errorf("stub: reconnection exhausted: %w", lastErr)
}

func (c *Core) reconnect(ctx context.Context) (*handler.Handler, error) {
	for _, rh := range c.reg.HandlersFor(c.desc.RemoteRegistryID) {
		if h, ok := rh.(*handler.Handler); ok && !h.Disposed() {
			c.setHandler(h)
			return h, nil
		}
	}
	if c.dialer == nil {
		return nil, fmt.Errorf("stub: no dialer configured for reconnection")
	}
	h, err := c.dialer.Dial(ctx, c.desc.Host, c.desc.Port)
	if err != nil {
		return nil, err
	}
	c.setHandler(h)
	return h, nil
}

func remoteThrown(desc *wire.ErrorDescriptor) error {
	local := make([]string, 0, 16)
	for i := 2; i < 34; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		name := "?"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		local = append(local, fmt.Sprintf("%s\n\t\t%s:%d", name, file, line))
	}
	return &ThrownError{Class: desc.Class, Msg: desc.Message, Remote: desc.Frames, Local: local}
}
