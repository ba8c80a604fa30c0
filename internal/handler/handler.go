// Package handler implements the ConnectionHandler: one TCP connection
// between two registries, its handshake, its reader/writer tasks, its
// pending-invocation table, and its disposal semantics (spec §4.3).
package handler

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/blang/semver"
	"github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"

	"github.com/kryptco/agilerpc/internal/codec"
	"github.com/kryptco/agilerpc/internal/registry"
	"github.com/kryptco/agilerpc/internal/skeleton"
	"github.com/kryptco/agilerpc/internal/wire"
)

var log = logging.MustGetLogger("handler")

// ProtocolVersion is advertised during the handshake so a future wire
// revision can refuse to talk to an incompatible peer before the
// loopback/auth exchange runs. Bumping the major component is a breaking
// wire change; minor/patch are informational only.
var ProtocolVersion = semver.MustParse("1.0.0")

// state is the lifecycle in spec §4.3: NEW -> HANDSHAKING -> READY -> DISPOSED.
type state int32

const (
	stateNew state = iota
	stateHandshaking
	stateReady
	stateDisposed
)

// wire error classes for outcomes that never reach a Skeleton (spec §7).
const (
	classAuthorization = "AuthorizationError"
	classTransport     = "TransportError"
	classDisposed      = "DisposedError"
)

// StubFactory builds a live stub bound to h for a descriptor that did not
// resolve to a local object. It is supplied by the layer that owns the
// stub package (handler cannot import it without creating an import
// cycle, since StubCore instances send invocations back through a
// Handler).
type StubFactory func(desc wire.StubDescriptor, h *Handler) (interface{}, error)

// stubDescriber is implemented by live stubs so ExportRemote can recognize
// and re-publish or pass through a value that is already remote-backed
// (spec §4.1 rules 2-3).
type stubDescriber interface {
	StubDescriptor() wire.StubDescriptor
}

type pendingCall struct {
	ch chan *wire.Return
}

type pendingInterfaceReq struct {
	ch chan *wire.RemoteInterface
}

type outboundItem struct {
	msg     *wire.Message
	pending *pendingCall
	id      uint64
}

// Handler is one ConnectionHandler (spec §3, §4.3).
type Handler struct {
	id   string
	conn net.Conn
	stream *codec.Stream
	reg  *registry.Registry

	stubFactory StubFactory

	localAuthID    string
	localPass      string
	remoteAuthID   string
	remoteListenPort int
	remoteRegistryID string
	loopback         bool
	peerAddr         net.Addr

	state int32 // atomic state

	outbound chan outboundItem

	mu              sync.Mutex
	pendingCalls    map[uint64]*pendingCall
	pendingIfaceReq map[string]*pendingInterfaceReq
	activeWork      map[uint64]context.CancelFunc
	refsHeld        map[string]struct{}

	nextInvocationID uint64

	workSem chan struct{}

	disposeOnce sync.Once
	disposedCh  chan struct{}
	disposeErr  error

	wg sync.WaitGroup
}

// Config bundles the per-handler parameters not already owned by the
// registry (spec §6): local credentials for the handshake and the stub
// factory used to hydrate inbound descriptors.
type Config struct {
	LocalAuthID  string
	LocalPass    string
	StubFactory  StubFactory
}

// New wraps conn in a Handler. The handshake has not run yet; call
// Handshake to drive it, then Serve to start the reader/writer tasks.
func New(conn net.Conn, reg *registry.Registry, cfg Config) *Handler {
	id, err := randomHexID()
	if err != nil {
		id = conn.RemoteAddr().String()
	}
	poolSize := reg.Config().WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 32
	}
	queueSize := reg.Config().OutboundQueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	h := &Handler{
		id:              id,
		conn:            conn,
		reg:             reg,
		stubFactory:     cfg.StubFactory,
		localAuthID:     cfg.LocalAuthID,
		localPass:       cfg.LocalPass,
		peerAddr:        conn.RemoteAddr(),
		outbound:        make(chan outboundItem, queueSize),
		pendingCalls:    make(map[uint64]*pendingCall),
		pendingIfaceReq: make(map[string]*pendingInterfaceReq),
		activeWork:      make(map[uint64]context.CancelFunc),
		refsHeld:        make(map[string]struct{}),
		workSem:         make(chan struct{}, poolSize),
		disposedCh:      make(chan struct{}),
	}
	atomic.StoreInt32(&h.state, int32(stateNew))
	return h
}

func randomHexID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Handshake performs the symmetrical pre-stream exchange (spec §4.3) over
// the raw connection, before any framed message is sent. It must be called
// exactly once, before Serve.
func (h *Handler) Handshake() error {
	atomic.StoreInt32(&h.state, int32(stateHandshaking))

	if err := writeUTF(h.conn, h.reg.SelfID()); err != nil {
		return &HandshakeError{Kind: "Transport", Message: err.Error()}
	}
	if err := writeUint32(h.conn, uint32(h.reg.ListenPort())); err != nil {
		return &HandshakeError{Kind: "Transport", Message: err.Error()}
	}
	if err := writeUTF(h.conn, ProtocolVersion.String()); err != nil {
		return &HandshakeError{Kind: "Transport", Message: err.Error()}
	}

	peerID, err := readUTF(h.conn)
	if err != nil {
		return &HandshakeError{Kind: "Transport", Message: err.Error()}
	}
	peerPort, err := readUint32(h.conn)
	if err != nil {
		return &HandshakeError{Kind: "Transport", Message: err.Error()}
	}
	peerVersionStr, err := readUTF(h.conn)
	if err != nil {
		return &HandshakeError{Kind: "Transport", Message: err.Error()}
	}
	peerVersion, err := semver.Parse(peerVersionStr)
	if err != nil {
		return &HandshakeError{Kind: "Transport", Message: fmt.Sprintf("unparseable peer protocol version %q: %v", peerVersionStr, err)}
	}
	if peerVersion.Major != ProtocolVersion.Major {
		return &HandshakeError{Kind: "Transport", Message: fmt.Sprintf("incompatible protocol version: local %s, peer %s", ProtocolVersion, peerVersion)}
	}

	loopback := peerID == h.reg.SelfID() && isLocalAddr(h.peerAddr)
	if err := writeBool(h.conn, loopback); err != nil {
		return &HandshakeError{Kind: "Transport", Message: err.Error()}
	}
	peerLoopbackAck, err := readBool(h.conn)
	if err != nil {
		return &HandshakeError{Kind: "Transport", Message: err.Error()}
	}

	h.remoteRegistryID = peerID
	h.remoteListenPort = int(peerPort)
	h.loopback = loopback || peerLoopbackAck

	if !h.loopback {
		if err := writeUTF(h.conn, h.localAuthID); err != nil {
			return &HandshakeError{Kind: "Transport", Message: err.Error()}
		}
		if err := writeUTF(h.conn, h.localPass); err != nil {
			return &HandshakeError{Kind: "Transport", Message: err.Error()}
		}

		peerAuthID, err := readUTF(h.conn)
		if err != nil {
			return &HandshakeError{Kind: "Transport", Message: err.Error()}
		}
		peerPass, err := readUTF(h.conn)
		if err != nil {
			return &HandshakeError{Kind: "Transport", Message: err.Error()}
		}

		verdict := true
		if auth := h.reg.Config().Authenticator; auth != nil {
			verdict = auth.Authenticate(h.peerAddr, peerAuthID, peerPass)
		}
		if err := writeBool(h.conn, verdict); err != nil {
			return &HandshakeError{Kind: "Transport", Message: err.Error()}
		}
		peerVerdict, err := readBool(h.conn)
		if err != nil {
			return &HandshakeError{Kind: "Transport", Message: err.Error()}
		}

		h.remoteAuthID = peerAuthID

		if !verdict {
			return &HandshakeError{Kind: "LocalAuthentication", Message: fmt.Sprintf("could not authenticate %q", peerAuthID)}
		}
		if !peerVerdict {
			return &HandshakeError{Kind: "RemoteAuthentication", Message: "peer rejected local credentials"}
		}
	}

	rw := bufio.NewReader(h.conn)
	ww := bufio.NewWriter(h.conn)
	h.stream = codec.NewStream(rw, ww)

	atomic.StoreInt32(&h.state, int32(stateReady))
	h.reg.RegisterHandler(h)
	log.Noticef("handler %s: ready, peer=%s loopback=%v", h.id, h.remoteRegistryID, h.loopback)
	return nil
}

// Serve starts the reader and writer tasks; it returns immediately.
func (h *Handler) Serve() {
	h.wg.Add(2)
	go h.readLoop()
	go h.writeLoop()
}

func (h *Handler) ID() string                 { return h.id }
func (h *Handler) RemoteRegistryID() string   { return h.remoteRegistryID }
func (h *Handler) RemoteListenPort() int      { return h.remoteListenPort }
func (h *Handler) RemoteHost() string         { return normalizeHost(h.peerAddr) }
func (h *Handler) Loopback() bool             { return h.loopback }
func (h *Handler) Disposed() bool {
	return atomic.LoadInt32(&h.state) == int32(stateDisposed)
}

// DisposeErr returns the cause passed to dispose/Close, or nil while the
// handler is still alive.
func (h *Handler) DisposeErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposeErr
}

func (h *Handler) writeLoop() {
	defer h.wg.Done()
	for {
		select {
		case item := <-h.outbound:
			if item.pending != nil {
				h.mu.Lock()
				h.pendingCalls[item.id] = item.pending
				h.mu.Unlock()
			}
			if err := h.stream.WriteMessage(item.msg); err != nil {
				h.dispose(fmt.Errorf("transport: write: %w", err))
				return
			}
		case <-h.disposedCh:
			return
		}
	}
}

func (h *Handler) readLoop() {
	defer h.wg.Done()
	for {
		msg, err := h.stream.ReadMessage()
		if err != nil {
			h.dispose(fmt.Errorf("transport: read: %w", err))
			return
		}
		h.dispatch(msg)
	}
}

func (h *Handler) dispatch(msg *wire.Message) {
	switch msg.Kind {
	case wire.KindInvocation:
		h.handleInvocation(msg.Invocation)
	case wire.KindReturn:
		h.handleReturn(msg.Return)
	case wire.KindNewReference:
		if s, ok := h.reg.SkeletonByID(msg.NewReference.ObjectID); ok {
			s.AddRef(h.id)
			h.mu.Lock()
			h.refsHeld[msg.NewReference.ObjectID] = struct{}{}
			h.mu.Unlock()
		}
	case wire.KindFinalize:
		if s, ok := h.reg.SkeletonByID(msg.Finalize.ObjectID); ok {
			if eligible := s.RemoveRef(h.id); eligible {
				s.ScheduleRemoval(h.reg.Config().LatencyTime)
			}
		}
		h.mu.Lock()
		delete(h.refsHeld, msg.Finalize.ObjectID)
		h.mu.Unlock()
	case wire.KindReferenceUse:
		if s, ok := h.reg.SkeletonByID(msg.ReferenceUse.ObjectID); ok {
			s.UpdateLastUse()
		}
	case wire.KindRemoteInterface:
		h.handleRemoteInterface(msg.RemoteInterface)
	case wire.KindCodebaseUpdate:
		h.handleCodebaseUpdate(msg.CodebaseUpdate)
	case wire.KindInterruption:
		h.mu.Lock()
		cancel, ok := h.activeWork[msg.Interruption.InvocationID]
		h.mu.Unlock()
		if ok {
			cancel()
		}
	default:
		log.Warningf("handler %s: unrecognized message kind %v", h.id, msg.Kind)
	}
}

func (h *Handler) handleInvocation(inv *wire.Invocation) {
	s, ok := h.reg.SkeletonByID(inv.ObjectID)
	if !ok {
		h.replyError(inv.ID, &wire.ErrorDescriptor{Class: "NoSuchMethod", Message: fmt.Sprintf("no object %q", inv.ObjectID)})
		return
	}
	if !h.authorizedFor(inv.ObjectID, inv.Method) {
		h.replyError(inv.ID, &wire.ErrorDescriptor{Class: classAuthorization, Message: fmt.Sprintf("not authorized to call %s on %s", inv.Method, inv.ObjectID)})
		return
	}

	select {
	case h.workSem <- struct{}{}:
	case <-h.disposedCh:
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.activeWork[inv.ID] = cancel
	h.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			h.mu.Lock()
			delete(h.activeWork, inv.ID)
			h.mu.Unlock()
			<-h.workSem
		}()

		val, thrown, derr := s.Invoke(ctx, h, h.remoteRegistryID, inv.ID, inv.Method, inv.ParamTypes, inv.Params)
		if derr != nil {
			desc := &wire.ErrorDescriptor{Class: "IllegalArgument", Message: derr.Error()}
			if de, ok := derr.(*skeleton.DispatchError); ok {
				desc = &wire.ErrorDescriptor{Class: de.Kind, Message: de.Message}
			}
			h.replyError(inv.ID, desc)
			return
		}
		if !inv.Async {
			ret := &wire.Return{InvocationID: inv.ID}
			if thrown != nil {
				ret.Error = thrown
			} else {
				ret.Value = &val
			}
			_ = h.enqueue(&wire.Message{Kind: wire.KindReturn, Return: ret})
		}
	}()
}

func (h *Handler) authorizedFor(objectID, method string) bool {
	if h.loopback {
		return true
	}
	auth := h.reg.Config().Authenticator
	if auth == nil {
		return true
	}
	return auth.Authorize(h.remoteAuthID, objectID, method)
}

func (h *Handler) replyError(invocationID uint64, desc *wire.ErrorDescriptor) {
	_ = h.enqueue(&wire.Message{Kind: wire.KindReturn, Return: &wire.Return{InvocationID: invocationID, Error: desc}})
}

func (h *Handler) handleReturn(ret *wire.Return) {
	h.mu.Lock()
	pc := h.pendingCalls[ret.InvocationID]
	delete(h.pendingCalls, ret.InvocationID)
	h.mu.Unlock()
	if pc == nil {
		return
	}
	select {
	case pc.ch <- ret:
	default:
	}
}

func (h *Handler) handleRemoteInterface(ri *wire.RemoteInterface) {
	if ri.Interfaces == nil {
		s, ok := h.reg.SkeletonByID(ri.ObjectID)
		var ifaces []string
		if ok {
			ifaces = s.RemoteInterfaces(h.reg.InterfaceNamesOf)
		}
		_ = h.enqueue(&wire.Message{Kind: wire.KindRemoteInterface, RemoteInterface: &wire.RemoteInterface{
			CorrelationID: ri.CorrelationID,
			ObjectID:      ri.ObjectID,
			Interfaces:    ifaces,
		}})
		return
	}
	h.mu.Lock()
	pr := h.pendingIfaceReq[ri.CorrelationID]
	delete(h.pendingIfaceReq, ri.CorrelationID)
	h.mu.Unlock()
	if pr != nil {
		select {
		case pr.ch <- ri:
		default:
		}
	}
}

func (h *Handler) handleCodebaseUpdate(cu *wire.CodebaseUpdate) {
	loaders := h.reg.Config().ClassLoaders
	if loaders == nil || cu == nil {
		return
	}
	for _, url := range cu.SourceURLs {
		if _, err := loaders.ClassLoaderFor(url); err != nil {
			log.Warningf("handler %s: codebase update for %s failed: %v", h.id, url, err)
		}
	}
}

// SendInvocation blocks until the peer's Return arrives, the handler is
// disposed, or ctx is done (in which case an Interruption is sent but the
// call still waits for the eventual Return, per spec §4.4 Cancellation).
func (h *Handler) SendInvocation(ctx context.Context, inv *wire.Invocation) (*wire.Return, error) {
	if h.Disposed() {
		return nil, fmt.Errorf("handler: disposed")
	}
	pc := &pendingCall{ch: make(chan *wire.Return, 1)}
	item := outboundItem{msg: &wire.Message{Kind: wire.KindInvocation, Invocation: inv}, pending: pc, id: inv.ID}

	select {
	case h.outbound <- item:
	case <-h.disposedCh:
		return nil, fmt.Errorf("handler: disposed")
	}

	for {
		select {
		case ret := <-pc.ch:
			return ret, nil
		case <-h.disposedCh:
			return nil, fmt.Errorf("handler: disposed")
		case <-ctxDone(ctx):
			_ = h.enqueue(&wire.Message{Kind: wire.KindInterruption, Interruption: &wire.Interruption{InvocationID: inv.ID}})
			ctx = context.Background() // avoid spinning; now just wait for ch/disposedCh
		}
	}
}

func ctxDone(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		return nil
	}
	return ctx.Done()
}

// EnqueueInvocation sends inv without registering a pending waiter and
// returns as soon as it is queued for write. Used for async invocations
// (spec §4.4 step 3), whose peer never emits a Return.
func (h *Handler) EnqueueInvocation(inv *wire.Invocation) error {
	return h.enqueue(&wire.Message{Kind: wire.KindInvocation, Invocation: inv})
}

// EnqueueNewReference, EnqueueFinalize and EnqueueReferenceUse feed the
// distributed GC handshake from the stub side (spec §4.5).
func (h *Handler) EnqueueNewReference(objectID string) error {
	return h.enqueue(&wire.Message{Kind: wire.KindNewReference, NewReference: &wire.ObjectRef{ObjectID: objectID}})
}

func (h *Handler) EnqueueFinalize(objectID string) error {
	return h.enqueue(&wire.Message{Kind: wire.KindFinalize, Finalize: &wire.ObjectRef{ObjectID: objectID}})
}

func (h *Handler) EnqueueReferenceUse(objectID string) error {
	return h.enqueue(&wire.Message{Kind: wire.KindReferenceUse, ReferenceUse: &wire.ObjectRef{ObjectID: objectID}})
}

// RequestRemoteInterfaces asks the peer to compute the remote interface
// list for objectID (spec §4.3 RemoteInterface).
func (h *Handler) RequestRemoteInterfaces(objectID string) ([]string, error) {
	corrID := uuid.NewV4().String()
	pr := &pendingInterfaceReq{ch: make(chan *wire.RemoteInterface, 1)}
	h.mu.Lock()
	h.pendingIfaceReq[corrID] = pr
	h.mu.Unlock()

	if err := h.enqueue(&wire.Message{Kind: wire.KindRemoteInterface, RemoteInterface: &wire.RemoteInterface{CorrelationID: corrID, ObjectID: objectID}}); err != nil {
		return nil, err
	}
	select {
	case ri := <-pr.ch:
		return ri.Interfaces, nil
	case <-h.disposedCh:
		return nil, fmt.Errorf("handler: disposed")
	}
}

// NextInvocationID returns a new monotonically increasing id, scoped to
// this handler (spec §4.4 step 3 scopes ids to the stub, but they are only
// ever compared within one handler's pending table, so per-handler
// monotonicity is sufficient and lets reconnection resend the same id).
func (h *Handler) NextInvocationID() uint64 {
	return atomic.AddUint64(&h.nextInvocationID, 1)
}

func (h *Handler) enqueue(msg *wire.Message) error {
	if h.Disposed() {
		return fmt.Errorf("handler: disposed")
	}
	select {
	case h.outbound <- outboundItem{msg: msg}:
		return nil
	case <-h.disposedCh:
		return fmt.Errorf("handler: disposed")
	}
}

// Close disposes the handler and waits for its reader/writer tasks to
// exit. Use this for an explicit, orderly shutdown; dispose (unexported)
// is what a transport fault triggers from inside the reader/writer
// goroutines themselves, where waiting on them would deadlock.
func (h *Handler) Close() error {
	h.dispose(fmt.Errorf("handler: closed"))
	h.wg.Wait()
	return nil
}

// dispose implements spec §4.3 Disposal: idempotent, synthesizes a
// DisposedError Return for every pending call, releases every reference this
// handler held, and notifies the FaultHandler collaborator.
func (h *Handler) dispose(cause error) {
	h.disposeOnce.Do(func() {
		atomic.StoreInt32(&h.state, int32(stateDisposed))
		close(h.disposedCh)
		h.conn.Close()

		h.mu.Lock()
		h.disposeErr = cause
		pending := h.pendingCalls
		h.pendingCalls = nil
		ifaceReqs := h.pendingIfaceReq
		h.pendingIfaceReq = nil
		refs := h.refsHeld
		h.refsHeld = nil
		h.mu.Unlock()

		for id, pc := range pending {
			select {
			case pc.ch <- &wire.Return{InvocationID: id, Error: &wire.ErrorDescriptor{Class: classDisposed, Message: cause.Error()}}:
			default:
			}
		}
		for _, pr := range ifaceReqs {
			select {
			case pr.ch <- &wire.RemoteInterface{Interfaces: []string{}}:
			default:
			}
		}
		for skelID := range refs {
			if s, ok := h.reg.SkeletonByID(skelID); ok {
				if eligible := s.RemoveAllRefs(h.id); eligible {
					s.ScheduleRemoval(h.reg.Config().LatencyTime)
				}
			}
		}

		h.reg.UnregisterHandler(h)
		if fh := h.reg.Config().FaultHandler; fh != nil {
			fh.OnFault(h.id, cause)
		}
		log.Warningf("handler %s: disposed: %v", h.id, cause)
	})
}

// ExportRemote implements codec.Rewriter: the outgoing half of spec §4.1's
// rewrite rules.
func (h *Handler) ExportRemote(v interface{}) (wire.StubDescriptor, bool, error) {
	if sd, ok := v.(stubDescriber); ok {
		desc := sd.StubDescriptor()
		if desc.Port > 0 {
			return desc, true, nil // rule 2: already share-eligible, pass through
		}
		return h.publishForwarder(desc), true, nil // rule 3: routing
	}
	if s, ok := h.reg.IdentityLookup(v); ok {
		return h.descriptorFor(s), true, nil
	}
	if h.reg.Config().AutoReferencing && h.reg.AutoRemoteMatch(v) {
		s := h.reg.PublishAuto(v)
		return h.descriptorFor(s), true, nil
	}
	return wire.StubDescriptor{}, false, nil
}

// ImportStub implements codec.Rewriter: loopback collapse, or a live stub
// bound to this handler (spec §4.1 decode-side walk).
func (h *Handler) ImportStub(desc wire.StubDescriptor) (interface{}, error) {
	if desc.RemoteRegistryID == h.reg.SelfID() {
		if s, ok := h.reg.SkeletonByID(desc.ObjectID); ok {
			return s.Object(), nil
		}
	}
	if h.stubFactory == nil {
		return nil, fmt.Errorf("handler: no stub factory configured")
	}
	return h.stubFactory(desc, h)
}

func (h *Handler) descriptorFor(s *skeleton.Skeleton) wire.StubDescriptor {
	return wire.StubDescriptor{
		ObjectID:         s.ID(),
		RemoteRegistryID: h.reg.SelfID(),
		Host:             h.reg.Host(),
		Port:             h.reg.ListenPort(),
	}
}

// publishForwarder implements spec §4.1 rule 3 (routing): origin is a
// value already remote to the connection that sent it to us, but it came
// in with Port == 0 (not independently share-eligible), so it is
// re-published under a local id whose skeleton forwards invocations back
// to whichever connection still reaches origin's owner.
func (h *Handler) publishForwarder(origin wire.StubDescriptor) wire.StubDescriptor {
	marker := new(struct{ _ byte })
	s := h.reg.PublishAuto(marker)
	s.SetForward(func(_ string, invocationID uint64, method string, paramTypes []string, params []wire.Value) (wire.Value, *wire.ErrorDescriptor, error) {
		return h.forwardInvocation(origin, invocationID, method, paramTypes, params)
	})
	return h.descriptorFor(s)
}

func (h *Handler) forwardInvocation(origin wire.StubDescriptor, invocationID uint64, method string, paramTypes []string, params []wire.Value) (wire.Value, *wire.ErrorDescriptor, error) {
	pool := h.reg.HandlersFor(origin.RemoteRegistryID)
	if len(pool) == 0 {
		return wire.Value{}, &wire.ErrorDescriptor{Class: classTransport, Message: "routing: no live connection to origin registry"}, nil
	}
	target, ok := pool[0].(*Handler)
	if !ok {
		return wire.Value{}, &wire.ErrorDescriptor{Class: classTransport, Message: "routing: unexpected handler type"}, nil
	}
	inv := &wire.Invocation{
		ID:          invocationID,
		ObjectID:    origin.ObjectID,
		Method:      method,
		ParamTypes:  paramTypes,
		Params:      params,
		RemoteRegID: h.reg.SelfID(),
	}
	ret, err := target.SendInvocation(context.Background(), inv)
	if err != nil {
		return wire.Value{}, &wire.ErrorDescriptor{Class: classTransport, Message: err.Error()}, nil
	}
	if ret.Error != nil {
		return wire.Value{}, ret.Error, nil
	}
	if ret.Value == nil {
		return wire.Value{}, nil, nil
	}
	return *ret.Value, nil, nil
}
