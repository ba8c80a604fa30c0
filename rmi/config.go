package rmi

import (
	"time"

	"github.com/kryptco/agilerpc/internal/collab"
)

// Config collapses spec.md §6's configuration-parameter table and the
// "multiple overloaded constructors" pattern (§9 REDESIGN FLAGS) into one
// record, built via DefaultConfig and functional options — the teacher's
// DefaultTimeouts()/TimeoutPhases shape (timeouts.go).
type Config struct {
	// LatencyTime is the grace period before a names-empty, zero-ref
	// skeleton's scheduled removal actually fires. Default 10s.
	LatencyTime time.Duration
	// LeaseTime bounds how long an unreferenced, unnamed skeleton may
	// linger before the DGC safety-net sweep reaps it. Default 10m.
	LeaseTime time.Duration
	// InvocationCacheCap bounds each Skeleton's at-most-once invocation
	// cache. Default 50.
	InvocationCacheCap int
	// AutoReferencing enables the codec's auto-publish rewrite rule
	// (spec §4.1 rule 4). Default true.
	AutoReferencing bool
	// IdentifierPrefix prefixes auto-generated skeleton identifiers.
	// Default "###".
	IdentifierPrefix string
	// WorkerPoolSize bounds concurrent inbound invocation dispatch per
	// connection. Default 32.
	WorkerPoolSize int
	// OutboundQueueSize bounds each connection's outbound message queue.
	// Default 64.
	OutboundQueueSize int
	// ReconnectAttempts bounds StubCore's reconnection attempts after a
	// handler is disposed mid-call. Default 3.
	ReconnectAttempts int
	// ReconnectBudget bounds total wall-clock time spent reconnecting.
	// Default 5s.
	ReconnectBudget time.Duration
	// MultiConnection, when true, allows more than one live
	// ConnectionHandler per remote registry id (spec §6 "multi-connection
	// mode"); when false, a second Dial to an already-connected registry
	// reuses the existing handler. Default false.
	MultiConnection bool
	// SuppressFaults, when true, makes Remote.Call return a nil result and
	// a nil error in place of the *RemoteError (or RemoteErrorFactory
	// result) left after reconnection is exhausted (spec §7 "fault
	// suppression"). Call has no declared return type, so no typed zero
	// value is produced; errors reported by the peer are still returned.
	// Default false.
	SuppressFaults bool
	// RemoteErrorFactory, if set, replaces the *RemoteError this runtime
	// would otherwise return, the idiomatic substitute for "a user-supplied
	// exception class may replace RemoteException globally" (spec §7).
	RemoteErrorFactory func(error) error

	Authenticator   collab.Authenticator
	EndpointFactory collab.ProtocolEndpointFactory
	ClassLoaders    collab.ClassLoaderFactory
	FaultHandler    collab.FaultHandler

	// LocalAuthID/LocalPass authenticate this registry to peers during the
	// handshake (spec §4.3 step 5); ignored on loopback connections.
	LocalAuthID string
	LocalPass   string
}

// DefaultConfig returns a Config with every default named in spec.md §6.
func DefaultConfig() Config {
	return Config{
		LatencyTime:        10 * time.Second,
		LeaseTime:          10 * time.Minute,
		InvocationCacheCap: 50,
		AutoReferencing:    true,
		IdentifierPrefix:   "###",
		WorkerPoolSize:     32,
		OutboundQueueSize:  64,
		ReconnectAttempts:  3,
		ReconnectBudget:    5 * time.Second,
		MultiConnection:    false,
		SuppressFaults:     false,
		Authenticator:      nil,
		EndpointFactory:    collab.PlainProtocolEndpointFactory{},
		ClassLoaders:       nil,
		FaultHandler:       collab.LoggingFaultHandler{},
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

func WithLatencyTime(d time.Duration) Option       { return func(c *Config) { c.LatencyTime = d } }
func WithLeaseTime(d time.Duration) Option         { return func(c *Config) { c.LeaseTime = d } }
func WithInvocationCacheCap(n int) Option          { return func(c *Config) { c.InvocationCacheCap = n } }
func WithAutoReferencing(b bool) Option            { return func(c *Config) { c.AutoReferencing = b } }
func WithIdentifierPrefix(p string) Option         { return func(c *Config) { c.IdentifierPrefix = p } }
func WithWorkerPoolSize(n int) Option              { return func(c *Config) { c.WorkerPoolSize = n } }
func WithOutboundQueueSize(n int) Option           { return func(c *Config) { c.OutboundQueueSize = n } }
func WithReconnectAttempts(n int) Option           { return func(c *Config) { c.ReconnectAttempts = n } }
func WithReconnectBudget(d time.Duration) Option   { return func(c *Config) { c.ReconnectBudget = d } }
func WithMultiConnection(b bool) Option            { return func(c *Config) { c.MultiConnection = b } }
func WithSuppressFaults(b bool) Option             { return func(c *Config) { c.SuppressFaults = b } }
func WithRemoteErrorFactory(f func(error) error) Option {
	return func(c *Config) { c.RemoteErrorFactory = f }
}
func WithAuthenticator(a collab.Authenticator) Option {
	return func(c *Config) { c.Authenticator = a }
}
func WithEndpointFactory(f collab.ProtocolEndpointFactory) Option {
	return func(c *Config) { c.EndpointFactory = f }
}
func WithClassLoaders(f collab.ClassLoaderFactory) Option {
	return func(c *Config) { c.ClassLoaders = f }
}
func WithFaultHandler(f collab.FaultHandler) Option { return func(c *Config) { c.FaultHandler = f } }
func WithCredentials(authID, pass string) Option {
	return func(c *Config) { c.LocalAuthID = authID; c.LocalPass = pass }
}

func applyOptions(cfg Config, opts []Option) Config {
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
