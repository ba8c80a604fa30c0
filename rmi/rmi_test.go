package rmi

import (
	"context"
	"net"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

type EchoService struct {
	calls int
}

func (e *EchoService) Say(s string) string {
	e.calls++
	return "echo: " + s
}

func (e *EchoService) Calls() int { return e.calls }

func startRegistry(t *testing.T) (*Registry, net.Addr) {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	addr, err := r.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return r, addr
}

func TestPublishCallRoundTrip(t *testing.T) {
	server, addr := startRegistry(t)
	defer server.Close()
	host, port, err := splitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}

	if err := server.Publish("echo", &EchoService{}); err != nil {
		t.Fatal(err)
	}

	client, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	remote, err := client.GetStub(context.Background(), host, port, "echo")
	if err != nil {
		t.Fatal(err)
	}

	result, err := remote.Call(context.Background(), "Say", "world")
	if err != nil {
		t.Fatal(err)
	}
	if result != "echo: world" {
		t.Fatalf("result = %v, want %q", result, "echo: world")
	}
}

func TestCallNoSuchMethodClassifiesAsNoSuchMethodError(t *testing.T) {
	server, addr := startRegistry(t)
	defer server.Close()
	host, port, err := splitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Publish("echo", &EchoService{}); err != nil {
		t.Fatal(err)
	}

	client, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	remote, err := client.GetStub(context.Background(), host, port, "echo")
	if err != nil {
		t.Fatal(err)
	}

	_, callErr := remote.Call(context.Background(), "Nonexistent")
	if _, ok := callErr.(*NoSuchMethodError); !ok {
		t.Fatalf("err = %v (%T), want *NoSuchMethodError", callErr, callErr)
	}
}

type Counter struct{ n int }

func (c *Counter) Slow() int { c.n++; return c.n }

func TestCallCacheableAvoidsRepeatedDispatch(t *testing.T) {
	server, addr := startRegistry(t)
	defer server.Close()
	host, port, err := splitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	counter := &Counter{}
	if err := server.Publish("counter", counter); err != nil {
		t.Fatal(err)
	}

	client, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	remote, err := client.GetStub(context.Background(), host, port, "counter")
	if err != nil {
		t.Fatal(err)
	}

	v1, err := remote.CallCacheable(context.Background(), "Slow", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := remote.CallCacheable(context.Background(), "Slow", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Fatalf("v1 = %v, v2 = %v, want identical cached values", v1, v2)
	}
	if counter.n != 1 {
		t.Fatalf("dispatch count = %d, want 1 (second call should be served from cache)", counter.n)
	}
}

type bumper struct{ n int32 }

func (b *bumper) Bump() { atomic.AddInt32(&b.n, 1) }

func TestCallAsyncDoesNotBlockOnReturn(t *testing.T) {
	server, addr := startRegistry(t)
	defer server.Close()
	host, port, err := splitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	obj := &bumper{}
	if err := server.Publish("bumper", obj); err != nil {
		t.Fatal(err)
	}

	client, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	remote, err := client.GetStub(context.Background(), host, port, "bumper")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- remote.CallAsync(context.Background(), "Bump") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("CallAsync returned an error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("CallAsync blocked waiting for a Return the peer never sends")
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&obj.n) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&obj.n) != 1 {
		t.Fatalf("Bump() call count = %d, want 1", obj.n)
	}
}

func TestHashCrossesWireOnceThenCaches(t *testing.T) {
	server, addr := startRegistry(t)
	defer server.Close()
	host, port, err := splitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Publish("echo", &EchoService{}); err != nil {
		t.Fatal(err)
	}

	client, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	remote, err := client.GetStub(context.Background(), host, port, "echo")
	if err != nil {
		t.Fatal(err)
	}

	h1, err := remote.Hash()
	if err != nil {
		t.Fatalf("expected hashCode to cross the wire and succeed, got: %v", err)
	}
	h2, err := remote.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("h1 = %v, h2 = %v, want identical cached hash", h1, h2)
	}
}

func TestRemoteEqualAndHash(t *testing.T) {
	server, addr := startRegistry(t)
	defer server.Close()
	host, port, err := splitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Publish("echo", &EchoService{}); err != nil {
		t.Fatal(err)
	}

	client, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	r1, err := client.GetStub(context.Background(), host, port, "echo")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := client.GetStub(context.Background(), host, port, "echo")
	if err != nil {
		t.Fatal(err)
	}
	if !r1.Equal(r2) {
		t.Fatal("two stubs addressing the same (host, port, objectID) must be equal")
	}
}

type Animal interface {
	Speak() string
}

type Dog struct{}

func (Dog) Speak() string { return "woof" }

func TestExportInterfaceRejectsConcreteType(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	concreteType := reflect.TypeOf(Dog{})
	if err := r.ExportInterface(concreteType); err == nil {
		t.Fatal("expected an error exporting a concrete type as auto-remote")
	}

	ifaceType := reflect.TypeOf((*Animal)(nil)).Elem()
	if err := r.ExportInterface(ifaceType); err != nil {
		t.Fatalf("exporting a genuine interface should succeed: %v", err)
	}
}

func TestGetStubRejectsLocalObject(t *testing.T) {
	server, addr := startRegistry(t)
	defer server.Close()
	host, port, err := splitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Publish("echo", &EchoService{}); err != nil {
		t.Fatal(err)
	}

	// A registry calling GetStub against its own listener should recognize
	// the resolved remote registry id as itself and refuse the indirection.
	if _, err := server.GetStub(context.Background(), host, port, "echo"); err == nil {
		t.Fatal("expected GetStub against a locally published object to fail")
	}
}
