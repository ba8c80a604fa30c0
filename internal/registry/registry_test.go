package registry

import (
	"reflect"
	"testing"
	"time"
)

type widget struct{ n int }

type Greetable interface {
	Greet() string
}

func (w *widget) Greet() string { return "hi" }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestPublishUsesNameAsIdentifier(t *testing.T) {
	r := newTestRegistry(t)
	w := &widget{}
	s, err := r.Publish("echo", w)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID() != "echo" {
		t.Fatalf("id = %q, want echo", s.ID())
	}
	got, ok := r.SkeletonByID("echo")
	if !ok || got != s {
		t.Fatal("SkeletonByID did not resolve the published name")
	}
}

func TestPublishFallsBackToAutoIDWhenNameCollidesWithAnID(t *testing.T) {
	r := newTestRegistry(t)
	// Auto-publish something under the literal id "dup" first.
	r.mu.Lock()
	r.publishLocked(&widget{n: 1}, "dup")
	r.mu.Unlock()

	s, err := r.Publish("dup", &widget{n: 2})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID() == "dup" {
		t.Fatal("expected an auto-generated id, got the colliding literal name")
	}
}

func TestPublishSameObjectTwiceReusesSkeleton(t *testing.T) {
	r := newTestRegistry(t)
	w := &widget{}
	s1, err := r.Publish("a", w)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := r.Publish("b", w)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatal("publishing the same object identity twice must reuse one skeleton")
	}
	if s2.NameCount() != 2 {
		t.Fatalf("name count = %d, want 2", s2.NameCount())
	}
}

func TestPublishRejectsRebindingNameToDifferentObject(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Publish("svc", &widget{n: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Publish("svc", &widget{n: 2}); err == nil {
		t.Fatal("expected an error rebinding an existing name to a different object")
	}
}

func TestUnpublishSchedulesRemovalWhenEligible(t *testing.T) {
	r := newTestRegistry(t)
	r.cfg.LatencyTime = 0
	w := &widget{}
	if _, err := r.Publish("svc", w); err != nil {
		t.Fatal(err)
	}
	if err := r.Unpublish("svc"); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Lookup("svc"); ok {
		t.Fatal("name should be unbound immediately")
	}
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := r.SkeletonByID("svc"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("skeleton still published after its scheduled removal should have fired")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUnpublishUnknownName(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Unpublish("nope"); err == nil {
		t.Fatal("expected an error unpublishing a name that was never bound")
	}
}

func TestIdentityLookup(t *testing.T) {
	r := newTestRegistry(t)
	w := &widget{}
	s, err := r.Publish("svc", w)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := r.IdentityLookup(w)
	if !ok || got != s {
		t.Fatal("IdentityLookup did not resolve the published object")
	}
	if _, ok := r.IdentityLookup(&widget{}); ok {
		t.Fatal("IdentityLookup resolved an unpublished object")
	}
}

func TestExportInterfaceRejectsMarkerAndConcreteTypes(t *testing.T) {
	r := newTestRegistry(t)

	concreteType := reflect.TypeOf(widget{})
	if err := r.ExportInterface(concreteType); err == nil {
		t.Fatal("expected an error exporting a concrete struct type")
	}

	type Marker interface{}
	markerType := reflect.TypeOf((*Marker)(nil)).Elem()
	if err := r.ExportInterface(markerType); err == nil {
		t.Fatal("expected an error exporting a zero-method marker interface")
	}

	greetableType := reflect.TypeOf((*Greetable)(nil)).Elem()
	if err := r.ExportInterface(greetableType); err != nil {
		t.Fatalf("exporting a real interface should succeed: %v", err)
	}
	if !r.AutoRemoteMatch(&widget{}) {
		t.Fatal("widget implements Greetable, should auto-remote-match")
	}
	names := r.InterfaceNamesOf(&widget{})
	if len(names) != 1 {
		t.Fatalf("interface names = %v, want exactly one", names)
	}
}

type fakeHandler struct {
	id       string
	disposed bool
}

func (f *fakeHandler) RemoteRegistryID() string { return f.id }
func (f *fakeHandler) Disposed() bool           { return f.disposed }

func TestHandlerPoolLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	h1 := &fakeHandler{id: "peer1"}
	h2 := &fakeHandler{id: "peer1"}
	h3 := &fakeHandler{id: "peer2"}

	r.RegisterHandler(h1)
	r.RegisterHandler(h2)
	r.RegisterHandler(h3)

	if got := len(r.HandlersFor("peer1")); got != 2 {
		t.Fatalf("HandlersFor(peer1) = %d, want 2", got)
	}
	if got := len(r.AllHandlers()); got != 3 {
		t.Fatalf("AllHandlers = %d, want 3", got)
	}

	h1.disposed = true
	if got := len(r.HandlersFor("peer1")); got != 1 {
		t.Fatalf("HandlersFor(peer1) after disposal = %d, want 1 live", got)
	}

	r.UnregisterHandler(h2)
	r.UnregisterHandler(h3)
	if _, ok := r.handlers["peer2"]; ok {
		t.Fatal("pool for peer2 should be removed once empty")
	}
}
