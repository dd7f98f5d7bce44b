package handler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"schedd/internal/eventbus"
	logx "schedd/pkg/logx"
)

type stubHandler struct {
	typ     string
	auto    bool
	initErr error
	inited  bool
}

func (s *stubHandler) Type() string        { return s.typ }
func (s *stubHandler) Name() string        { return "stub " + s.typ }
func (s *stubHandler) Description() string { return "" }
func (s *stubHandler) AutoProcess() bool   { return s.auto }
func (s *stubHandler) ProcessScheduled(context.Context, int64) (bool, error) {
	return true, nil
}
func (s *stubHandler) Init(context.Context, Deps) error {
	s.inited = true
	return s.initErr
}

func TestRegistryGetAndToggle(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, eventbus.HandlerToggled)
	defer unsub()

	r := NewRegistry(logx.Nop(), bus)
	if err := r.Register(&stubHandler{typ: "a", auto: true}, true); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&stubHandler{typ: "b"}, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := r.Get("a"); !ok {
		t.Fatalf("expected a to resolve")
	}
	if _, ok := r.Get("b"); ok {
		t.Fatalf("disabled handler should not resolve")
	}
	if !r.IsRegistered("b") {
		t.Fatalf("disabled handler is still registered")
	}
	if _, err := r.Resolve("missing"); !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}

	if err := r.SetEnabled("b", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if got := len(r.ListEnabled()); got != 2 {
		t.Fatalf("expected 2 enabled, got %d", got)
	}
	if got := r.ListAutoProcessable(); len(got) != 1 || got[0].Type() != "a" {
		t.Fatalf("unexpected auto-processable: %v", got)
	}
	if e := <-ch; e.Data.(Status).Type != "b" {
		t.Fatalf("unexpected toggle event: %+v", e)
	}
	if err := r.SetEnabled("nope", true); !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestRegistryReplaceByType(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logx.Nop(), nil)
	first := &stubHandler{typ: "a"}
	second := &stubHandler{typ: "a", auto: true}
	_ = r.Register(first, true)
	_ = r.Register(second, true)

	h, _ := r.Get("a")
	if h != second {
		t.Fatalf("re-register should replace the handler")
	}
	if n := len(r.Statuses()); n != 1 {
		t.Fatalf("expected one registration, got %d", n)
	}
	if err := r.Register(&stubHandler{}, true); err == nil {
		t.Fatalf("expected error for empty type")
	}
}

func TestRegistryTrimsTypeOnLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logx.Nop(), nil)
	h := &stubHandler{typ: " padded "}
	if err := r.Register(h, true); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, key := range []string{"padded", " padded ", "padded\t"} {
		if got, ok := r.Get(key); !ok || got != h {
			t.Fatalf("Get(%q) = %v, %v", key, got, ok)
		}
		if !r.IsRegistered(key) {
			t.Fatalf("IsRegistered(%q) = false", key)
		}
	}
	if err := r.SetEnabled(" padded", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if _, ok := r.Get("padded"); ok {
		t.Fatalf("handler still enabled after toggle")
	}
}

func TestApplyManifest(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logx.Nop(), nil)
	_ = r.Register(&stubHandler{typ: "stale"}, true)

	good := &stubHandler{typ: "good", auto: true}
	bad := &stubHandler{typ: "bad", initErr: errors.New("boom")}
	err := r.ApplyManifest(context.Background(), Manifest{
		{Handler: good, Enabled: true},
		{Handler: bad, Enabled: true},
	}, Deps{})
	if err == nil {
		t.Fatalf("expected init error to be reported")
	}
	if !good.inited || !bad.inited {
		t.Fatalf("expected Init to run on both handlers")
	}
	if r.IsRegistered("stale") {
		t.Fatalf("manifest should replace previous registrations")
	}
	if _, ok := r.Get("bad"); ok {
		t.Fatalf("handler with failed init should be disabled")
	}

	unknown := r.ApplyEnabled(map[string]bool{"good": false, "ghost": true})
	if len(unknown) != 1 || unknown[0] != "ghost" {
		t.Fatalf("unexpected unknown list: %v", unknown)
	}
	if _, ok := r.Get("good"); ok {
		t.Fatalf("config override should disable good")
	}
}

func TestRegistryConcurrentToggle(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logx.Nop(), nil)
	_ = r.Register(&stubHandler{typ: "a"}, true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(on bool) {
			defer wg.Done()
			_ = r.SetEnabled("a", on)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_, _ = r.Get("a")
			_ = r.Statuses()
		}()
	}
	wg.Wait()
	if !r.IsRegistered("a") {
		t.Fatalf("registration lost")
	}
}
