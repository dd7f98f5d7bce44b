package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"schedd/internal/eventbus"
	logx "schedd/pkg/logx"
)

type entry struct {
	h       Handler
	enabled bool
}

// Registry maps handler types to implementations. Reads dominate; SetEnabled
// may race with lookups from the processor and request handlers.
type Registry struct {
	mu      sync.RWMutex
	log     logx.Logger
	bus     eventbus.Bus
	entries map[string]*entry
}

func NewRegistry(log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:     log.With(logx.String("comp", "handlers")),
		bus:     bus,
		entries: map[string]*entry{},
	}
}

// Register adds h, replacing any handler with the same type.
func (r *Registry) Register(h Handler, enabled bool) error {
	if h == nil {
		return errors.New("handler is nil")
	}
	typ := typeKey(h.Type())
	if typ == "" {
		return errors.New("handler type is empty")
	}
	r.mu.Lock()
	_, replaced := r.entries[typ]
	r.entries[typ] = &entry{h: h, enabled: enabled}
	r.mu.Unlock()

	r.log.Debug("handler registered", logx.String("type", typ), logx.Bool("enabled", enabled), logx.Bool("replaced", replaced))
	return nil
}

// typeKey is the map key for a handler type. Registration and lookups
// must agree on it.
func typeKey(typ string) string { return strings.TrimSpace(typ) }

// Get returns the handler for typ when it is registered and enabled.
func (r *Registry) Get(typ string) (Handler, bool) {
	typ = typeKey(typ)
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	if !ok || !e.enabled {
		return nil, false
	}
	return e.h, true
}

// Resolve is Get with an error wrapping ErrHandlerNotFound.
func (r *Registry) Resolve(typ string) (Handler, error) {
	h, ok := r.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, typ)
	}
	return h, nil
}

func (r *Registry) IsRegistered(typ string) bool {
	typ = typeKey(typ)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[typ]
	return ok
}

// ListEnabled returns enabled handlers ordered by type.
func (r *Registry) ListEnabled() []Handler {
	return r.list(func(e *entry) bool { return e.enabled })
}

// ListAutoProcessable returns enabled handlers whose AutoProcess default is true.
func (r *Registry) ListAutoProcessable() []Handler {
	return r.list(func(e *entry) bool { return e.enabled && e.h.AutoProcess() })
}

func (r *Registry) list(keep func(*entry) bool) []Handler {
	r.mu.RLock()
	out := make([]Handler, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e.h)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}

// SetEnabled toggles a registered handler. The change lives only in memory.
func (r *Registry) SetEnabled(typ string, enabled bool) error {
	typ = typeKey(typ)
	r.mu.Lock()
	e, ok := r.entries[typ]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrHandlerNotFound, typ)
	}
	changed := e.enabled != enabled
	e.enabled = enabled
	r.mu.Unlock()

	if changed {
		r.log.Info("handler toggled", logx.String("type", typ), logx.Bool("enabled", enabled))
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: eventbus.HandlerToggled, Data: Status{Type: typ, Enabled: enabled}})
		}
	}
	return nil
}

// ApplyEnabled overrides enabled flags from configuration. Unknown types are
// reported back so the caller can log them.
func (r *Registry) ApplyEnabled(flags map[string]bool) (unknown []string) {
	for typ, on := range flags {
		if err := r.SetEnabled(typ, on); err != nil {
			unknown = append(unknown, typ)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// Status is a diagnostic view of one registration.
type Status struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	AutoProcess bool   `json:"auto_process"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
}

func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.entries))
	for typ, e := range r.entries {
		st := Status{
			Type:        typ,
			Name:        e.h.Name(),
			Description: e.h.Description(),
			Enabled:     e.enabled,
			AutoProcess: e.h.AutoProcess(),
		}
		if p, ok := e.h.(Presenter); ok {
			st.Icon = p.Icon()
			st.Color = p.Color()
		}
		out = append(out, st)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Registration is one manifest line.
type Registration struct {
	Handler Handler
	Enabled bool
}

// Manifest is the fixed list of handlers compiled into the binary.
type Manifest []Registration

// ApplyManifest replaces the registry contents with m, calling Init on
// handlers that implement Initializer. A handler whose Init fails is
// registered disabled.
func (r *Registry) ApplyManifest(ctx context.Context, m Manifest, deps Deps) error {
	fresh := make(map[string]*entry, len(m))
	var errs []error
	for _, reg := range m {
		if reg.Handler == nil {
			continue
		}
		typ := typeKey(reg.Handler.Type())
		if typ == "" {
			errs = append(errs, errors.New("manifest entry with empty type"))
			continue
		}
		enabled := reg.Enabled
		if in, ok := reg.Handler.(Initializer); ok {
			if err := in.Init(ctx, deps); err != nil {
				r.log.Warn("handler init failed; registering disabled", logx.String("type", typ), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", typ, err))
				enabled = false
			}
		}
		fresh[typ] = &entry{h: reg.Handler, enabled: enabled}
	}

	r.mu.Lock()
	r.entries = fresh
	r.mu.Unlock()

	r.log.Info("handler manifest applied", logx.Int("count", len(fresh)))
	return errors.Join(errs...)
}
