package httpapi

import (
	"context"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	logx "schedd/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

type Config struct {
	Enabled      bool
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	BodyLimit    int
	Pprof        bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

// Server owns the listener lifecycle. Apply starts, restarts or stops it to
// match the config.
type Server struct {
	deps Deps
	log  logx.Logger

	mu   sync.Mutex
	cfg  Config
	app  *fiber.App
	ln   net.Listener
	addr string
	done chan struct{}
}

func NewServer(d Deps) *Server {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{deps: d, log: log.With(logx.String("comp", "http"))}
}

func (s *Server) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		s.cfg = cfg
		return nil
	}
	if s.app != nil && reflect.DeepEqual(s.cfg, cfg) {
		return nil
	}
	s.stopLocked(ctx)
	if err := s.startLocked(cfg); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

func (s *Server) startLocked(cfg Config) error {
	full := cfg.withDefaults()
	ln, err := net.Listen("tcp", full.Addr)
	if err != nil {
		return err
	}
	app := New(cfg, s.deps)
	done := make(chan struct{})

	s.app = app
	s.ln = ln
	s.addr = ln.Addr().String()
	s.done = done

	addr := s.addr
	go func() {
		defer close(done)
		if err := app.Listener(ln); err != nil {
			s.log.Warn("http server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("http api listening", logx.String("addr", addr))
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.app == nil {
		return
	}
	app, done, addr := s.app, s.done, s.addr
	s.app, s.ln, s.done, s.addr = nil, nil, nil, ""

	if ctx == nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(sctx); err != nil {
		s.log.Warn("http shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	select {
	case <-done:
	case <-sctx.Done():
	}
	s.log.Info("http api stopped", logx.String("addr", addr))
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
