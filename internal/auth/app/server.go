package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth/api/httpapi"
	"github.com/keyfold/keyfold/internal/auth/service"
	authsqlite "github.com/keyfold/keyfold/internal/auth/storage/sqlite"
)

const cleanupInterval = time.Hour

// Server hosts the auth harness HTTP API.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	svc        *service.Service
}

// New creates a configured server listening on the provided address.
func New(addr, dbPath string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openAuthStore(dbPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	svc := service.New(store)
	handler := httpapi.New(svc)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: handler.Routes()},
		store:      store,
		svc:        svc,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, addr, dbPath string) error {
	srv, err := New(addr, dbPath)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the HTTP server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.svc.StartCleanup(serverCtx, cleanupInterval)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "keyfold.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close auth store: %v", err)
	}
}
