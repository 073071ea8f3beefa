package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"enrichd/internal/platform/logger"
)

const shutdownGrace = 5 * time.Second

// Server serves a chi mux until its Run context ends
type Server struct {
	mux *chi.Mux
	srv *stdhttp.Server
}

// Listen builds a server for addr; each opt gets the mux to add middleware and routes
func Listen(addr string, opts ...func(*chi.Mux)) *Server {
	m := chi.NewRouter()
	for _, o := range opts {
		o(m)
	}
	return &Server{
		mux: m,
		srv: &stdhttp.Server{Addr: addr, Handler: m, ReadHeaderTimeout: 10 * time.Second},
	}
}

// Router exposes the mux through the Router facade
func (s *Server) Router() Router { return AdaptChi(s.mux) }

// Addr is the configured listen address
func (s *Server) Addr() string { return s.srv.Addr }

// Run serves until ctx is done, then drains in-flight requests for up to 5s.
// A clean shutdown returns nil
func (s *Server) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		_ = s.srv.Shutdown(sctx)
	})
	defer stop()

	logger.Named("http").Info().Str("addr", s.srv.Addr).Msg("http: listening")
	if err := s.srv.ListenAndServe(); !errors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}
