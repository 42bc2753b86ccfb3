// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the OAuth authorization server: it wires the
// entity store, signing keys, token factory and HTTP handlers into a
// runnable http.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aegis-oauth/aegis/pkg/authserver"
	"github.com/aegis-oauth/aegis/pkg/authserver/handlers"
	"github.com/aegis-oauth/aegis/pkg/authserver/keys"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/authserver/token"
	"github.com/aegis-oauth/aegis/pkg/authserver/userauth"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

const (
	requestTimeout    = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server is an assembled OAuth authorization server.
type Server struct {
	config  *authserver.Config
	store   storage.Store
	handler http.Handler
}

// New wires the server from its collaborators. The config must already be
// validated.
func New(
	cfg *authserver.Config,
	store storage.Store,
	keyProvider keys.Provider,
	users userauth.Authenticator,
) *Server {
	signer := token.NewSigner(cfg.BaseURL, keyProvider)
	factory := token.NewFactory(store, signer, cfg)
	handler := handlers.NewHandler(cfg, store, factory, signer, users)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Timeout(requestTimeout),
	)
	handler.OAuthRoutes(r)
	r.Get("/health", healthHandler(store))

	return &Server{
		config:  cfg,
		store:   store,
		handler: r,
	}
}

// Handler returns the server's HTTP handler. Useful for tests and for
// embedding the endpoints in a larger router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on address and serves until ctx is cancelled, then shuts
// down gracefully. The caller is expected to set up signal handling.
func (s *Server) Serve(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Infow("authorization server started", "address", address, "issuer", s.config.BaseURL)

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	logger.Info("authorization server stopped")
	return nil
}

func healthHandler(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Health(r.Context()); err != nil {
			logger.Errorw("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
