package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/model"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if err := s.Open(s.ctx); err != nil {
		s.Shutdown()
		return err
	}

	if err := s.StartAPI(); err != nil {
		s.Shutdown()
		return err
	}

	s.logger.Info("gatelog server running",
		"api", s.cfg.ListenAddr,
		"server_id", s.cfg.ServerID,
		"discovery_key", fmt.Sprintf("%x", s.log.DiscoveryKey()),
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	s.logger.Info("shutting down...")
	s.Shutdown()
	return nil
}

// StartAPI binds the HTTPS control API.
func (s *Server) StartAPI() error {
	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return fmt.Errorf("server: tls: %w", err)
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen api: %w", err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
		},
	}
	s.logger.Info("control API listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpSrv.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control API error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.cancel()
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.httpSrv.Shutdown(ctx)
		cancel()
	}
	if s.admission != nil {
		_ = s.admission.Stop()
	}
	if s.log != nil {
		_ = s.log.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// ensureAdminToken creates an admin token only on first run (no tokens exist).
func (s *Server) ensureAdminToken(ctx context.Context) error {
	hasTokens, err := s.store.HasTokens(ctx)
	if err != nil {
		return fmt.Errorf("server: check tokens: %w", err)
	}
	if hasTokens {
		return nil // tokens already exist, don't generate more
	}

	rawToken, err := crypto.GenerateToken()
	if err != nil {
		return fmt.Errorf("server: generate admin token: %w", err)
	}

	token := &model.APIToken{
		Hash:     crypto.HashToken(rawToken),
		Label:    "admin",
		Role:     model.RoleAdmin,
		ServerID: s.cfg.ServerID,
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return fmt.Errorf("server: store admin token: %w", err)
	}

	s.logger.Info("========================================")
	s.logger.Info("ADMIN TOKEN (save this!):", "token", rawToken)
	s.logger.Info("========================================")
	return nil
}
