// Package server runs a gatelog node: the action log, the invite
// lifecycle behind an HTTPS control API, and pairing admission.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/NicolasHaas/gatelog/pkg/actionlog"
	"github.com/NicolasHaas/gatelog/pkg/clock"
	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/invite"
	"github.com/NicolasHaas/gatelog/pkg/logging"
	"github.com/NicolasHaas/gatelog/pkg/pairing"
	"github.com/NicolasHaas/gatelog/pkg/rbac"
	"github.com/NicolasHaas/gatelog/pkg/store"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store  store.DataStore
	Clock  clock.Clock  // optional; defaults to the wall clock
	Logger *slog.Logger // optional; defaults to the slog default
}

// Server is the main gatelog server.
type Server struct {
	cfg     Config
	metrics *Metrics
	store   store.DataStore
	clock   clock.Clock
	baseLog *slog.Logger
	logger  *slog.Logger

	log       *actionlog.Log
	perms     *rbac.Engine
	pairing   *pairing.Service
	invites   *invite.Manager
	admission *invite.Admission
	httpSrv   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		metrics: NewMetrics(),
		store:   deps.Store,
		clock:   clock.Or(deps.Clock),
		baseLog: deps.Logger,
		logger:  logging.Component(deps.Logger, "server"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Open loads the node's keys, opens the action log and starts admitting
// pairing candidates. It does not bind any listener.
func (s *Server) Open(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	if err := os.MkdirAll(s.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("server: create data dir: %w", err)
	}

	signingKey, created, err := crypto.LoadOrGenerateSigningKey(s.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("server: signing key: %w", err)
	}
	if created {
		s.logger.Info("generated signing key", "dir", s.cfg.DataDir)
	}
	signer, err := crypto.NewSigner(signingKey)
	if err != nil {
		return fmt.Errorf("server: signer: %w", err)
	}

	keys, err := crypto.LoadOrGenerateLogKeys(s.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("server: log keys: %w", err)
	}

	l, err := actionlog.Open(ctx, actionlog.Options{Store: s.store, Keys: keys, Logger: s.baseLog})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	s.log = l
	s.perms = rbac.NewEngine(s.cfg.ServerID)
	s.pairing = pairing.NewService(s.clock, s.baseLog)

	s.invites, err = invite.NewManager(invite.Config{
		ServerID:    s.cfg.ServerID,
		Log:         l,
		View:        l.View(),
		Pairing:     s.pairing,
		Permissions: s.perms,
		Signer:      signer,
		Clock:       s.clock,
		Logger:      s.baseLog,
		Observer:    s.metrics,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	s.admission, err = s.invites.StartAdmission(s.pairing)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	// Ensure at least one admin token exists
	return s.ensureAdminToken(ctx)
}

// Invites returns the invite manager. Valid after Open.
func (s *Server) Invites() *invite.Manager {
	return s.invites
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
