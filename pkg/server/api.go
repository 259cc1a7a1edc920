package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/invite"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/pairing"
	"github.com/NicolasHaas/gatelog/pkg/protocol"
	"github.com/NicolasHaas/gatelog/pkg/version"
)

// Handler returns the control API. Valid after Open.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.PathInfo, s.handleInfo)
	mux.HandleFunc("POST "+protocol.PathPair, s.handlePair)

	mux.HandleFunc("POST "+protocol.PathInvites, s.requireToken(s.handleCreateInvite))
	mux.HandleFunc("GET "+protocol.PathInvites, s.requireToken(s.handleListInvites))
	mux.HandleFunc("GET "+protocol.PathInvite, s.requireToken(s.handleShowInvite))
	mux.HandleFunc("DELETE "+protocol.PathInvite, s.requireToken(s.handleRevokeInvite))
	mux.HandleFunc("POST "+protocol.PathClaims, s.requireToken(s.handleClaimInvite))
	mux.HandleFunc("POST "+protocol.PathTokens, s.requireToken(s.handleCreateToken))
	mux.HandleFunc("GET "+protocol.PathExport, s.requireToken(s.handleExport))
	return mux
}

func inviteInfo(inv *model.Invite) protocol.InviteInfo {
	return protocol.InviteInfo{
		ID:             inv.HexID(),
		Code:           inv.Code,
		ServerID:       inv.ServerID,
		ExpiresAt:      inv.ExpiresAt,
		ProtocolExpiry: inv.ProtocolExpiry,
		CreatedAt:      inv.CreatedAt,
		CreatedBy:      inv.CreatedBy,
		Revoked:        inv.Revoked,
		RevokedAt:      inv.RevokedAt,
		RevokedBy:      inv.RevokedBy,
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	build := version.Build()
	writeJSON(w, http.StatusOK, protocol.InfoResponse{
		ServerID:     s.cfg.ServerID,
		DiscoveryKey: fmt.Sprintf("%x", s.log.DiscoveryKey()),
		Version:      build.Version,
		Commit:       build.Commit,
		BuiltAt:      build.Date,
	})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request, req model.Requester) {
	var body protocol.CreateInviteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := expiryOptions(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code, err := s.invites.Issue(r.Context(), req, opts)
	if err != nil {
		s.writeInviteError(w, "issue invite", err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.CreateInviteResponse{Code: code})
}

// expiryOptions converts b into ExpiryOptions. Counts that are not
// whole numbers are rejected here, before any precedence is applied.
func expiryOptions(b protocol.CreateInviteRequest) (invite.ExpiryOptions, error) {
	var opts invite.ExpiryOptions
	if b.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, b.ExpiresAt)
		if err != nil {
			return opts, fmt.Errorf("expires_at: %w", err)
		}
		opts.ExpiresAt = t
	}

	fields := []struct {
		name string
		raw  json.Number
		dst  *int
	}{
		{"expire_in_days", b.ExpireInDays, &opts.Days},
		{"expire_in_hours", b.ExpireInHours, &opts.Hours},
		{"expire_in_minutes", b.ExpireInMinutes, &opts.Minutes},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(f.raw.String()))
		if err != nil {
			return opts, fmt.Errorf("%s: not a whole number: %q", f.name, f.raw)
		}
		*f.dst = n
	}
	return opts, opts.Validate()
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request, req model.Requester) {
	if !s.perms.HasPermission(model.PermReadInvites, req) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	serverID := r.URL.Query().Get("server_id")
	if serverID == "" {
		serverID = s.cfg.ServerID
	}
	st := s.invites.Store()
	var invites []model.Invite
	if r.URL.Query().Get("all") == "true" {
		invites = st.List(r.Context(), serverID)
	} else {
		invites = st.ListActive(r.Context(), serverID)
	}

	resp := protocol.ListInvitesResponse{Invites: make([]protocol.InviteInfo, 0, len(invites))}
	for i := range invites {
		resp.Invites = append(resp.Invites, inviteInfo(&invites[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleShowInvite(w http.ResponseWriter, r *http.Request, _ model.Requester) {
	inv := s.invites.Store().ResolveToken(r.Context(), r.PathValue("code"))
	if inv == nil {
		writeError(w, http.StatusNotFound, "invite not found")
		return
	}
	writeJSON(w, http.StatusOK, inviteInfo(inv))
}

func (s *Server) handleRevokeInvite(w http.ResponseWriter, r *http.Request, req model.Requester) {
	revoked, err := s.invites.Revoke(r.Context(), req, r.PathValue("code"))
	if err != nil {
		s.writeInviteError(w, "revoke invite", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.RevokeInviteResponse{Revoked: revoked})
}

func (s *Server) handleClaimInvite(w http.ResponseWriter, r *http.Request, req model.Requester) {
	if !s.cfg.OptimisticClaims {
		writeError(w, http.StatusNotFound, "claims are not enabled")
		return
	}

	var body protocol.ClaimInviteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	claimedBy := body.ClaimedBy
	if claimedBy == "" {
		claimedBy = req.UserID
	}

	if err := s.invites.Claim(r.Context(), r.PathValue("code"), claimedBy, body.Timestamp); err != nil {
		s.writeInviteError(w, "claim invite", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request, req model.Requester) {
	if !s.perms.HasPermission(model.PermManageRoles, req) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	var body protocol.CreateTokenRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.ExpiresInHours < 0 || int64(body.ExpiresInHours) > int64(invite.MaxTTL/time.Hour) {
		writeError(w, http.StatusBadRequest, "expires_in_hours out of range")
		return
	}

	raw, err := crypto.GenerateToken()
	if err != nil {
		s.logger.Error("generate token", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	now := s.clock.Now()
	token := &model.APIToken{
		Hash:      crypto.HashToken(raw),
		Label:     body.Label,
		Role:      model.ParseRole(body.Role),
		ServerID:  s.cfg.ServerID,
		CreatedAt: now,
	}
	if body.ExpiresInHours > 0 {
		token.ExpiresAt = now.Add(time.Duration(body.ExpiresInHours) * time.Hour)
	}
	if err := s.store.CreateToken(r.Context(), token); err != nil {
		s.logger.Error("store token", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.metrics.TokensCreated.Add(1)
	s.logger.Info("token created", "by", req.UserID, "label", token.Label, "role", token.Role.String())
	writeJSON(w, http.StatusCreated, protocol.CreateTokenResponse{ID: token.ID, Token: raw})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, req model.Requester) {
	if !s.perms.HasPermission(model.PermReadInvites, req) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}
	data, err := ExportInvitesYAML(r.Context(), s.log.View())
	if err != nil {
		s.logger.Error("export invites", "err", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", protocol.ContentTypeYAML)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handlePair runs one pairing handshake. Every failure gets the same 403 so
// a candidate cannot tell an unknown invite from a revoked or expired one.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	s.metrics.PairRequests.Add(1)

	data, err := io.ReadAll(io.LimitReader(r.Body, protocol.MaxPairBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	req, err := pairing.ParseRequest(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed pairing request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PairTimeout)
	defer cancel()
	reply, err := s.pairing.Submit(ctx, req)
	if err != nil {
		s.logger.Debug("pairing request not admitted", "remote", r.RemoteAddr, "err", err)
		writeError(w, http.StatusForbidden, "not admitted")
		return
	}
	out, err := reply.Marshal()
	if err != nil {
		s.logger.Error("marshal pairing reply", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", protocol.ContentTypeCBOR)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) writeInviteError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, invite.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, invite.ErrInvalidExpiry), errors.Is(err, invite.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, protocol.MaxJSONBody))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}
