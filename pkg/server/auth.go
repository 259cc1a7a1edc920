package server

import (
	"net/http"
	"strings"

	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/model"
)

// authedHandler is an API handler that runs on behalf of a token holder.
type authedHandler func(w http.ResponseWriter, r *http.Request, req model.Requester)

// requireToken resolves the bearer token and passes its requester on.
func (s *Server) requireToken(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			s.metrics.FailedAuths.Add(1)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		token, err := s.store.GetTokenByHash(r.Context(), crypto.HashToken(raw))
		if err != nil {
			s.logger.Error("token lookup failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if token == nil || token.IsExpired(s.clock.Now()) {
			s.metrics.FailedAuths.Add(1)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}

		s.metrics.SuccessfulAuths.Add(1)
		s.metrics.APIRequests.Add(1)
		next(w, r, token.Requester().WithScope(s.cfg.ServerID))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
