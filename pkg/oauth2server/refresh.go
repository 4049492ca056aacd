package oauth2server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
)

// Spec §4.8's refresh-token rotation grace windows, measured from the
// previous token's IssuedAt (which is refreshed on every successful
// rotation, so the window always applies to the MOST RECENT hand-off,
// not the original grant).
const (
	// replayWindow: a refresh request for a token already marked Used
	// within this window re-issues the exact same access+refresh token
	// pair rather than erroring, tolerating a client that retried a
	// timed-out request whose first response never arrived.
	replayWindow = 10 * time.Second

	// reuseWindow: beyond replayWindow but within this window, the
	// refresh token itself is NOT rotated (its family survives); only a
	// fresh access token is minted. This absorbs near-simultaneous
	// refreshes from a client with multiple in-flight requests.
	reuseWindow = 60 * time.Second

	// Beyond reuseWindow, a refresh attempt against an already-used
	// token is treated as token theft: the entire family is revoked.
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleRefreshGrant implements the refresh_token grant directly against
// storage.OAuth2Store, bypassing fosite's own refresh handler so the
// grace-window semantics above can be applied (fosite's CAS-free rotation
// model has no equivalent).
func (s *Server) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	clientID, _, ok := clientCredentialsFromRequest(r)
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication required")
		return
	}
	refreshToken := r.PostForm.Get("refresh_token")
	if refreshToken == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	row, err := s.store.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
		return
	}
	if row.ClientID != clientID {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token was not issued to this client")
		return
	}

	now := s.now()

	if row.Used {
		age := now.Sub(row.UsedAt)
		switch {
		case age <= replayWindow:
			s.reissueIdentical(w, ctx, row)
			return
		case age <= reuseWindow:
			s.reissueAccessTokenOnly(w, ctx, row)
			return
		default:
			if derr := s.store.DeleteFamily(ctx, row.FamilyID); derr != nil {
				writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not revoke token family")
				return
			}
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token reuse detected, family revoked")
			return
		}
	}

	s.rotateRefreshToken(w, ctx, row)
}

// reissueIdentical replays the same access+refresh token pair the prior
// rotation minted, recovering from a client retry within replayWindow.
func (s *Server) reissueIdentical(w http.ResponseWriter, ctx context.Context, row *storage.OAuth2RefreshToken) {
	accessToken, err := s.store.GetAccessToken(ctx, accessTokenForReplay(row))
	if err != nil || accessToken == nil {
		s.rotateRefreshToken(w, ctx, row)
		return
	}
	writeTokenResponse(w, accessToken.Token, row.Token, accessToken.ExpiresAt, row.Scope, s.now())
}

// accessTokenForReplay recovers the access token signature minted
// alongside row.ReplacedBy; ReplacedBy stores that access token's
// signature so a replay within replayWindow need not mint a new one.
func accessTokenForReplay(row *storage.OAuth2RefreshToken) string {
	return row.ReplacedBy
}

// reissueAccessTokenOnly mints a fresh access token but keeps the same
// refresh token alive, for requests landing in the 10-60s reuse window.
func (s *Server) reissueAccessTokenOnly(w http.ResponseWriter, ctx context.Context, row *storage.OAuth2RefreshToken) {
	accessLifespan := s.fconfig.AccessTokenLifespan
	token := newOpaqueToken()
	expiresAt := s.now().Add(accessLifespan)
	if err := s.store.PutAccessToken(ctx, &storage.OAuth2AccessToken{
		Token:     token,
		ClientID:  row.ClientID,
		ActorID:   row.ActorID,
		Scope:     row.Scope,
		ExpiresAt: expiresAt,
	}); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not mint access token")
		return
	}
	writeTokenResponse(w, token, row.Token, expiresAt, row.Scope, s.now())
}

// rotateRefreshToken performs the normal rotation: atomically mark row
// used (CAS guards the race where two requests reach here concurrently),
// mint a new access+refresh token pair in the same family, and return
// the pair. If the CAS loses the race, the caller already rotated
// behind our back; re-read and recurse through the Used branch.
func (s *Server) rotateRefreshToken(w http.ResponseWriter, ctx context.Context, row *storage.OAuth2RefreshToken) {
	newRefresh := newOpaqueToken()
	newAccess := newOpaqueToken()
	now := s.now()

	if err := s.store.MarkRefreshTokenUsedCAS(ctx, row.Token, newAccess, now.Unix()); err != nil {
		if errors.Is(err, awerrors.Conflict) {
			fresh, rerr := s.store.GetRefreshToken(ctx, row.Token)
			if rerr == nil {
				s.handleAlreadyRotated(w, ctx, fresh)
				return
			}
		}
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not rotate refresh token")
		return
	}

	accessExpiresAt := now.Add(s.fconfig.AccessTokenLifespan)
	if err := s.store.PutAccessToken(ctx, &storage.OAuth2AccessToken{
		Token: newAccess, ClientID: row.ClientID, ActorID: row.ActorID, Scope: row.Scope, ExpiresAt: accessExpiresAt,
	}); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not mint access token")
		return
	}
	refreshExpiresAt := now.Add(s.fconfig.RefreshTokenLifespan)
	if err := s.store.PutRefreshToken(ctx, &storage.OAuth2RefreshToken{
		Token: newRefresh, ClientID: row.ClientID, ActorID: row.ActorID, Scope: row.Scope,
		FamilyID: row.FamilyID, IssuedAt: now, ExpiresAt: refreshExpiresAt,
	}); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not mint refresh token")
		return
	}

	writeTokenResponse(w, newAccess, newRefresh, accessExpiresAt, row.Scope, now)
}

// handleAlreadyRotated re-enters the Used-row dispatch after losing a
// rotation race, so a concurrent retry still benefits from the replay
// and reuse grace windows instead of erroring outright.
func (s *Server) handleAlreadyRotated(w http.ResponseWriter, ctx context.Context, row *storage.OAuth2RefreshToken) {
	age := s.now().Sub(row.UsedAt)
	switch {
	case age <= replayWindow:
		s.reissueIdentical(w, ctx, row)
	case age <= reuseWindow:
		s.reissueAccessTokenOnly(w, ctx, row)
	default:
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token already rotated")
	}
}

func writeTokenResponse(w http.ResponseWriter, accessToken, refreshToken string, expiresAt time.Time, scope string, now time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(expiresAt.Sub(now).Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	})
}

func newOpaqueToken() string {
	return randomToken(32)
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
