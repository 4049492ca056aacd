package oauth2server

import (
	"context"
	"strings"
	"time"

	"github.com/ory/fosite"

	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
)

// fositeStorage adapts pkg/storage.Interfaces to the subset of fosite
// storage interfaces the authorization_code + PKCE handlers need
// (fosite.ClientManager, oauth2.AuthorizeCodeStorage,
// oauth2.AccessTokenStorage, oauth2.RefreshTokenStorage,
// pkce.PKCERequestStorage), grounded on the method set exercised by the
// teacher's pkg/authserver/storage/memory_test.go (CreateAuthorizeCodeSession,
// GetAuthorizeCodeSession, InvalidateAuthorizeCodeSession,
// CreateAccessTokenSession, GetAccessTokenSession, DeleteAccessTokenSession,
// CreateRefreshTokenSession, GetRefreshTokenSession, RotateRefreshToken,
// DeleteRefreshTokenSession, CreatePKCERequestSession, GetPKCERequestSession,
// DeletePKCERequestSession). The refresh-token rotation grace window
// required by spec §4.8 is NOT implemented here: fosite's own refresh
// grant handler is never registered with this server (see provider.go);
// refresh is instead handled by refresh.go directly against
// storage.OAuth2Store, so these RefreshTokenStorage methods exist only to
// satisfy fosite's oauth2.CoreStorage contract for the authorize_code
// handler, which issues the *first* refresh token of a family.
type fositeStorage struct {
	store storage.Interfaces
}

func newFositeStorage(store storage.Interfaces) *fositeStorage {
	return &fositeStorage{store: store}
}

// GetClient implements fosite.ClientManager.
func (s *fositeStorage) GetClient(ctx context.Context, id string) (fosite.Client, error) {
	row, err := s.store.GetClient(ctx, id)
	if err != nil {
		return nil, fosite.ErrNotFound
	}
	return &client{row: row}, nil
}

func splitScope(scope string) fosite.Arguments {
	if scope == "" {
		return fosite.Arguments{}
	}
	return fosite.Arguments(strings.Fields(scope))
}

func joinScope(a fosite.Arguments) string { return strings.Join(a, " ") }

func (s *fositeStorage) requestFrom(clientID string, scope string, actorID string, requestedAt time.Time, sess fosite.Session) (fosite.Requester, error) {
	row, err := s.store.GetClient(context.Background(), clientID)
	if err != nil {
		return nil, fosite.ErrNotFound
	}
	req := fosite.NewRequest()
	req.Client = &client{row: row}
	req.RequestedScope = splitScope(scope)
	req.GrantedScope = splitScope(scope)
	req.RequestedAt = requestedAt
	if sess == nil {
		sess = newSession(actorID, clientID, scope)
	}
	req.Session = sess
	return req, nil
}

// --- Authorize code storage ---

func (s *fositeStorage) CreateAuthorizeCodeSession(ctx context.Context, code string, request fosite.Requester) error {
	sess, _ := request.GetSession().(*session)
	actorID := ""
	if sess != nil {
		actorID = sess.ActorID
	}
	return s.store.PutAuthCode(ctx, &storage.OAuth2AuthCode{
		Code:      code,
		ClientID:  request.GetClient().GetID(),
		ActorID:   actorID,
		Scope:     joinScope(request.GetGrantedScopes()),
		ExpiresAt: request.GetSession().GetExpiresAt(fosite.AuthorizeCode),
	})
}

func (s *fositeStorage) GetAuthorizeCodeSession(ctx context.Context, code string, sess fosite.Session) (fosite.Requester, error) {
	row, err := s.store.GetAuthCode(ctx, code)
	if err != nil {
		return nil, fosite.ErrNotFound
	}
	req, rerr := s.requestFrom(row.ClientID, row.Scope, row.ActorID, time.Now(), sess)
	if rerr != nil {
		return req, rerr
	}
	if row.Used {
		return req, fosite.ErrInvalidatedAuthorizeCode
	}
	return req, nil
}

func (s *fositeStorage) InvalidateAuthorizeCodeSession(ctx context.Context, code string) error {
	return s.store.ConsumeAuthCode(ctx, code)
}

// --- Access token storage ---

func (s *fositeStorage) CreateAccessTokenSession(ctx context.Context, signature string, request fosite.Requester) error {
	sess, _ := request.GetSession().(*session)
	actorID := ""
	if sess != nil {
		actorID = sess.ActorID
	}
	return s.store.PutAccessToken(ctx, &storage.OAuth2AccessToken{
		Token:     signature,
		ClientID:  request.GetClient().GetID(),
		ActorID:   actorID,
		Scope:     joinScope(request.GetGrantedScopes()),
		ExpiresAt: request.GetSession().GetExpiresAt(fosite.AccessToken),
	})
}

func (s *fositeStorage) GetAccessTokenSession(ctx context.Context, signature string, sess fosite.Session) (fosite.Requester, error) {
	row, err := s.store.GetAccessToken(ctx, signature)
	if err != nil {
		return nil, fosite.ErrNotFound
	}
	return s.requestFrom(row.ClientID, row.Scope, row.ActorID, time.Now(), sess)
}

func (s *fositeStorage) DeleteAccessTokenSession(ctx context.Context, signature string) error {
	err := s.store.DeleteAccessToken(ctx, signature)
	if isNotFoundErr(err) {
		return nil
	}
	return err
}

// --- Refresh token storage (see type doc: not exercised by our refresh
// endpoint, present for oauth2.CoreStorage compliance). ---

func (s *fositeStorage) CreateRefreshTokenSession(ctx context.Context, signature string, _ string, request fosite.Requester) error {
	sess, _ := request.GetSession().(*session)
	actorID := ""
	if sess != nil {
		actorID = sess.ActorID
	}
	now := time.Now().UTC()
	return s.store.PutRefreshToken(ctx, &storage.OAuth2RefreshToken{
		Token:     signature,
		ClientID:  request.GetClient().GetID(),
		ActorID:   actorID,
		Scope:     joinScope(request.GetGrantedScopes()),
		FamilyID:  signature,
		IssuedAt:  now,
		ExpiresAt: request.GetSession().GetExpiresAt(fosite.RefreshToken),
	})
}

func (s *fositeStorage) GetRefreshTokenSession(ctx context.Context, signature string, sess fosite.Session) (fosite.Requester, error) {
	row, err := s.store.GetRefreshToken(ctx, signature)
	if err != nil {
		return nil, fosite.ErrNotFound
	}
	if row.Used {
		return nil, fosite.ErrInactiveToken
	}
	return s.requestFrom(row.ClientID, row.Scope, row.ActorID, row.IssuedAt, sess)
}

func (s *fositeStorage) DeleteRefreshTokenSession(ctx context.Context, signature string) error {
	err := s.store.DeleteRefreshToken(ctx, signature)
	if isNotFoundErr(err) {
		return nil
	}
	return err
}

func (s *fositeStorage) RotateRefreshToken(ctx context.Context, _ string, signature string) error {
	return s.DeleteRefreshTokenSession(ctx, signature)
}

// --- PKCE storage ---
//
// PKCE challenges are carried on the same OAuth2AuthCode row (it already
// has CodeChallenge/CodeChallengeMethod columns per spec §4.8), so these
// three methods are thin wrappers around the authorize-code row rather
// than a second table.

func (s *fositeStorage) CreatePKCERequestSession(ctx context.Context, signature string, request fosite.Requester) error {
	return s.CreateAuthorizeCodeSession(ctx, signature, request)
}

func (s *fositeStorage) GetPKCERequestSession(ctx context.Context, signature string, sess fosite.Session) (fosite.Requester, error) {
	return s.GetAuthorizeCodeSession(ctx, signature, sess)
}

func (s *fositeStorage) DeletePKCERequestSession(_ context.Context, _ string) error {
	// The authorize code itself is invalidated by
	// InvalidateAuthorizeCodeSession; nothing extra to clean up since PKCE
	// data lives on that same row.
	return nil
}

func isNotFoundErr(err error) bool {
	var e *awerrors.Error
	return awerrors.As(err, &e) && e.Kind == awerrors.KindNotFound
}
