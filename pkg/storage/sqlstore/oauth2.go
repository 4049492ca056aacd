package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) CreateClient(ctx context.Context, c *storage.OAuth2Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return err
	}
	grantTypes, err := json.Marshal(c.GrantTypes)
	if err != nil {
		return err
	}
	_, err = s.conn().ExecContext(ctx,
		`INSERT INTO oauth2_clients (client_id, client_secret_hash, client_name, redirect_uris, grant_types, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.ClientSecretHash, c.ClientName, redirectURIs, grantTypes, c.CreatedAt)
	return err
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.OAuth2Client, error) {
	c := &storage.OAuth2Client{ClientID: clientID}
	var redirectURIs, grantTypes []byte
	err := s.conn().QueryRowContext(ctx,
		`SELECT client_secret_hash, client_name, redirect_uris, grant_types, created_at
		 FROM oauth2_clients WHERE client_id = ?`, clientID,
	).Scan(&c.ClientSecretHash, &c.ClientName, &redirectURIs, &grantTypes, &c.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if err := json.Unmarshal(redirectURIs, &c.RedirectURIs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(grantTypes, &c.GrantTypes); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM oauth2_clients WHERE client_id = ?`, clientID)
	return err
}

func (s *Store) PutAuthCode(ctx context.Context, c *storage.OAuth2AuthCode) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO oauth2_auth_codes (code, client_id, actor_id, redirect_uri, scope,
			code_challenge, code_challenge_method, expires_at, used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET used = excluded.used`,
		c.Code, c.ClientID, c.ActorID, c.RedirectURI, c.Scope,
		c.CodeChallenge, c.CodeChallengeMethod, c.ExpiresAt, c.Used)
	return err
}

func (s *Store) GetAuthCode(ctx context.Context, code string) (*storage.OAuth2AuthCode, error) {
	c := &storage.OAuth2AuthCode{Code: code}
	err := s.conn().QueryRowContext(ctx,
		`SELECT client_id, actor_id, redirect_uri, scope, code_challenge, code_challenge_method, expires_at, used
		 FROM oauth2_auth_codes WHERE code = ?`, code,
	).Scan(&c.ClientID, &c.ActorID, &c.RedirectURI, &c.Scope, &c.CodeChallenge, &c.CodeChallengeMethod, &c.ExpiresAt, &c.Used)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return c, nil
}

func (s *Store) ConsumeAuthCode(ctx context.Context, code string) error {
	res, err := s.conn().ExecContext(ctx, `UPDATE oauth2_auth_codes SET used = 1 WHERE code = ?`, code)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) PutAccessToken(ctx context.Context, t *storage.OAuth2AccessToken) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO oauth2_access_tokens (token, client_id, actor_id, scope, expires_at) VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.ClientID, t.ActorID, t.Scope, t.ExpiresAt)
	return err
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.OAuth2AccessToken, error) {
	t := &storage.OAuth2AccessToken{Token: token}
	err := s.conn().QueryRowContext(ctx,
		`SELECT client_id, actor_id, scope, expires_at FROM oauth2_access_tokens WHERE token = ?`, token,
	).Scan(&t.ClientID, &t.ActorID, &t.Scope, &t.ExpiresAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return t, nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM oauth2_access_tokens WHERE token = ?`, token)
	return err
}

func (s *Store) DeleteAccessTokensForClient(ctx context.Context, clientID string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM oauth2_access_tokens WHERE client_id = ?`, clientID)
	return err
}

func (s *Store) PutRefreshToken(ctx context.Context, t *storage.OAuth2RefreshToken) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO oauth2_refresh_tokens (token, client_id, actor_id, scope, family_id, used,
			used_at, issued_at, expires_at, replaced_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Token, t.ClientID, t.ActorID, t.Scope, t.FamilyID, t.Used,
		sqlNullTime(t.UsedAt), t.IssuedAt, t.ExpiresAt, t.ReplacedBy)
	return err
}

func sqlNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.OAuth2RefreshToken, error) {
	t := &storage.OAuth2RefreshToken{Token: token}
	var usedAt sql.NullTime
	err := s.conn().QueryRowContext(ctx,
		`SELECT client_id, actor_id, scope, family_id, used, used_at, issued_at, expires_at, replaced_by
		 FROM oauth2_refresh_tokens WHERE token = ?`, token,
	).Scan(&t.ClientID, &t.ActorID, &t.Scope, &t.FamilyID, &t.Used, &usedAt, &t.IssuedAt, &t.ExpiresAt, &t.ReplacedBy)
	if err != nil {
		return nil, mapNoRows(err)
	}
	t.UsedAt = usedAt.Time
	return t, nil
}

// MarkRefreshTokenUsedCAS flips Used false->true only if the token is
// still unused, the relational analogue of redisdoc's Lua CAS script.
func (s *Store) MarkRefreshTokenUsedCAS(ctx context.Context, token string, replacedBy string, usedAtUnix int64) error {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var used bool
	err = tx.QueryRowContext(ctx, `SELECT used FROM oauth2_refresh_tokens WHERE token = ?`, token).Scan(&used)
	if err != nil {
		return mapNoRows(err)
	}
	if used {
		return storage.ErrConflict
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE oauth2_refresh_tokens SET used = 1, used_at = ?, replaced_by = ? WHERE token = ?`,
		time.Unix(usedAtUnix, 0), replacedBy, token); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM oauth2_refresh_tokens WHERE token = ?`, token)
	return err
}

func (s *Store) DeleteRefreshTokensForClient(ctx context.Context, clientID string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM oauth2_refresh_tokens WHERE client_id = ?`, clientID)
	return err
}

func (s *Store) DeleteFamily(ctx context.Context, familyID string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM oauth2_refresh_tokens WHERE family_id = ?`, familyID)
	return err
}
