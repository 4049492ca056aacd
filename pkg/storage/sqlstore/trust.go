package sqlstore

import (
	"context"
	"database/sql"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) CreateTrust(ctx context.Context, t *storage.Trust) error {
	return s.UpdateTrust(ctx, t)
}

func scanTrust(row interface{ Scan(...any) error }, t *storage.Trust) error {
	var secret, verificationToken sql.NullString
	var capabilitiesFetchedAt, lastConnectedAt sql.NullTime
	err := row.Scan(
		&t.BaseURI, &t.PeerType, &t.Relationship, &t.Description, &secret, &t.Approved, &t.PeerApproved,
		&t.Verified, &verificationToken, &t.EstablishedVia, &t.PeerIdentifier, &t.AWSupported,
		&t.AWVersion, &capabilitiesFetchedAt, &lastConnectedAt, &t.LastConnectedVia,
		&t.OAuthClientID, &t.ClientName, &t.ClientVersion, &t.ClientPlatform,
	)
	if err != nil {
		return err
	}
	t.Secret = secret.String
	t.VerificationToken = verificationToken.String
	t.CapabilitiesFetchedAt = capabilitiesFetchedAt.Time
	t.LastConnectedAt = lastConnectedAt.Time
	return nil
}

const trustSelectColumns = `base_uri, peer_type, relationship, description, secret, approved, peer_approved,
	verified, verification_token, established_via, peer_identifier, aw_supported,
	aw_version, capabilities_fetched_at, last_connected_at, last_connected_via,
	oauth_client_id, client_name, client_version, client_platform`

func (s *Store) GetTrust(ctx context.Context, actorID, peerID string) (*storage.Trust, error) {
	t := &storage.Trust{ActorID: actorID, PeerID: peerID}
	row := s.conn().QueryRowContext(ctx,
		`SELECT `+trustSelectColumns+` FROM trusts WHERE actor_id = ? AND peer_id = ?`, actorID, peerID)
	if err := scanTrust(row, t); err != nil {
		return nil, mapNoRows(err)
	}
	return t, nil
}

func (s *Store) GetTrustBySecret(ctx context.Context, secret string) (*storage.Trust, error) {
	t := &storage.Trust{}
	row := s.conn().QueryRowContext(ctx,
		`SELECT actor_id, peer_id, `+trustSelectColumns+` FROM trusts WHERE secret = ?`, secret)
	var secretCol sql.NullString
	var verificationToken sql.NullString
	var capabilitiesFetchedAt, lastConnectedAt sql.NullTime
	err := row.Scan(
		&t.ActorID, &t.PeerID,
		&t.BaseURI, &t.PeerType, &t.Relationship, &t.Description, &secretCol, &t.Approved, &t.PeerApproved,
		&t.Verified, &verificationToken, &t.EstablishedVia, &t.PeerIdentifier, &t.AWSupported,
		&t.AWVersion, &capabilitiesFetchedAt, &lastConnectedAt, &t.LastConnectedVia,
		&t.OAuthClientID, &t.ClientName, &t.ClientVersion, &t.ClientPlatform,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	t.Secret = secretCol.String
	t.VerificationToken = verificationToken.String
	t.CapabilitiesFetchedAt = capabilitiesFetchedAt.Time
	t.LastConnectedAt = lastConnectedAt.Time
	return t, nil
}

func (s *Store) UpdateTrust(ctx context.Context, t *storage.Trust) error {
	var secret any
	if t.Secret != "" {
		secret = t.Secret
	}
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO trusts (actor_id, peer_id, base_uri, peer_type, relationship, description, secret, approved,
			peer_approved, verified, verification_token, established_via, peer_identifier, aw_supported,
			aw_version, capabilities_fetched_at, last_connected_at, last_connected_via, oauth_client_id,
			client_name, client_version, client_platform)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (actor_id, peer_id) DO UPDATE SET
			base_uri = excluded.base_uri, peer_type = excluded.peer_type,
			relationship = excluded.relationship, description = excluded.description, secret = excluded.secret,
			approved = excluded.approved, peer_approved = excluded.peer_approved,
			verified = excluded.verified, verification_token = excluded.verification_token,
			established_via = excluded.established_via, peer_identifier = excluded.peer_identifier,
			aw_supported = excluded.aw_supported, aw_version = excluded.aw_version,
			capabilities_fetched_at = excluded.capabilities_fetched_at,
			last_connected_at = excluded.last_connected_at, last_connected_via = excluded.last_connected_via,
			oauth_client_id = excluded.oauth_client_id, client_name = excluded.client_name,
			client_version = excluded.client_version, client_platform = excluded.client_platform`,
		t.ActorID, t.PeerID, t.BaseURI, t.PeerType, t.Relationship, t.Description, secret, t.Approved, t.PeerApproved,
		t.Verified, t.VerificationToken, t.EstablishedVia, t.PeerIdentifier, t.AWSupported, t.AWVersion,
		t.CapabilitiesFetchedAt, t.LastConnectedAt, t.LastConnectedVia, t.OAuthClientID, t.ClientName,
		t.ClientVersion, t.ClientPlatform)
	return err
}

func (s *Store) DeleteTrust(ctx context.Context, actorID, peerID string) error {
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM trusts WHERE actor_id = ? AND peer_id = ?`, actorID, peerID)
	return err
}

func (s *Store) ListTrusts(ctx context.Context, actorID string) ([]*storage.Trust, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT peer_id, `+trustSelectColumns+` FROM trusts WHERE actor_id = ?`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Trust
	for rows.Next() {
		t := &storage.Trust{ActorID: actorID}
		var secret, verificationToken sql.NullString
		var capabilitiesFetchedAt, lastConnectedAt sql.NullTime
		if err := rows.Scan(
			&t.PeerID, &t.BaseURI, &t.PeerType, &t.Relationship, &t.Description, &secret, &t.Approved, &t.PeerApproved,
			&t.Verified, &verificationToken, &t.EstablishedVia, &t.PeerIdentifier, &t.AWSupported,
			&t.AWVersion, &capabilitiesFetchedAt, &lastConnectedAt, &t.LastConnectedVia,
			&t.OAuthClientID, &t.ClientName, &t.ClientVersion, &t.ClientPlatform,
		); err != nil {
			return nil, err
		}
		t.Secret = secret.String
		t.VerificationToken = verificationToken.String
		t.CapabilitiesFetchedAt = capabilitiesFetchedAt.Time
		t.LastConnectedAt = lastConnectedAt.Time
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListTrustsByRelationship(ctx context.Context, actorID, relationship string) ([]*storage.Trust, error) {
	all, err := s.ListTrusts(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Relationship == relationship {
			out = append(out, t)
		}
	}
	return out, nil
}
