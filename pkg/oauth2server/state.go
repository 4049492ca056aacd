package oauth2server

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// authorizeState carries the original MCP/client authorize request across
// the redirect to an upstream IdP and back (spec §4.8: "a state parameter
// that encrypts and carries {client_id, mcp_state, redirect_uri,
// email_hint, provider, trust_type?}"). It is JWE-encrypted (not merely
// signed) so a peer cannot read the embedded redirect_uri/client_id off
// the wire, using go-jose — already pulled in for this server's own JWKS
// — rather than a second crypto library for the same "authenticated
// encrypted blob" concern.
type authorizeState struct {
	ClientID            string `json:"client_id"`
	MCPState            string `json:"mcp_state"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	EmailHint           string `json:"email_hint,omitempty"`
	Provider            string `json:"provider"`
	TrustType           string `json:"trust_type,omitempty"`
}

// deriveStateKey turns the server's global HMAC secret into a 32-byte
// A256GCM content-encryption key, so no separate key needs provisioning
// just for this transient, short-lived blob.
func deriveStateKey(globalSecret []byte) []byte {
	sum := sha256.Sum256(append([]byte("actingweb-oauth2-state-v1:"), globalSecret...))
	return sum[:]
}

func (s *Server) encryptState(st authorizeState) (string, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("oauth2server: marshaling authorize state: %w", err)
	}
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.stateKey}, nil)
	if err != nil {
		return "", fmt.Errorf("oauth2server: building state encrypter: %w", err)
	}
	obj, err := enc.Encrypt(raw)
	if err != nil {
		return "", fmt.Errorf("oauth2server: encrypting authorize state: %w", err)
	}
	return obj.CompactSerialize()
}

func (s *Server) decryptState(token string) (*authorizeState, error) {
	obj, err := jose.ParseEncrypted(token, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("oauth2server: parsing authorize state: %w", err)
	}
	raw, err := obj.Decrypt(s.stateKey)
	if err != nil {
		return nil, fmt.Errorf("oauth2server: decrypting authorize state: %w", err)
	}
	var st authorizeState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("oauth2server: unmarshaling authorize state: %w", err)
	}
	return &st, nil
}
