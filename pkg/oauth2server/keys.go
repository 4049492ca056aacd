package oauth2server

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// loadSigningKey reads a PEM-encoded private key (PKCS1, PKCS8, or
// SEC1/EC) from path, grounded on the teacher's
// pkg/authserver/server/crypto.LoadSigningKey test coverage (PKCS1,
// PKCS8, EC SEC1, EC PKCS8 all accepted). Used for the JWT access-token
// strategy (spec §3 domain stack: go-jose signing keys "when run in
// JWT-access-token mode").
// LoadSigningKey is the exported form of loadSigningKey, used by the
// composition root to load the JWT access-token signing key referenced
// by Params.SigningKey before constructing a Server.
func LoadSigningKey(path string) (crypto.Signer, error) {
	return loadSigningKey(path)
}

func loadSigningKey(path string) (crypto.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key in %s: %w", path, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("signing key in %s is not a crypto.Signer", path)
	}
	return signer, nil
}

// jwksFromSigningKey builds the public JWKS document this server
// advertises at /.well-known/jwks.json so peers can verify JWT access
// tokens without a live introspection call.
func jwksFromSigningKey(keyID, alg string, signer crypto.Signer) jose.JSONWebKeySet {
	var pub crypto.PublicKey
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		pub = &k.PublicKey
	case *ecdsa.PrivateKey:
		pub = &k.PublicKey
	default:
		pub = signer.Public()
	}
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: pub, KeyID: keyID, Algorithm: alg, Use: "sig"},
		},
	}
}
