package oauth2server

import (
	"time"

	"github.com/ory/fosite"
)

// session is the fosite.Session carried by every authorize/token request
// this server issues. It binds the actor id (the fosite "subject") and
// the client id to the token so TokenResolver can answer pkg/auth's
// lookups without a second storage round trip.
type session struct {
	ActorID   string
	ClientID  string
	Scope     string
	ExpiresAt map[fosite.TokenType]time.Time
}

func newSession(actorID, clientID, scope string) *session {
	return &session{
		ActorID:   actorID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: make(map[fosite.TokenType]time.Time),
	}
}

func (s *session) SetExpiresAt(key fosite.TokenType, exp time.Time) { s.ExpiresAt[key] = exp }
func (s *session) GetExpiresAt(key fosite.TokenType) time.Time      { return s.ExpiresAt[key] }
func (*session) GetUsername() string                               { return "" }
func (s *session) GetSubject() string                               { return s.ActorID }

func (s *session) Clone() fosite.Session {
	clone := &session{
		ActorID:   s.ActorID,
		ClientID:  s.ClientID,
		Scope:     s.Scope,
		ExpiresAt: make(map[fosite.TokenType]time.Time, len(s.ExpiresAt)),
	}
	for k, v := range s.ExpiresAt {
		clone.ExpiresAt[k] = v
	}
	return clone
}
