package relay

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrNotConfigured      = errors.New("relay secret not configured")
	ErrInvalidCredentials = errors.New("invalid relay secret")
)

// Gate verifies the relay shared secret. A gate with an empty secret rejects
// every attempt, so a server that never loaded RELAY_PASSWORD cannot be
// unlocked.
type Gate struct {
	secret string
}

func NewGate(secret string) *Gate {
	return &Gate{secret: secret}
}

func (g *Gate) Configured() bool {
	return g.secret != ""
}

// Verify checks the presented secret in constant time.
func (g *Gate) Verify(secret string) error {
	if g.secret == "" {
		return ErrNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(g.secret)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
