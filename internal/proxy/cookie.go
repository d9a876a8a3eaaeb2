package proxy

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/ids"
)

const sessionTTL = 12 * time.Hour

func cookieName(agentID ids.AgentId) string { return "auth_" + string(agentID) }
func swCookieName(agentID ids.AgentId) string { return "sw_installed_" + string(agentID) }

// signSessionToken issues the signed `auth_<agent_id>` cookie value: a
// compact HS256 JWT whose subject is the agent id it authenticates,
// scoped by its exp claim to sessionTTL.
func signSessionToken(signingKey []byte, agentID ids.AgentId) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   string(agentID),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", errors.Internal("", err, "signing session token")
	}
	return signed, nil
}

// verifySessionToken checks the cookie's signature and expiry, then
// confirms its subject matches agentID: a cookie signed for one agent
// must never authenticate a request to another agent's prefix.
func verifySessionToken(signingKey []byte, tokenString string, agentID ids.AgentId) error {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil || !token.Valid {
		return errors.Auth("invalid or expired session token")
	}
	if claims.Subject != string(agentID) {
		return errors.Auth("session token is not valid for this agent")
	}
	return nil
}
