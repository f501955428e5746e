// Package auth is the identity gate: it resolves bearer credentials to an
// actor identity. The messaging core never validates credentials anywhere
// else.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"teamchat/internal/apperror"
	"teamchat/internal/model"
)

const actorContextKey = "teamchat.actor"

// Claims are the token claims the gate cares about.
type Claims struct {
	jwt.RegisteredClaims
	EmployeeID string `json:"employee_id"`
	RoleID     string `json:"role_id"`
}

// Gate verifies bearer tokens and produces actor identities.
type Gate struct {
	secret []byte
}

func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Verify parses a raw token and returns the actor it identifies.
func (g *Gate) Verify(tokenString string) (model.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return model.Actor{}, fmt.Errorf("%w: invalid token", apperror.ErrUnauthorized)
	}
	if claims.EmployeeID == "" {
		return model.Actor{}, fmt.Errorf("%w: token carries no employee id", apperror.ErrUnauthorized)
	}

	return model.Actor{EmployeeID: claims.EmployeeID, RoleID: claims.RoleID}, nil
}

// Issue signs a token for an actor. Production tokens come from the auth
// service; this exists for tooling and tests.
func (g *Gate) Issue(actor model.Actor, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.EmployeeID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		EmployeeID: actor.EmployeeID,
		RoleID:     actor.RoleID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// BearerToken extracts the credential from an Authorization header or, for
// socket upgrades where headers are awkward for browser clients, the token
// query parameter.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates the request and stores the actor in the gin
// context.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		actor, err := g.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// ActorFrom returns the authenticated actor stored by Middleware.
func ActorFrom(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}
