package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

const principalKey = "principal"

// Claims are the bearer token claims. The subject is the user ID.
type Claims struct {
	Role     string `json:"role"`
	ParentID string `json:"parent_id,omitempty"`
	jwt.StandardClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// Principal parses and validates a raw token.
func (a *Authenticator) Principal(raw string) (model.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return model.Principal{}, err
	}
	if claims.Subject == "" {
		return model.Principal{}, fmt.Errorf("token has no subject")
	}

	role := model.Role(claims.Role)
	switch role {
	case model.RoleDependent, model.RoleGuardian, model.RoleAdmin:
	default:
		return model.Principal{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return model.Principal{UserID: claims.Subject, Role: role, ParentID: claims.ParentID}, nil
}

// Sign issues a token for p. Used by the CLI and tests.
func (a *Authenticator) Sign(p model.Principal, expiresAt int64) (string, error) {
	claims := Claims{
		Role:     string(p.Role),
		ParentID: p.ParentID,
		StandardClaims: jwt.StandardClaims{
			Subject:   p.UserID,
			ExpiresAt: expiresAt,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// middleware reads the bearer token from the Authorization header, or from
// the access_token query parameter on websocket upgrades.
func (a *Authenticator) middleware(c *fiber.Ctx) error {
	raw := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if raw == "" {
		raw = c.Query("access_token")
	}
	if raw == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	p, err := a.Principal(raw)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid bearer token")
	}
	c.Locals(principalKey, p)
	return c.Next()
}

func principal(c *fiber.Ctx) model.Principal {
	p, _ := c.Locals(principalKey).(model.Principal)
	return p
}
