package auth

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the client reads. The backend signs tokens; the
// client never verifies them and only uses them to fill in identity fields and
// to notice expiry early.
type Claims struct {
	jwt.RegisteredClaims
	TenantID any      `json:"tenant_id"`
	UserID   any      `json:"user_id"`
	Scopes   []string `json:"scope"`
}

// ParseClaims decodes the claims of a JWT without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}
	return claims, nil
}

// Tenant returns the tenant claim as a string.
func (c *Claims) Tenant() string {
	return claimString(c.TenantID)
}

// User returns the user claim, falling back to the subject.
func (c *Claims) User() string {
	if u := claimString(c.UserID); u != "" {
		return u
	}
	return c.Subject
}

func claimString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
