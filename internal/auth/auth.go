// Package auth issues and verifies the sandbox's bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in tokens
const (
	RoleLecturer = "lecturer"
	RoleStudent  = "student"
)

const claimsKey = "claims"

// Claims identifies the caller of a sandbox request
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens with one shared secret
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an issuer; now defaults to time.Now
func NewIssuer(secret string, now func() time.Time) (*Issuer, error) {
	if len(secret) < 8 {
		return nil, ErrWeakSecret
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: []byte(secret), now: now}, nil
}

// Issue mints a token for userID acting as role, valid for ttl
func (i *Issuer) Issue(userID int64, role string, ttl time.Duration) (string, error) {
	if role != RoleLecturer && role != RoleStudent {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenString and returns its claims
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Role != RoleLecturer && claims.Role != RoleStudent {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", ErrMalformedToken
	}
	return token, nil
}

// Middleware rejects requests without a valid bearer token for one of roles
// Failures answer {"error": ...} with 401, or 403 when the role does not match.
func Middleware(i *Issuer, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": capitalize(err.Error())})
			return
		}

		claims, err := i.Parse(tokenString)
		if err != nil {
			log.Printf("auth: token rejected: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You do not have permission to perform this action"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// FromContext returns the claims stored by Middleware
func FromContext(c *gin.Context) (*Claims, error) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, ErrMissingToken
	}
	claims, ok := v.(*Claims)
	if !ok {
		return nil, errors.New("auth: unexpected claims type in context")
	}
	return claims, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
