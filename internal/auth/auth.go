// Package auth gates the RPC boundary in front of a Document: it never
// reaches into CRDT apply logic itself, only decides whether a caller's
// token authorizes the operation it is about to send.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Permission string

const (
	PermissionReadOnly  Permission = "read"
	PermissionReadWrite Permission = "write"
	PermissionAdmin     Permission = "admin"
)

// Role is a closed set of RPC-facing roles, each mapped to a fixed
// permission set. Viewer/Editor/Automation/Admin, matching the task
// runner's role-scoped dispatch.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleEditor     Role = "editor"
	RoleAutomation Role = "automation"
	RoleAdmin      Role = "admin"
)

// Permissions returns the fixed permission set for a role. Automation
// carries read/write but not admin, since background task runners apply
// operations but never manage other principals' tokens.
func (r Role) Permissions() []Permission {
	switch r {
	case RoleViewer:
		return []Permission{PermissionReadOnly}
	case RoleEditor:
		return []Permission{PermissionReadOnly, PermissionReadWrite}
	case RoleAutomation:
		return []Permission{PermissionReadOnly, PermissionReadWrite}
	case RoleAdmin:
		return []Permission{PermissionReadOnly, PermissionReadWrite, PermissionAdmin}
	default:
		return nil
	}
}

type Claims struct {
	UserID      string       `json:"user_id"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

func NewTokenManager(secretKey string) *TokenManager {
	return &TokenManager{
		secretKey:     []byte(secretKey),
		tokenDuration: 1 * time.Hour,
	}
}

// GenerateToken creates a new JWT token binding userID to role, with the
// role's fixed permission set attached for fast HasPermission checks
// without a second role lookup at validation time.
func (tm *TokenManager) GenerateToken(userID string, role Role) (string, error) {
	claims := Claims{
		UserID:      userID,
		Role:        role,
		Permissions: role.Permissions(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ValidateToken verifies and parses a JWT token
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return tm.secretKey, nil
		},
	)

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// RefreshToken generates a new token with extended expiration
func (tm *TokenManager) RefreshToken(oldToken string) (string, error) {
	claims, err := tm.ValidateToken(oldToken)
	if err != nil {
		return "", err
	}

	return tm.GenerateToken(claims.UserID, claims.Role)
}

// HasPermission checks if claims contain required permission
func (c *Claims) HasPermission(required Permission) bool {
	for _, p := range c.Permissions {
		if p == required || p == PermissionAdmin {
			return true
		}
	}
	return false
}

// Middleware for HTTP authentication
type AuthMiddleware struct {
	tokenManager *TokenManager
}

func NewAuthMiddleware(tokenManager *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokenManager: tokenManager}
}

type contextKey string

const claimsKey contextKey = "claims"

func (am *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)
			return
		}

		tokenString := authHeader[7:]
		claims, err := am.tokenManager.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission wraps Authenticate, additionally rejecting callers
// whose claims lack required with 403.
func (am *AuthMiddleware) RequirePermission(required Permission, next http.Handler) http.Handler {
	return am.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok || !claims.HasPermission(required) {
			http.Error(w, "insufficient permission", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
