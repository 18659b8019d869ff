package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// GUARD CHAIN - Authenticate -> RequireRole -> RequirePermission
// =============================================================================
//
// Routes compose the guards explicitly, in that order. Authenticate puts
// the verified Claims on the request context; the later guards only read
// them and answer 403 when a check fails.

// Roles issued by the identity service.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleTeller  = "teller"
)

// Permissions checked by the routes. RoleAdmin holds all of them.
const (
	PermTransactionCreate  = "transaction:create"
	PermTransactionProcess = "transaction:process"
	PermTransactionRead    = "transaction:read"
	PermReportRead         = "report:read"
	PermReportExport       = "report:export"
	PermSnapshotGenerate   = "snapshot:generate"
	PermSnapshotFinalize   = "snapshot:finalize"
)

// Claims are the bearer token contents. Subject is the staff id.
type Claims struct {
	jwt.RegisteredClaims
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

func (c *Claims) can(perm string) bool {
	return c.Role == RoleAdmin || slices.Contains(c.Permissions, perm)
}

type claimsKey struct{}

// ClaimsFrom returns the claims set by Authenticate.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// actorID is the authenticated staff id, or "" outside Authenticate.
func actorID(r *http.Request) string {
	if c, ok := ClaimsFrom(r.Context()); ok {
		return c.Subject
	}
	return ""
}

// Auth verifies HS256 bearer tokens.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Authenticate rejects requests without a valid bearer token and records
// the caller's address for audit events.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required", nil)
			return
		}

		claims := &Claims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", err)
			return
		}
		if claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", errors.New("token has no subject"))
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = ledger.WithRequestIP(ctx, clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Sign issues a token; used by tooling and tests, never by the API itself.
func (a *Auth) Sign(staffID, role string, perms []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:        role,
		Permissions: perms,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// RequireRole admits only the listed roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := ClaimsFrom(r.Context())
			if !ok || !slices.Contains(roles, c.Role) {
				writeError(w, http.StatusForbidden, "Role not allowed", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission admits callers holding perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := ClaimsFrom(r.Context())
			if !ok || !c.can(perm) {
				writeError(w, http.StatusForbidden, "Missing permission "+perm, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the address chi's RealIP middleware resolved.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
