package tenant

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/repository"
)

// DigestAPIKey hashes a clear API key the way the sites table stores it.
func DigestAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ErrorWriter lets the tenant middleware reuse the API layer's error
// envelope without importing it.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// Authenticate resolves the tenant principal from the Authorization bearer
// API key. Requests without a resolvable key are rejected before any handler
// runs. There is no anonymous path into tenant data.
func Authenticate(sites repository.SiteRepository, writeErr ErrorWriter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearerToken(r)
			if key == "" {
				writeErr(w, http.StatusUnauthorized, domain.CodeUnauthenticated, "missing API key")
				return
			}

			site, err := sites.SiteByAPIKeyDigest(r.Context(), DigestAPIKey(key))
			if errors.Is(err, domain.ErrNotFound) {
				writeErr(w, http.StatusUnauthorized, domain.CodeUnauthenticated, "unknown API key")
				return
			}
			if err != nil {
				logger.Error("site lookup failed", zap.Error(err))
				writeErr(w, http.StatusInternalServerError, domain.CodeStorageUnavailable, "site lookup failed")
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{SiteID: site.SiteID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthenticateAdmin accepts either a valid session cookie or the platform
// admin key header. Passing admin auth does NOT grant a tenant scope: the
// admin principal carries no site, and handlers bind the target site named
// in the URL via BindSite.
func AuthenticateAdmin(adminKey string, signer *SessionSigner, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !adminRequestAuthorized(r, adminKey, signer) {
				writeErr(w, http.StatusUnauthorized, domain.CodeUnauthorized, domain.ErrUnauthorized.Error())
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{Admin: true})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func adminRequestAuthorized(r *http.Request, adminKey string, signer *SessionSigner) bool {
	if adminKey != "" {
		if got := r.Header.Get("X-Admin-Key"); got != "" &&
			subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) == 1 {
			return true
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return signer.Verify(cookie.Value)
	}
	return false
}

// BindSite rebinds the effective tenant for an admin request. Only admin
// principals may retarget; a site principal keeps its own scope no matter
// what the request names.
func BindSite(ctx context.Context, siteID uuid.UUID) (context.Context, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok || !p.Admin {
		return ctx, domain.ErrUnauthorized
	}
	return WithPrincipal(ctx, Principal{SiteID: siteID, Admin: true}), nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
